package db

import (
	"context"
	"time"

	"dutch_scoreboard/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect открывает пул соединений к Postgres и проверяет его
func Connect(databaseURL string) *pgxpool.Pool {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("invalid DATABASE_URL", "error", err)
	}
	cfg.MaxConns = 10

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create pg pool", "error", err)
	}
	// недоступный postgres не фатален: селектор бэкендов переключит
	// запись на key-value, а пул сам переподключится когда база вернется
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres unreachable at startup, continuing degraded", "error", err)
	}
	return pool
}

// EnsureSchema создает таблицы, если их еще нет
// приложение - единственный писатель, поэтому миграции на старте достаточно
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id           UUID PRIMARY KEY,
			owner_id     BIGINT NOT NULL DEFAULT 0,
			snapshot     JSONB NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_owner_updated_idx
			ON sessions (owner_id, last_updated DESC);

		CREATE TABLE IF NOT EXISTS history (
			id          UUID PRIMARY KEY,
			owner_id    BIGINT NOT NULL DEFAULT 0,
			date        TIMESTAMPTZ NOT NULL,
			round_count INT NOT NULL,
			players     JSONB NOT NULL,
			winner      TEXT NOT NULL,
			duration_s  BIGINT NOT NULL,
			signature   TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS history_owner_date_idx
			ON history (owner_id, date DESC);
	`)
	return err
}
