package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// структурированное хранилище сессий: вставка, выборка по владельцу
// с сортировкой по last_updated, транзакционная замена
type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Replace заменяет сессию владельца в одной транзакции:
// удаляет прежнюю запись и вставляет новую
func (r *SessionRepository) Replace(ctx context.Context, sessionID string, ownerID int64, raw []byte, lastUpdated time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE owner_id = $1`, ownerID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, owner_id, snapshot, last_updated)
		VALUES ($1, $2, $3, $4)
	`, sessionID, ownerID, raw, lastUpdated); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Latest возвращает самый свежий снапшот владельца (nil, "", nil если нет)
// ownerID = 0 означает выборку без привязки к владельцу
func (r *SessionRepository) Latest(ctx context.Context, ownerID int64) ([]byte, string, error) {
	query := `
		SELECT id, snapshot FROM sessions
		WHERE owner_id = $1
		ORDER BY last_updated DESC
		LIMIT 1
	`
	args := []interface{}{ownerID}
	if ownerID == 0 {
		query = `SELECT id, snapshot FROM sessions ORDER BY last_updated DESC LIMIT 1`
		args = nil
	}

	var id string
	var raw []byte
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id, &raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", err
	}
	return raw, id, nil
}

// удаляет конкретную запись (например, битый снапшот)
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// удаляет все сессии владельца (рестарт / финализация)
func (r *SessionRepository) DeleteByOwner(ctx context.Context, ownerID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE owner_id = $1`, ownerID)
	return err
}

// DeleteOlderThan выметает залежавшиеся сессии; возвращает число удаленных
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE last_updated < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
