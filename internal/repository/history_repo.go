package repository

import (
	"context"
	"encoding/json"

	"dutch_scoreboard/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// архив завершенных партий: только добавление, дубликаты отбрасываются
type HistoryRepository struct {
	db *pgxpool.Pool
}

func NewHistoryRepository(db *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append добавляет запись в архив; повторная финализация той же партии
// упирается в уникальную подпись и возвращает false
func (r *HistoryRepository) Append(ctx context.Context, e *domain.HistoryEntry) (bool, error) {
	players, err := json.Marshal(e.Players)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO history (id, owner_id, date, round_count, players, winner, duration_s, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING
	`, e.ID, e.OwnerID, e.Date, e.RoundCount, players, e.Winner, e.DurationS, e.Signature)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// список завершенных партий владельца, свежие первыми
func (r *HistoryRepository) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]domain.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, date, round_count, players, winner, duration_s
		FROM history
		WHERE owner_id = $1
		ORDER BY date DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var players []byte
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Date, &e.RoundCount, &players, &e.Winner, &e.DurationS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(players, &e.Players); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// удаляет запись архива по id (только в рамках владельца)
func (r *HistoryRepository) Delete(ctx context.Context, ownerID int64, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM history WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return err
}
