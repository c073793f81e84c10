package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dutch_scoreboard/internal/domain"
)

// версия схемы снапшота; payload без тега версии считается битым
const SchemaVersion = 2

var ErrCorrupt = errors.New("битый снапшот")

// сериализуемое представление сессии для хранилищ
type Snapshot struct {
	SchemaVersion int                 `json:"schema_version"`
	ID            string              `json:"id"`
	OwnerID       int64               `json:"owner_id,omitempty"`
	Players       []domain.Player     `json:"players"`
	RoundHistory  []domain.RoundEntry `json:"round_history"`
	ScoreLimit    int                 `json:"score_limit"`
	IsOver        bool                `json:"is_over"`
	CreatedAt     time.Time           `json:"created_at"`
	LastUpdated   time.Time           `json:"last_updated"`
}

// аварийная запись: сырой снапшот + маркер, без валидации при записи
type EmergencyEnvelope struct {
	Emergency bool      `json:"emergency"`
	SavedAt   time.Time `json:"saved_at"`
	Snapshot  Snapshot  `json:"snapshot"`
}

func FromSession(s *domain.Session) Snapshot {
	c := s.Clone()
	return Snapshot{
		SchemaVersion: SchemaVersion,
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		Players:       c.Players,
		RoundHistory:  c.RoundHistory,
		ScoreLimit:    c.ScoreLimit,
		IsOver:        c.IsOver,
		CreatedAt:     c.CreatedAt,
		LastUpdated:   c.LastUpdated,
	}
}

func Encode(s *domain.Session) ([]byte, error) {
	return json.Marshal(FromSession(s))
}

// Decode разбирает сырой снапшот и перепроверяет инварианты леджера,
// чтобы координатор загрузки никогда не поднял несогласованное состояние
// любое нарушение = ErrCorrupt, частично-валидных сессий не бывает
func Decode(raw []byte) (*domain.Session, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := Validate(&snap); err != nil {
		return nil, err
	}
	return ToSession(&snap), nil
}

// ToSession собирает доменную сессию из уже провалидированного снапшота
func ToSession(snap *Snapshot) *domain.Session {
	return &domain.Session{
		ID:           snap.ID,
		OwnerID:      snap.OwnerID,
		Players:      snap.Players,
		RoundHistory: snap.RoundHistory,
		ScoreLimit:   snap.ScoreLimit,
		IsOver:       snap.IsOver,
		CreatedAt:    snap.CreatedAt,
		LastUpdated:  snap.LastUpdated,
	}
}

// проверка формы и инвариантов 1-3 восстановленного снапшота
func Validate(snap *Snapshot) error {
	if snap.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: неизвестная версия схемы %d", ErrCorrupt, snap.SchemaVersion)
	}
	if snap.ID == "" {
		return fmt.Errorf("%w: пустой id сессии", ErrCorrupt)
	}
	if len(snap.Players) == 0 {
		return fmt.Errorf("%w: сессия без игроков", ErrCorrupt)
	}
	if snap.ScoreLimit <= 0 {
		return fmt.Errorf("%w: лимит очков %d", ErrCorrupt, snap.ScoreLimit)
	}
	if snap.CreatedAt.IsZero() || snap.LastUpdated.IsZero() {
		return fmt.Errorf("%w: отсутствуют отметки времени", ErrCorrupt)
	}

	rounds := len(snap.RoundHistory)
	for i, e := range snap.RoundHistory {
		// инвариант 1: длина scores каждой записи равна числу игроков
		if len(e.Scores) != len(snap.Players) {
			return fmt.Errorf("%w: запись %d содержит %d очков на %d игроков", ErrCorrupt, i, len(e.Scores), len(snap.Players))
		}
	}
	seen := make(map[string]bool, len(snap.Players))
	for _, p := range snap.Players {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("%w: игрок без id или имени", ErrCorrupt)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: дублирующийся id игрока %s", ErrCorrupt, p.ID)
		}
		seen[p.ID] = true
		// инвариант 2: у всех игроков одинаковое число раундов
		if len(p.Rounds) != rounds {
			return fmt.Errorf("%w: у игрока %s %d раундов при истории в %d", ErrCorrupt, p.Name, len(p.Rounds), rounds)
		}
		// инвариант 3: кэшированная сумма равна сумме раундов
		sum := 0
		for _, r := range p.Rounds {
			sum += r.Score
		}
		if p.TotalScore != sum {
			return fmt.Errorf("%w: сумма игрока %s %d != %d", ErrCorrupt, p.Name, p.TotalScore, sum)
		}
	}
	return nil
}
