package domain

import "time"

// итог одного игрока в завершенной партии
type HistoryPlayer struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	IsDutch bool   `json:"is_dutch"` // объявлял ли "дач" хотя бы раз за партию
}

// завершенная партия в архиве
type HistoryEntry struct {
	ID         string          `json:"id"`
	OwnerID    int64           `json:"owner_id,omitempty"`
	Date       time.Time       `json:"date"`
	RoundCount int             `json:"round_count"`
	Players    []HistoryPlayer `json:"players"`
	Winner     string          `json:"winner"` // имя игрока с минимальной суммой (меньше = лучше)
	DurationS  int64           `json:"duration_s"`
	Signature  string          `json:"-"` // структурная подпись для дедупликации
}
