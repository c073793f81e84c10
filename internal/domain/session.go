package domain

import "time"

// один раунд одного игрока
type Round struct {
	Score   int  `json:"score"`
	IsDutch bool `json:"is_dutch"` // этот игрок объявил "дач" в этом раунде
}

type Player struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Marker     string  `json:"marker,omitempty"` // косметика (аватар/цвет), ядро её не трогает
	TotalScore int     `json:"total_score"`      // производное: всегда сумма Rounds[].Score
	Rounds     []Round `json:"rounds"`
}

// одна запись истории раундов: очки всех игроков параллельно, позиция = игрок
type RoundEntry struct {
	Scores        []int  `json:"scores"`
	DutchPlayerID string `json:"dutch_player_id,omitempty"`
}

// состояние одной партии
type Session struct {
	ID           string       `json:"id"`
	OwnerID      int64        `json:"owner_id,omitempty"` // tg id владельца, 0 = без привязки
	Players      []Player     `json:"players"`
	RoundHistory []RoundEntry `json:"round_history"`
	ScoreLimit   int          `json:"score_limit"`
	IsOver       bool         `json:"is_over"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUpdated  time.Time    `json:"last_updated"`
}

// глубокая копия, чтобы вызывающий не мог сломать инварианты леджера
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = p
		out.Players[i].Rounds = append([]Round(nil), p.Rounds...)
	}
	out.RoundHistory = make([]RoundEntry, len(s.RoundHistory))
	for i, e := range s.RoundHistory {
		out.RoundHistory[i] = e
		out.RoundHistory[i].Scores = append([]int(nil), e.Scores...)
	}
	return &out
}

// сигнальные флаги между запросом новой партии и её созданием
// хранятся как простые durable-булевы, не часть снапшота
type Flags struct {
	NewSessionRequested     bool
	SessionActive           bool
	InitializationCompleted bool
}
