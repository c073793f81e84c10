package ledger

import (
	"errors"
	"math"
	"time"

	"dutch_scoreboard/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrScoreCountMismatch = errors.New("число очков не совпадает с числом игроков")
	ErrNonIntegerScore    = errors.New("очки должны быть целыми числами")
	ErrDegenerateDutch    = errors.New("дач без очков не засчитывается")
	ErrUnknownDutchPlayer = errors.New("дач объявлен несуществующим игроком")
	ErrEmptyHistory       = errors.New("нет раундов для отмены")
)

const DefaultScoreLimit = 100

// чистая машина состояний одной партии: игроки, раунды, суммы, флаг конца игры
// никакого I/O, все операции синхронные и атомарные (ошибка = состояние не тронуто)
type Ledger struct {
	s *domain.Session
}

// создает пустую партию с заданными игроками
// валидация имен (>=2, непустые, уникальные) - забота оркестратора
func New(ownerID int64, names []string, scoreLimit int, now time.Time) *Ledger {
	if scoreLimit <= 0 {
		scoreLimit = DefaultScoreLimit
	}
	players := make([]domain.Player, len(names))
	for i, name := range names {
		players[i] = domain.Player{
			ID:     uuid.NewString(),
			Name:   name,
			Rounds: []domain.Round{},
		}
	}
	return &Ledger{s: &domain.Session{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Players:      players,
		RoundHistory: []domain.RoundEntry{},
		ScoreLimit:   scoreLimit,
		CreatedAt:    now,
		LastUpdated:  now,
	}}
}

// поднимает леджер из восстановленной сессии (после декодирования снапшота)
func FromSession(s *domain.Session) *Ledger {
	return &Ledger{s: s.Clone()}
}

// снимок текущего состояния; всегда копия
func (l *Ledger) Session() *domain.Session {
	return l.s.Clone()
}

// CoerceScores превращает значения из JSON в целые очки
// дробные и выходящие за диапазон int значения отклоняются
func CoerceScores(raw []float64) ([]int, error) {
	out := make([]int, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, ErrNonIntegerScore
		}
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, ErrNonIntegerScore
		}
		out[i] = int(v)
	}
	return out, nil
}

// применяет один раунд ко всем игрокам
// очки позиционные: scores[i] принадлежит Players[i]
func (l *Ledger) ApplyRound(scores []int, dutchPlayerID string, now time.Time) (*domain.Session, error) {
	s := l.s
	if len(scores) != len(s.Players) {
		return nil, ErrScoreCountMismatch
	}
	if dutchPlayerID != "" {
		if l.playerIndex(dutchPlayerID) < 0 {
			return nil, ErrUnknownDutchPlayer
		}
		allZero := true
		for _, sc := range scores {
			if sc != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return nil, ErrDegenerateDutch
		}
	}

	for i := range s.Players {
		p := &s.Players[i]
		p.Rounds = append(p.Rounds, domain.Round{
			Score:   scores[i],
			IsDutch: dutchPlayerID != "" && p.ID == dutchPlayerID,
		})
		p.TotalScore = sumScores(p.Rounds)
	}
	s.RoundHistory = append(s.RoundHistory, domain.RoundEntry{
		Scores:        append([]int(nil), scores...),
		DutchPlayerID: dutchPlayerID,
	})
	s.IsOver = l.DetectGameOver()
	s.LastUpdated = now
	return s.Clone(), nil
}

// откатывает последний раунд у всех игроков
// флаг конца игры пересчитывается заново, а не остается от прошлого состояния
func (l *Ledger) UndoRound(now time.Time) (*domain.Session, error) {
	s := l.s
	if len(s.RoundHistory) == 0 {
		return nil, ErrEmptyHistory
	}
	s.RoundHistory = s.RoundHistory[:len(s.RoundHistory)-1]
	for i := range s.Players {
		p := &s.Players[i]
		p.Rounds = p.Rounds[:len(p.Rounds)-1]
		p.TotalScore = sumScores(p.Rounds)
	}
	s.IsOver = l.DetectGameOver()
	s.LastUpdated = now
	return s.Clone(), nil
}

// игра окончена, когда сыгран хотя бы один раунд
// и кто-то набрал лимит или больше
func (l *Ledger) DetectGameOver() bool {
	if len(l.s.RoundHistory) == 0 {
		return false
	}
	for _, p := range l.s.Players {
		if p.TotalScore >= l.s.ScoreLimit {
			return true
		}
	}
	return false
}

// продолжение после конца игры: лимит поднимается на delta,
// IsOver пересчитывается против нового лимита
func (l *Ledger) Continue(scoreDelta int, now time.Time) *domain.Session {
	s := l.s
	s.ScoreLimit += scoreDelta
	s.IsOver = l.DetectGameOver()
	s.LastUpdated = now
	return s.Clone()
}

// имя победителя: минимальная сумма, при равенстве - первый по порядку создания
func (l *Ledger) Winner() string {
	if len(l.s.Players) == 0 {
		return ""
	}
	best := 0
	for i, p := range l.s.Players {
		if p.TotalScore < l.s.Players[best].TotalScore {
			best = i
		}
	}
	return l.s.Players[best].Name
}

func (l *Ledger) playerIndex(id string) int {
	for i, p := range l.s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func sumScores(rounds []domain.Round) int {
	total := 0
	for _, r := range rounds {
		total += r.Score
	}
	return total
}
