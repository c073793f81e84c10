package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/ledger"
	"dutch_scoreboard/internal/logger"

	"github.com/google/uuid"
)

var (
	ErrNoSession     = errors.New("активной партии нет")
	ErrTooFewPlayers = errors.New("нужно минимум два игрока")
	ErrEmptyName     = errors.New("имя игрока не может быть пустым")
	ErrDuplicateName = errors.New("имена игроков должны различаться")
	ErrNoPendingEnd  = errors.New("завершение партии не запрашивалось")
)

// имена durable сигнальных флагов
const (
	flagNewSessionRequested     = "new_session_requested"
	flagSessionActive           = "session_active"
	flagInitializationCompleted = "initialization_completed"
)

// архив завершенных партий с точки зрения оркестратора
type HistoryArchive interface {
	Append(ctx context.Context, e *domain.HistoryEntry) (bool, error)
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]domain.HistoryEntry, error)
	Delete(ctx context.Context, ownerID int64, id string) error
}

// Lifecycle - единственная машина состояний жизненного цикла партии:
// создание, восстановление, раунды, рукопожатие завершения, продолжение, рестарт
// все мутации одного владельца выполняются под его замком и до конца
type Lifecycle struct {
	save    *SaveCoordinator
	load    *LoadCoordinator
	archive HistoryArchive
	repo    StructuredSessions
	kv      KeyValueStore
	caps    CapabilityDetector
	now     func() time.Time

	mu      sync.Mutex
	ledgers map[int64]*ledger.Ledger
	pending map[int64]bool // запрошено ли завершение
	locks   map[int64]*sync.Mutex

	degraded atomic.Bool // последняя запись ушла только в аварийный ключ
	syncSave bool        // в тестах сохранение выполняется синхронно

	// необязательные потребители: бот с итогами и live-табло
	notify    func(ownerID int64, e *domain.HistoryEntry)
	broadcast func(ownerID int64, s *domain.Session)
}

func NewLifecycle(save *SaveCoordinator, load *LoadCoordinator, archive HistoryArchive, repo StructuredSessions, kv KeyValueStore, caps CapabilityDetector) *Lifecycle {
	return &Lifecycle{
		save:    save,
		load:    load,
		archive: archive,
		repo:    repo,
		kv:      kv,
		caps:    caps,
		now:     time.Now,
		ledgers: make(map[int64]*ledger.Ledger),
		pending: make(map[int64]bool),
		locks:   make(map[int64]*sync.Mutex),
	}
}

// SetNotify задает callback для уведомления владельца об итогах партии
func (o *Lifecycle) SetNotify(fn func(ownerID int64, e *domain.HistoryEntry)) { o.notify = fn }

// SetBroadcast задает callback для live-табло
func (o *Lifecycle) SetBroadcast(fn func(ownerID int64, s *domain.Session)) { o.broadcast = fn }

// Degraded сообщает, что последняя запись не достигла обычных бэкендов
func (o *Lifecycle) Degraded() bool { return o.degraded.Load() }

func (o *Lifecycle) ownerLock(ownerID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[ownerID] = l
	}
	return l
}

// CreateSession создает новую партию: >=2 уникальных непустых имен,
// стабильные id, немедленное сохранение, передача флагов
func (o *Lifecycle) CreateSession(ctx context.Context, ownerID int64, names []string, scoreLimit int) (*domain.Session, error) {
	trimmed := make([]string, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, ErrEmptyName
		}
		if seen[n] {
			return nil, ErrDuplicateName
		}
		seen[n] = true
		trimmed = append(trimmed, n)
	}
	if len(trimmed) < 2 {
		return nil, ErrTooFewPlayers
	}

	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	l := ledger.New(ownerID, trimmed, scoreLimit, o.now())
	o.mu.Lock()
	o.ledgers[ownerID] = l
	delete(o.pending, ownerID)
	o.mu.Unlock()

	s := l.Session()
	o.persist(s)
	o.setFlag(ctx, ownerID, flagNewSessionRequested, false)
	o.setFlag(ctx, ownerID, flagSessionActive, true)
	o.setFlag(ctx, ownerID, flagInitializationCompleted, true)

	logger.Info("session created", "owner_id", ownerID, "session_id", s.ID, "players", len(s.Players), "score_limit", s.ScoreLimit)
	o.publish(ownerID, s)
	return s, nil
}

// Resume пытается восстановить партию владельца
// (nil, requested, nil) означает "сессии нет": requested говорит интерфейсу,
// был ли до этого запрошен рестарт, или нужна конфигурация с нуля
func (o *Lifecycle) Resume(ctx context.Context, ownerID int64) (*domain.Session, bool, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	l := o.ledgers[ownerID]
	o.mu.Unlock()
	if l != nil {
		return l.Session(), false, nil
	}

	s, err := o.load.Load(ctx, ownerID)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		requested, ferr := o.kv.GetFlag(ctx, ownerID, flagNewSessionRequested)
		if ferr != nil {
			logger.Warn("flag read failed", "owner_id", ownerID, "error", ferr)
		}
		return nil, requested, nil
	}

	o.mu.Lock()
	o.ledgers[ownerID] = ledger.FromSession(s)
	o.mu.Unlock()
	o.setFlag(ctx, ownerID, flagSessionActive, true)
	logger.Info("session resumed", "owner_id", ownerID, "session_id", s.ID, "rounds", len(s.RoundHistory))
	return s, false, nil
}

// ApplyRound записывает раунд активной партии
func (o *Lifecycle) ApplyRound(ctx context.Context, ownerID int64, scores []int, dutchPlayerID string) (*domain.Session, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	l, err := o.currentLedger(ownerID)
	if err != nil {
		return nil, err
	}
	s, err := l.ApplyRound(scores, dutchPlayerID, o.now())
	if err != nil {
		return nil, err
	}
	o.persist(s)
	o.publish(ownerID, s)
	return s, nil
}

// UndoRound откатывает последний раунд
func (o *Lifecycle) UndoRound(ctx context.Context, ownerID int64) (*domain.Session, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	l, err := o.currentLedger(ownerID)
	if err != nil {
		return nil, err
	}
	s, err := l.UndoRound(o.now())
	if err != nil {
		return nil, err
	}
	o.persist(s)
	o.publish(ownerID, s)
	return s, nil
}

// RequestEnd начинает рукопожатие завершения партии
func (o *Lifecycle) RequestEnd(ctx context.Context, ownerID int64) error {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.currentLedger(ownerID); err != nil {
		return err
	}
	o.mu.Lock()
	o.pending[ownerID] = true
	o.mu.Unlock()
	return nil
}

// CancelEnd отменяет запрошенное завершение
func (o *Lifecycle) CancelEnd(ctx context.Context, ownerID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.pending[ownerID] {
		return ErrNoPendingEnd
	}
	delete(o.pending, ownerID)
	return nil
}

// ConfirmEnd финализирует партию: строит запись архива, добавляет её
// с дедупликацией, чистит сохраненную сессию и флаг активности
func (o *Lifecycle) ConfirmEnd(ctx context.Context, ownerID int64) (*domain.HistoryEntry, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	requested := o.pending[ownerID]
	o.mu.Unlock()
	if !requested {
		return nil, ErrNoPendingEnd
	}
	l, err := o.currentLedger(ownerID)
	if err != nil {
		return nil, err
	}

	s := l.Session()
	entry := o.buildHistoryEntry(s, l.Winner())
	o.appendHistory(ctx, ownerID, entry)

	// сносим сохраненную сессию; ошибки некритичны - sweeper доберет
	o.clearPersisted(ctx, ownerID)
	o.setFlag(ctx, ownerID, flagSessionActive, false)

	o.mu.Lock()
	delete(o.ledgers, ownerID)
	delete(o.pending, ownerID)
	o.mu.Unlock()

	logger.Info("session finalized", "owner_id", ownerID, "session_id", s.ID, "winner", entry.Winner, "rounds", entry.RoundCount)
	// уведомление уходит в сеть, под замком владельца его держать нельзя
	if o.notify != nil {
		go o.notify(ownerID, entry)
	}
	o.publish(ownerID, nil)
	return entry, nil
}

// ContinueSession поднимает лимит очков и возвращает партию в игру
func (o *Lifecycle) ContinueSession(ctx context.Context, ownerID int64, scoreDelta int) (*domain.Session, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	l, err := o.currentLedger(ownerID)
	if err != nil {
		return nil, err
	}
	s := l.Continue(scoreDelta, o.now())
	o.mu.Lock()
	delete(o.pending, ownerID)
	o.mu.Unlock()
	o.persist(s)
	o.publish(ownerID, s)
	return s, nil
}

// Restart безусловно сносит текущую партию и взводит флаг
// "запрошена новая сессия" для следующего чтения
func (o *Lifecycle) Restart(ctx context.Context, ownerID int64) error {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	o.clearPersisted(ctx, ownerID)
	o.setFlag(ctx, ownerID, flagSessionActive, false)
	o.setFlag(ctx, ownerID, flagInitializationCompleted, false)
	o.setFlag(ctx, ownerID, flagNewSessionRequested, true)

	o.mu.Lock()
	delete(o.ledgers, ownerID)
	delete(o.pending, ownerID)
	o.mu.Unlock()

	logger.Info("session restarted", "owner_id", ownerID)
	o.publish(ownerID, nil)
	return nil
}

// RecoverEmergency - opt-in восстановление из аварийного ключа
func (o *Lifecycle) RecoverEmergency(ctx context.Context, ownerID int64) (*domain.Session, error) {
	lock := o.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	s, err := o.load.RecoverEmergency(ctx, ownerID)
	if err != nil || s == nil {
		return nil, err
	}
	o.mu.Lock()
	o.ledgers[ownerID] = ledger.FromSession(s)
	o.mu.Unlock()
	o.persist(s)
	o.setFlag(ctx, ownerID, flagSessionActive, true)
	logger.Info("session recovered from emergency key", "owner_id", ownerID, "session_id", s.ID)
	return s, nil
}

// History возвращает архив владельца, предварительно долив
// накопившуюся при недоступном Postgres очередь
func (o *Lifecycle) History(ctx context.Context, ownerID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	o.drainPendingHistory(ctx, ownerID)
	return o.archive.ListByOwner(ctx, ownerID, limit)
}

// DeleteHistory удаляет запись архива
func (o *Lifecycle) DeleteHistory(ctx context.Context, ownerID int64, id string) error {
	return o.archive.Delete(ctx, ownerID, id)
}

// Flags читает durable сигнальные флаги владельца
func (o *Lifecycle) Flags(ctx context.Context, ownerID int64) domain.Flags {
	var f domain.Flags
	f.NewSessionRequested, _ = o.kv.GetFlag(ctx, ownerID, flagNewSessionRequested)
	f.SessionActive, _ = o.kv.GetFlag(ctx, ownerID, flagSessionActive)
	f.InitializationCompleted, _ = o.kv.GetFlag(ctx, ownerID, flagInitializationCompleted)
	return f
}

// EndPending сообщает, запрошено ли завершение
func (o *Lifecycle) EndPending(ownerID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending[ownerID]
}

func (o *Lifecycle) currentLedger(ownerID int64) (*ledger.Ledger, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.ledgers[ownerID]
	if l == nil {
		return nil, ErrNoSession
	}
	return l, nil
}

// сохранение не блокирует игру: запись уходит в фоне,
// провал фиксируется как деградация, а не как откат леджера
func (o *Lifecycle) persist(s *domain.Session) {
	if o.syncSave {
		o.doSave(s)
		return
	}
	go o.doSave(s)
}

func (o *Lifecycle) doSave(s *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := o.save.Save(ctx, s)
	switch {
	case err == nil:
		o.degraded.Store(false)
	case errors.Is(err, ErrNothingToSave):
		// пустую сессию не сохраняем, это не деградация
	case errors.Is(err, ErrPersistenceWrite):
		o.degraded.Store(true)
		logger.Warn("working in degraded durability mode", "owner_id", s.OwnerID)
	default:
		logger.Error("unexpected save error", "owner_id", s.OwnerID, "error", err)
	}
}

func (o *Lifecycle) publish(ownerID int64, s *domain.Session) {
	if o.broadcast != nil {
		o.broadcast(ownerID, s)
	}
}

func (o *Lifecycle) setFlag(ctx context.Context, ownerID int64, name string, v bool) {
	if err := o.kv.SetFlag(ctx, ownerID, name, v); err != nil {
		logger.Warn("flag write failed", "owner_id", ownerID, "flag", name, "error", err)
	}
}

func (o *Lifecycle) clearPersisted(ctx context.Context, ownerID int64) {
	if o.caps.Detect(ctx).Structured {
		if err := o.repo.DeleteByOwner(ctx, ownerID); err != nil {
			logger.Warn("failed to clear structured session", "owner_id", ownerID, "error", err)
		}
	}
	if err := o.kv.DelCurrent(ctx, ownerID); err != nil {
		logger.Warn("failed to clear key-value session", "owner_id", ownerID, "error", err)
	}
}

func (o *Lifecycle) buildHistoryEntry(s *domain.Session, winner string) *domain.HistoryEntry {
	players := make([]domain.HistoryPlayer, len(s.Players))
	for i, p := range s.Players {
		ever := false
		for _, r := range p.Rounds {
			if r.IsDutch {
				ever = true
				break
			}
		}
		players[i] = domain.HistoryPlayer{Name: p.Name, Score: p.TotalScore, IsDutch: ever}
	}
	now := o.now()
	e := &domain.HistoryEntry{
		ID:         uuid.NewString(),
		OwnerID:    s.OwnerID,
		Date:       now,
		RoundCount: len(s.RoundHistory),
		Players:    players,
		Winner:     winner,
		DurationS:  int64(now.Sub(s.CreatedAt) / time.Second),
	}
	e.Signature = Signature(e)
	return e
}

// Signature - структурная подпись записи архива:
// одинаковые (раунды, победитель, игроки) дают одинаковую подпись
func Signature(e *domain.HistoryEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s", e.RoundCount, e.Winner)
	for _, p := range e.Players {
		fmt.Fprintf(h, "|%s:%d:%v", p.Name, p.Score, p.IsDutch)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// appendHistory пишет в архив; при недоступном структурированном
// хранилище запись откладывается в зарезервированный key-value ключ
func (o *Lifecycle) appendHistory(ctx context.Context, ownerID int64, e *domain.HistoryEntry) {
	if o.caps.Detect(ctx).Structured {
		o.drainPendingHistory(ctx, ownerID)
		added, err := o.archive.Append(ctx, e)
		if err == nil {
			if !added {
				logger.Info("duplicate history entry ignored", "owner_id", ownerID, "signature", e.Signature)
			}
			return
		}
		logger.Warn("history append failed, queueing", "owner_id", ownerID, "error", err)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		logger.Error("history encode failed", "owner_id", ownerID, "error", err)
		return
	}
	if err := o.kv.PushHistory(ctx, ownerID, raw); err != nil {
		logger.Error("history queue write failed", "owner_id", ownerID, "error", err)
	}
}

// drainPendingHistory доливает отложенные записи архива в Postgres
func (o *Lifecycle) drainPendingHistory(ctx context.Context, ownerID int64) {
	if !o.caps.Detect(ctx).Structured {
		return
	}
	pending, err := o.kv.DrainHistory(ctx, ownerID)
	if err != nil {
		logger.Warn("history drain failed", "owner_id", ownerID, "error", err)
		return
	}
	for _, raw := range pending {
		var e domain.HistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn("queued history entry unreadable, dropped", "owner_id", ownerID, "error", err)
			continue
		}
		e.Signature = Signature(&e)
		if _, err := o.archive.Append(ctx, &e); err != nil {
			// вернуть в очередь, чтобы не потерять
			if perr := o.kv.PushHistory(ctx, ownerID, raw); perr != nil {
				logger.Error("failed to requeue history entry", "owner_id", ownerID, "error", perr)
			}
		}
	}
}
