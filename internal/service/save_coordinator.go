package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/logger"
	"dutch_scoreboard/internal/metrics"
	"dutch_scoreboard/internal/snapshot"
	"dutch_scoreboard/internal/storage"
)

var (
	// пустая сессия не сохраняется; вызывающий не показывает это пользователю
	ErrNothingToSave = errors.New("нечего сохранять")
	// все бэкенды и ретраи исчерпаны, сработала аварийная запись
	ErrPersistenceWrite = errors.New("не удалось сохранить сессию ни в один бэкенд")
)

// структурированное хранилище с точки зрения координаторов
type StructuredSessions interface {
	Replace(ctx context.Context, sessionID string, ownerID int64, raw []byte, lastUpdated time.Time) error
	Latest(ctx context.Context, ownerID int64) ([]byte, string, error)
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID int64) error
}

// key-value хранилище с точки зрения координаторов
type KeyValueStore interface {
	SetCurrent(ctx context.Context, ownerID int64, raw []byte) error
	GetCurrent(ctx context.Context, ownerID int64) ([]byte, error)
	DelCurrent(ctx context.Context, ownerID int64) error
	SetEmergency(ctx context.Context, ownerID int64, raw []byte) error
	TakeEmergency(ctx context.Context, ownerID int64) ([]byte, error)
	SetFlag(ctx context.Context, ownerID int64, name string, v bool) error
	GetFlag(ctx context.Context, ownerID int64, name string) (bool, error)
	PushHistory(ctx context.Context, ownerID int64, raw []byte) error
	DrainHistory(ctx context.Context, ownerID int64) ([][]byte, error)
}

type CapabilityDetector interface {
	Detect(ctx context.Context) storage.Capabilities
	Invalidate()
}

const (
	saveRetries    = 2 // повторов поверх первой попытки
	saveRetryDelay = 500 * time.Millisecond
)

// SaveCoordinator доводит снапшот до durable-хранилища:
// предпочтительный бэкенд с ретраями, зеркало в key-value,
// аварийная запись как последняя надежда
// наружу не выходит ничего, кроме типизированных ошибок
type SaveCoordinator struct {
	caps CapabilityDetector
	repo StructuredSessions
	kv   KeyValueStore

	retries int
	delay   time.Duration
	sleep   func(time.Duration) // подменяется в тестах
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex // сериализация записей по владельцу
}

func NewSaveCoordinator(caps CapabilityDetector, repo StructuredSessions, kv KeyValueStore) *SaveCoordinator {
	return &SaveCoordinator{
		caps:    caps,
		repo:    repo,
		kv:      kv,
		retries: saveRetries,
		delay:   saveRetryDelay,
		sleep:   time.Sleep,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (c *SaveCoordinator) ownerLock(ownerID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[ownerID] = l
	}
	return l
}

// Save сохраняет сессию; записи одного владельца сериализованы,
// более поздний снапшот всегда перезаписывает более ранний (полная замена)
func (c *SaveCoordinator) Save(ctx context.Context, s *domain.Session) error {
	if s == nil || len(s.Players) == 0 {
		return ErrNothingToSave
	}
	raw, err := snapshot.Encode(s)
	if err != nil {
		// сериализация plain-структур не падает; перестраховка
		return ErrPersistenceWrite
	}

	lock := c.ownerLock(s.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	log := logger.With("owner_id", s.OwnerID, "session_id", s.ID)

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.sleep(c.delay)
			log.Warn("retrying session save", "attempt", attempt)
		}
		metrics.SaveAttempts.Inc()

		caps := c.caps.Detect(ctx)
		if caps.Structured {
			if err := c.repo.Replace(ctx, s.ID, s.OwnerID, raw, s.LastUpdated); err == nil {
				// дешевое зеркало; не транзакционно с основной записью
				if merr := c.kv.SetCurrent(ctx, s.OwnerID, raw); merr != nil {
					log.Warn("mirror write failed", "error", merr)
				}
				return nil
			} else {
				log.Warn("structured write failed", "error", err)
				c.caps.Invalidate()
			}
		}
		// структурированного нет или он упал - пишем напрямую в key-value
		if err := c.kv.SetCurrent(ctx, s.OwnerID, raw); err == nil {
			return nil
		} else {
			log.Warn("key-value write failed", "error", err)
		}
	}

	metrics.SaveFailures.Inc()
	c.emergencySave(ctx, s, log)
	return ErrPersistenceWrite
}

// аварийная запись: сырой снапшот без валидации в зарезервированный ключ
// леджер в памяти не откатывается - игра продолжается без durable-гарантий
func (c *SaveCoordinator) emergencySave(ctx context.Context, s *domain.Session, log *slog.Logger) {
	env := snapshot.EmergencyEnvelope{
		Emergency: true,
		SavedAt:   c.now(),
		Snapshot:  snapshot.FromSession(s),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error("emergency encode failed", "error", err)
		return
	}
	if err := c.kv.SetEmergency(ctx, s.OwnerID, raw); err != nil {
		log.Error("emergency save failed", "error", err)
		return
	}
	metrics.EmergencySaves.Inc()
	log.Warn("session saved to emergency key")
}
