package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/logger"
	"dutch_scoreboard/internal/metrics"
	"dutch_scoreboard/internal/snapshot"
)

// окно хранения: сессии старше не восстанавливаются
const SessionRetention = 30 * 24 * time.Hour

// LoadCoordinator поднимает самый свежий снапшот владельца
// битые и устаревшие записи превращаются в "сессии нет", никогда в падение
type LoadCoordinator struct {
	caps      CapabilityDetector
	repo      StructuredSessions
	kv        KeyValueStore
	retention time.Duration
	now       func() time.Time
}

func NewLoadCoordinator(caps CapabilityDetector, repo StructuredSessions, kv KeyValueStore) *LoadCoordinator {
	return &LoadCoordinator{
		caps:      caps,
		repo:      repo,
		kv:        kv,
		retention: SessionRetention,
		now:       time.Now,
	}
}

// Load возвращает восстановленную сессию или nil, nil если восстанавливать нечего
func (c *LoadCoordinator) Load(ctx context.Context, ownerID int64) (*domain.Session, error) {
	log := logger.With("owner_id", ownerID)
	caps := c.caps.Detect(ctx)

	var raw []byte
	var recordID string
	if caps.Structured {
		var err error
		raw, recordID, err = c.repo.Latest(ctx, ownerID)
		if err != nil {
			log.Warn("structured read failed", "error", err)
			raw, recordID = nil, ""
		}
	}
	fromKV := false
	if raw == nil && caps.KeyValue {
		var err error
		raw, err = c.kv.GetCurrent(ctx, ownerID)
		if err != nil {
			log.Warn("key-value read failed", "error", err)
			raw = nil
		}
		fromKV = raw != nil
	}
	if raw == nil {
		return nil, nil
	}

	s, err := snapshot.Decode(raw)
	if err != nil {
		// битая запись удаляется и считается отсутствующей
		metrics.CorruptDiscarded.Inc()
		log.Warn("corrupt snapshot discarded", "error", err)
		c.deleteRecord(ctx, ownerID, recordID, fromKV)
		return nil, nil
	}

	if c.now().Sub(s.LastUpdated) > c.retention {
		// старую сессию молча не поднимаем
		metrics.StaleDiscarded.Inc()
		log.Info("stale snapshot discarded", "last_updated", s.LastUpdated)
		c.deleteRecord(ctx, ownerID, recordID, fromKV)
		return nil, nil
	}

	metrics.SessionsResumed.Inc()
	return s, nil
}

// RecoverEmergency - явная, отдельная от обычной загрузки операция:
// читает аварийный ключ, удаляет его и валидирует содержимое задним числом
func (c *LoadCoordinator) RecoverEmergency(ctx context.Context, ownerID int64) (*domain.Session, error) {
	raw, err := c.kv.TakeEmergency(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var env snapshot.EmergencyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || !env.Emergency {
		logger.Warn("emergency record unreadable, dropped", "owner_id", ownerID, "error", err)
		return nil, nil
	}
	// запись делалась без валидации - проверяем сейчас
	if err := snapshot.Validate(&env.Snapshot); err != nil {
		if errors.Is(err, snapshot.ErrCorrupt) {
			metrics.CorruptDiscarded.Inc()
			logger.Warn("emergency snapshot corrupt, dropped", "owner_id", ownerID, "error", err)
			return nil, nil
		}
		return nil, err
	}
	return snapshot.ToSession(&env.Snapshot), nil
}

func (c *LoadCoordinator) deleteRecord(ctx context.Context, ownerID int64, recordID string, fromKV bool) {
	if recordID != "" {
		if err := c.repo.Delete(ctx, recordID); err != nil {
			logger.Warn("failed to delete bad structured record", "record_id", recordID, "error", err)
		}
	}
	if fromKV {
		if err := c.kv.DelCurrent(ctx, ownerID); err != nil {
			logger.Warn("failed to delete bad key-value record", "owner_id", ownerID, "error", err)
		}
	}
}
