package storage

import (
	"context"
	"sync"
	"time"

	"dutch_scoreboard/internal/logger"
)

// что из durable-хранилищ сейчас доступно
// структурированное предпочтительно, key-value - универсальный запасной вариант
type Capabilities struct {
	Structured bool
	KeyValue   bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Selector лениво прощупывает оба бэкенда
// результат кэшируется ненадолго: доступность меняется между рестартами окружения,
// поэтому навсегда запоминать её нельзя
type Selector struct {
	structured Pinger
	keyValue   Pinger
	ttl        time.Duration
	probeTO    time.Duration

	mu        sync.Mutex
	cached    Capabilities
	checkedAt time.Time
}

func NewSelector(structured, keyValue Pinger) *Selector {
	return &Selector{
		structured: structured,
		keyValue:   keyValue,
		ttl:        30 * time.Second,
		probeTO:    2 * time.Second,
	}
}

// Detect возвращает актуальный дескриптор возможностей,
// перепроверяя бэкенды не чаще, чем раз в ttl
func (s *Selector) Detect(ctx context.Context) Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkedAt.IsZero() && time.Since(s.checkedAt) < s.ttl {
		return s.cached
	}

	caps := Capabilities{
		Structured: s.probe(ctx, s.structured),
		KeyValue:   s.probe(ctx, s.keyValue),
	}
	if !caps.Structured {
		logger.Warn("structured store unavailable, falling back to key-value")
	}
	if !caps.KeyValue {
		logger.Warn("key-value store unavailable")
	}
	s.cached = caps
	s.checkedAt = time.Now()
	return caps
}

// Invalidate сбрасывает кэш (например, после неожиданной ошибки записи)
func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.checkedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Selector) probe(ctx context.Context, p Pinger) bool {
	if p == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, s.probeTO)
	defer cancel()
	return p.Ping(pctx) == nil
}
