package service

import (
	"context"
	"sync"
	"time"

	"dutch_scoreboard/internal/logger"
)

// удаляет снапшоты старше окна хранения с точки зрения sweeper'а
type StaleDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleSweeper периодически выметает залежавшиеся сессии из хранилища,
// чтобы политика устаревания действовала и в покое, а не только при загрузке
type StaleSweeper struct {
	repo      StaleDeleter
	caps      CapabilityDetector
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewStaleSweeper(repo StaleDeleter, caps CapabilityDetector) *StaleSweeper {
	return &StaleSweeper{
		repo:      repo,
		caps:      caps,
		retention: SessionRetention,
		interval:  6 * time.Hour,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Start запускает цикл в фоне и сразу возвращается; повторный вызов - no-op
func (w *StaleSweeper) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	logger.Info("stale sweeper started", "interval", w.interval, "retention", w.retention)
	w.wg.Add(1)
	go w.run()
}

func (w *StaleSweeper) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()
	for {
		select {
		case <-w.stop:
			logger.Info("stale sweeper stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// Stop останавливает цикл и дожидается его завершения
func (w *StaleSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *StaleSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !w.caps.Detect(ctx).Structured {
		return
	}
	cutoff := w.now().Add(-w.retention)
	n, err := w.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Warn("stale sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("stale sessions swept", "deleted", n, "cutoff", cutoff)
	}
}
