package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/storage"
)

var errStoreDown = errors.New("хранилище недоступно")

type fakeDetector struct {
	mu   sync.Mutex
	caps storage.Capabilities
}

func (d *fakeDetector) Detect(ctx context.Context) storage.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *fakeDetector) Invalidate() {}

func (d *fakeDetector) set(caps storage.Capabilities) {
	d.mu.Lock()
	d.caps = caps
	d.mu.Unlock()
}

type structuredRecord struct {
	id          string
	ownerID     int64
	raw         []byte
	lastUpdated time.Time
}

// структурированное хранилище в памяти с рубильником отказа
type fakeStructured struct {
	mu      sync.Mutex
	records map[string]structuredRecord
	down    bool
	writes  int
}

func newFakeStructured() *fakeStructured {
	return &fakeStructured{records: make(map[string]structuredRecord)}
}

func (f *fakeStructured) Replace(ctx context.Context, sessionID string, ownerID int64, raw []byte, lastUpdated time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	for id, r := range f.records {
		if r.ownerID == ownerID {
			delete(f.records, id)
		}
	}
	f.records[sessionID] = structuredRecord{id: sessionID, ownerID: ownerID, raw: append([]byte(nil), raw...), lastUpdated: lastUpdated}
	f.writes++
	return nil
}

func (f *fakeStructured) Latest(ctx context.Context, ownerID int64) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, "", errStoreDown
	}
	var best *structuredRecord
	for _, r := range f.records {
		r := r
		if ownerID != 0 && r.ownerID != ownerID {
			continue
		}
		if best == nil || r.lastUpdated.After(best.lastUpdated) {
			best = &r
		}
	}
	if best == nil {
		return nil, "", nil
	}
	return best.raw, best.id, nil
}

func (f *fakeStructured) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStructured) DeleteByOwner(ctx context.Context, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.records {
		if r.ownerID == ownerID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeStructured) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.records {
		if r.lastUpdated.Before(cutoff) {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

// key-value хранилище в памяти с рубильником отказа
type fakeKV struct {
	mu        sync.Mutex
	current   map[int64][]byte
	emergency map[int64][]byte
	flags     map[string]bool
	history   map[int64][][]byte
	down      bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		current:   make(map[int64][]byte),
		emergency: make(map[int64][]byte),
		flags:     make(map[string]bool),
		history:   make(map[int64][][]byte),
	}
}

func (f *fakeKV) flagKey(ownerID int64, name string) string {
	return fmt.Sprintf("%d#%s", ownerID, name)
}

func (f *fakeKV) SetCurrent(ctx context.Context, ownerID int64, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.current[ownerID] = append([]byte(nil), raw...)
	return nil
}

func (f *fakeKV) GetCurrent(ctx context.Context, ownerID int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	return f.current[ownerID], nil
}

func (f *fakeKV) DelCurrent(ctx context.Context, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.current, ownerID)
	return nil
}

func (f *fakeKV) SetEmergency(ctx context.Context, ownerID int64, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.emergency[ownerID] = append([]byte(nil), raw...)
	return nil
}

func (f *fakeKV) TakeEmergency(ctx context.Context, ownerID int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := f.emergency[ownerID]
	delete(f.emergency, ownerID)
	return raw, nil
}

func (f *fakeKV) SetFlag(ctx context.Context, ownerID int64, name string, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[f.flagKey(ownerID, name)] = v
	return nil
}

func (f *fakeKV) GetFlag(ctx context.Context, ownerID int64, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[f.flagKey(ownerID, name)], nil
}

func (f *fakeKV) PushHistory(ctx context.Context, ownerID int64, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.history[ownerID] = append(f.history[ownerID], append([]byte(nil), raw...))
	return nil
}

func (f *fakeKV) DrainHistory(ctx context.Context, ownerID int64) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.history[ownerID]
	delete(f.history, ownerID)
	return out, nil
}

// архив в памяти с дедупликацией по подписи
type fakeArchive struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	down    bool
}

func (f *fakeArchive) Append(ctx context.Context, e *domain.HistoryEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errStoreDown
	}
	for _, have := range f.entries {
		if have.Signature == e.Signature {
			return false, nil
		}
	}
	f.entries = append(f.entries, *e)
	return true, nil
}

func (f *fakeArchive) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range f.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeArchive) Delete(ctx context.Context, ownerID int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.ID == id && e.OwnerID == ownerID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return nil
}
