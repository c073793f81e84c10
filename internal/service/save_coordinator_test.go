package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/ledger"
	"dutch_scoreboard/internal/snapshot"
	"dutch_scoreboard/internal/storage"
)

func testSession(t *testing.T) *domain.Session {
	t.Helper()
	l := ledger.New(7, []string{"Alice", "Bob"}, 100, time.Unix(1700000000, 0).UTC())
	if _, err := l.ApplyRound([]int{30, 5}, "", time.Unix(1700000100, 0).UTC()); err != nil {
		t.Fatal(err)
	}
	return l.Session()
}

func newSaveEnv(caps storage.Capabilities) (*SaveCoordinator, *fakeStructured, *fakeKV, *[]time.Duration) {
	repo := newFakeStructured()
	kv := newFakeKV()
	det := &fakeDetector{caps: caps}
	c := NewSaveCoordinator(det, repo, kv)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	c.now = func() time.Time { return time.Unix(1700001000, 0).UTC() }
	return c, repo, kv, &slept
}

func TestSave_StructuredWithMirror(t *testing.T) {
	c, repo, kv, _ := newSaveEnv(storage.Capabilities{Structured: true, KeyValue: true})
	s := testSession(t)

	if err := c.Save(context.Background(), s); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	raw, id, err := repo.Latest(context.Background(), s.OwnerID)
	if err != nil || raw == nil {
		t.Fatalf("запись не попала в структурированное хранилище: %v", err)
	}
	if id != s.ID {
		t.Fatalf("записан id %s, ожидался %s", id, s.ID)
	}
	mirror, _ := kv.GetCurrent(context.Background(), s.OwnerID)
	if string(mirror) != string(raw) {
		t.Fatalf("зеркало в key-value не совпадает с основной записью")
	}
}

func TestSave_ReplaceIsExclusivePerOwner(t *testing.T) {
	c, repo, _, _ := newSaveEnv(storage.Capabilities{Structured: true, KeyValue: true})
	s := testSession(t)

	if err := c.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	// вторая сессия того же владельца вытесняет первую
	s2 := testSession(t)
	if err := c.Save(context.Background(), s2); err != nil {
		t.Fatal(err)
	}
	repo.mu.Lock()
	n := len(repo.records)
	repo.mu.Unlock()
	if n != 1 {
		t.Fatalf("у владельца должна остаться одна запись, найдено %d", n)
	}
}

func TestSave_FallsBackToKeyValue(t *testing.T) {
	c, repo, kv, _ := newSaveEnv(storage.Capabilities{Structured: true, KeyValue: true})
	repo.down = true
	s := testSession(t)

	if err := c.Save(context.Background(), s); err != nil {
		t.Fatalf("падение структурированного хранилища должно покрываться key-value: %v", err)
	}
	raw, _ := kv.GetCurrent(context.Background(), s.OwnerID)
	if raw == nil {
		t.Fatalf("запись не попала в key-value")
	}
}

func TestSave_NoStructuredCapability(t *testing.T) {
	c, repo, kv, _ := newSaveEnv(storage.Capabilities{Structured: false, KeyValue: true})
	s := testSession(t)

	if err := c.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if repo.writes != 0 {
		t.Fatalf("в недоступное структурированное хранилище писать нельзя")
	}
	if raw, _ := kv.GetCurrent(context.Background(), s.OwnerID); raw == nil {
		t.Fatalf("запись не попала в key-value")
	}
}

// полный отказ: три попытки, аварийная запись, типизированная ошибка,
// леджер в памяти никто не трогает
func TestSave_TotalOutageGoesToEmergency(t *testing.T) {
	c, repo, kv, slept := newSaveEnv(storage.Capabilities{Structured: true, KeyValue: true})
	repo.down = true
	kv.down = true
	s := testSession(t)

	err := c.Save(context.Background(), s)
	if !errors.Is(err, ErrPersistenceWrite) {
		t.Fatalf("ожидалась ErrPersistenceWrite, получено %v", err)
	}
	if len(*slept) != saveRetries {
		t.Fatalf("ожидалось %d пауз между попытками, было %d", saveRetries, len(*slept))
	}

	// аварийный ключ пишется в обход рубильника? нет - SetEmergency тоже падает
	kv.mu.Lock()
	_, hasEmergency := kv.emergency[s.OwnerID]
	kv.mu.Unlock()
	if hasEmergency {
		t.Fatalf("аварийная запись не должна была пройти при упавшем kv")
	}

	// kv ожил: повторное сохранение при мертвом Postgres доходит до emergency,
	// только если и kv падает на основном ключе; здесь оно просто успешно
	kv.down = false
	if err := c.Save(context.Background(), s); err != nil {
		t.Fatalf("после восстановления kv сохранение должно пройти: %v", err)
	}
}

func TestSave_EmergencyEnvelopeShape(t *testing.T) {
	repo := newFakeStructured()
	kv := newFakeKV()
	det := &fakeDetector{caps: storage.Capabilities{Structured: false, KeyValue: true}}
	c := NewSaveCoordinator(det, repo, kv)
	c.sleep = func(time.Duration) {}
	c.now = func() time.Time { return time.Unix(1700001000, 0).UTC() }

	// основной ключ падает, аварийный - нет
	failingKV := &emergencyOnlyKV{fakeKV: kv}
	c.kv = failingKV
	s := testSession(t)

	if err := c.Save(context.Background(), s); !errors.Is(err, ErrPersistenceWrite) {
		t.Fatalf("ожидалась ErrPersistenceWrite, получено %v", err)
	}
	raw, _ := kv.TakeEmergency(context.Background(), s.OwnerID)
	if raw == nil {
		t.Fatalf("аварийная запись отсутствует")
	}
	var env snapshot.EmergencyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("аварийный конверт не читается: %v", err)
	}
	if !env.Emergency || env.SavedAt.IsZero() {
		t.Fatalf("конверт без маркера или отметки времени: %+v", env)
	}
	if env.Snapshot.ID != s.ID {
		t.Fatalf("в конверте чужой снапшот")
	}
}

func TestSave_NothingToSave(t *testing.T) {
	c, repo, kv, _ := newSaveEnv(storage.Capabilities{Structured: true, KeyValue: true})

	if err := c.Save(context.Background(), &domain.Session{}); !errors.Is(err, ErrNothingToSave) {
		t.Fatalf("ожидалась ErrNothingToSave, получено %v", err)
	}
	if repo.writes != 0 {
		t.Fatalf("пустая сессия не должна писаться")
	}
	if raw, _ := kv.GetCurrent(context.Background(), 0); raw != nil {
		t.Fatalf("пустая сессия не должна писаться в kv")
	}
}

// kv, у которого основной ключ падает, а аварийный работает
type emergencyOnlyKV struct {
	*fakeKV
}

func (f *emergencyOnlyKV) SetCurrent(ctx context.Context, ownerID int64, raw []byte) error {
	return errStoreDown
}

func (f *emergencyOnlyKV) SetEmergency(ctx context.Context, ownerID int64, raw []byte) error {
	return f.fakeKV.SetEmergency(ctx, ownerID, raw)
}
