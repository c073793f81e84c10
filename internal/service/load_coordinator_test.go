package service

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"dutch_scoreboard/internal/snapshot"
	"dutch_scoreboard/internal/storage"
)

func newLoadEnv(caps storage.Capabilities) (*LoadCoordinator, *fakeStructured, *fakeKV) {
	repo := newFakeStructured()
	kv := newFakeKV()
	c := NewLoadCoordinator(&fakeDetector{caps: caps}, repo, kv)
	c.now = func() time.Time { return time.Unix(1700002000, 0).UTC() }
	return c, repo, kv
}

func TestLoad_NoSession(t *testing.T) {
	c, _, _ := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	s, err := c.Load(context.Background(), 7)
	if err != nil || s != nil {
		t.Fatalf("ожидалось nil, nil; получено %v, %v", s, err)
	}
}

func TestLoad_PrefersStructured(t *testing.T) {
	c, repo, kv := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	want := testSession(t)
	raw, err := snapshot.Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Replace(context.Background(), want.ID, want.OwnerID, raw, want.LastUpdated); err != nil {
		t.Fatal(err)
	}
	// в kv лежит мусор: до него дело дойти не должно
	if err := kv.SetCurrent(context.Background(), want.OwnerID, []byte("мусор")); err != nil {
		t.Fatal(err)
	}

	got, err := c.Load(context.Background(), want.OwnerID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("восстановленная сессия не совпала с сохраненной")
	}
}

func TestLoad_FallsBackToKeyValue(t *testing.T) {
	c, _, kv := newLoadEnv(storage.Capabilities{Structured: false, KeyValue: true})
	want := testSession(t)
	raw, _ := snapshot.Encode(want)
	if err := kv.SetCurrent(context.Background(), want.OwnerID, raw); err != nil {
		t.Fatal(err)
	}

	got, err := c.Load(context.Background(), want.OwnerID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("сессия не восстановилась из key-value")
	}
}

func TestLoad_CorruptRecordDeletedAndNil(t *testing.T) {
	c, repo, _ := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	want := testSession(t)
	if err := repo.Replace(context.Background(), want.ID, want.OwnerID, []byte(`{"schema_version":999}`), want.LastUpdated); err != nil {
		t.Fatal(err)
	}

	s, err := c.Load(context.Background(), want.OwnerID)
	if err != nil || s != nil {
		t.Fatalf("битый снапшот должен превращаться в nil, nil; получено %v, %v", s, err)
	}
	repo.mu.Lock()
	n := len(repo.records)
	repo.mu.Unlock()
	if n != 0 {
		t.Fatalf("битая запись должна удаляться, осталось %d", n)
	}
}

// снапшот старше окна хранения никогда не возвращается
func TestLoad_StaleSnapshotDiscarded(t *testing.T) {
	c, repo, _ := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	old := testSession(t)
	old.LastUpdated = c.now().Add(-31 * 24 * time.Hour)
	raw, _ := snapshot.Encode(old)
	if err := repo.Replace(context.Background(), old.ID, old.OwnerID, raw, old.LastUpdated); err != nil {
		t.Fatal(err)
	}

	s, err := c.Load(context.Background(), old.OwnerID)
	if err != nil || s != nil {
		t.Fatalf("устаревшая сессия не должна подниматься; получено %v, %v", s, err)
	}
}

func TestLoad_FreshWithinRetention(t *testing.T) {
	c, repo, _ := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	s := testSession(t)
	s.LastUpdated = c.now().Add(-29 * 24 * time.Hour)
	raw, _ := snapshot.Encode(s)
	if err := repo.Replace(context.Background(), s.ID, s.OwnerID, raw, s.LastUpdated); err != nil {
		t.Fatal(err)
	}

	got, err := c.Load(context.Background(), s.OwnerID)
	if err != nil || got == nil {
		t.Fatalf("сессия в пределах окна должна подниматься; получено %v, %v", got, err)
	}
}

func TestRecoverEmergency_ReturnsAndDeletes(t *testing.T) {
	c, _, kv := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	want := testSession(t)
	env := snapshot.EmergencyEnvelope{
		Emergency: true,
		SavedAt:   c.now(),
		Snapshot:  snapshot.FromSession(want),
	}
	raw, _ := json.Marshal(env)
	if err := kv.SetEmergency(context.Background(), want.OwnerID, raw); err != nil {
		t.Fatal(err)
	}

	got, err := c.RecoverEmergency(context.Background(), want.OwnerID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("аварийная сессия не восстановилась")
	}
	// ключ одноразовый
	again, err := c.RecoverEmergency(context.Background(), want.OwnerID)
	if err != nil || again != nil {
		t.Fatalf("аварийный ключ должен удаляться после чтения")
	}
}

func TestRecoverEmergency_CorruptDropped(t *testing.T) {
	c, _, kv := newLoadEnv(storage.Capabilities{Structured: true, KeyValue: true})
	if err := kv.SetEmergency(context.Background(), 7, []byte(`{"emergency":true,"snapshot":{"schema_version":2}}`)); err != nil {
		t.Fatal(err)
	}
	s, err := c.RecoverEmergency(context.Background(), 7)
	if err != nil || s != nil {
		t.Fatalf("битая аварийная запись должна отбрасываться; получено %v, %v", s, err)
	}
}
