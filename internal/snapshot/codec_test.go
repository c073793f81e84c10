package snapshot

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/ledger"
)

func sampleSession(t *testing.T) *domain.Session {
	t.Helper()
	l := ledger.New(7, []string{"Alice", "Bob"}, 100, time.Unix(1700000000, 0).UTC())
	s := l.Session()
	bob := s.Players[1].ID
	if _, err := l.ApplyRound([]int{30, 5}, "", time.Unix(1700000100, 0).UTC()); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ApplyRound([]int{40, 10}, bob, time.Unix(1700000200, 0).UTC()); err != nil {
		t.Fatal(err)
	}
	return l.Session()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := sampleSession(t)

	raw, err := Encode(s)
	if err != nil {
		t.Fatalf("кодирование: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("декодирование: %v", err)
	}
	if !reflect.DeepEqual(s, got) {
		t.Fatalf("снапшот не совпал после раунд-трипа:\nбыло %+v\nстало %+v", s, got)
	}
}

func TestDecode_GarbageIsCorrupt(t *testing.T) {
	for _, raw := range []string{"", "{", "[]", `"строка"`, `{"schema_version":2}`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("payload %q: ожидалась ErrCorrupt, получено %v", raw, err)
		}
	}
}

func TestDecode_WrongSchemaVersion(t *testing.T) {
	raw, err := Encode(sampleSession(t))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	m["schema_version"] = 1
	raw, _ = json.Marshal(m)

	if _, err := Decode(raw); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("старая версия схемы должна отклоняться, получено %v", err)
	}
}

// мутирует валидный снапшот и проверяет, что декодер ловит нарушение инварианта
func TestDecode_InvariantViolations(t *testing.T) {
	mutate := func(t *testing.T, fn func(*Snapshot)) {
		t.Helper()
		snap := FromSession(sampleSession(t))
		fn(&snap)
		raw, err := json.Marshal(snap)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Decode(raw); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("нарушение не поймано, получено %v", err)
		}
	}

	t.Run("scores короче игроков", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.RoundHistory[0].Scores = s.RoundHistory[0].Scores[:1] })
	})
	t.Run("раунды не в ногу", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.Players[0].Rounds = s.Players[0].Rounds[:1] })
	})
	t.Run("сломанная сумма", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.Players[1].TotalScore = 999 })
	})
	t.Run("без игроков", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.Players = nil })
	})
	t.Run("дубликат id игрока", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.Players[1].ID = s.Players[0].ID })
	})
	t.Run("нулевой лимит", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.ScoreLimit = 0 })
	})
	t.Run("без отметок времени", func(t *testing.T) {
		mutate(t, func(s *Snapshot) { s.CreatedAt = time.Time{} })
	})
}
