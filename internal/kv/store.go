package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// зарезервированные ключи хранилища (суффикс - id владельца)
const (
	keyCurrent   = "dutch:session:current:%d"   // зеркало текущей сессии
	keyEmergency = "dutch:session:emergency:%d" // аварийная запись последней надежды
	keyHistory   = "dutch:history:pending:%d"   // очередь записей архива при недоступном Postgres
	keyFlag      = "dutch:flag:%d:%s"           // сигнальные флаги жизненного цикла
)

// простое key-value хранилище поверх Redis: get/set по фиксированному ключу,
// без запросов и транзакций - универсальный запасной бэкенд
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// --- зеркало текущей сессии ---

func (s *Store) SetCurrent(ctx context.Context, ownerID int64, raw []byte) error {
	return s.rdb.Set(ctx, fmt.Sprintf(keyCurrent, ownerID), raw, 0).Err()
}

// возвращает nil, nil если записи нет
func (s *Store) GetCurrent(ctx context.Context, ownerID int64) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(keyCurrent, ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return raw, err
}

func (s *Store) DelCurrent(ctx context.Context, ownerID int64) error {
	return s.rdb.Del(ctx, fmt.Sprintf(keyCurrent, ownerID)).Err()
}

// --- аварийная запись ---

func (s *Store) SetEmergency(ctx context.Context, ownerID int64, raw []byte) error {
	return s.rdb.Set(ctx, fmt.Sprintf(keyEmergency, ownerID), raw, 0).Err()
}

// TakeEmergency читает и сразу удаляет аварийную запись (opt-in восстановление)
func (s *Store) TakeEmergency(ctx context.Context, ownerID int64) ([]byte, error) {
	raw, err := s.rdb.GetDel(ctx, fmt.Sprintf(keyEmergency, ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return raw, err
}

// --- сигнальные флаги ---

func (s *Store) SetFlag(ctx context.Context, ownerID int64, name string, v bool) error {
	key := fmt.Sprintf(keyFlag, ownerID, name)
	if !v {
		return s.rdb.Del(ctx, key).Err()
	}
	return s.rdb.Set(ctx, key, "1", 0).Err()
}

func (s *Store) GetFlag(ctx context.Context, ownerID int64, name string) (bool, error) {
	v, err := s.rdb.Get(ctx, fmt.Sprintf(keyFlag, ownerID, name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// --- очередь архива ---

func (s *Store) PushHistory(ctx context.Context, ownerID int64, raw []byte) error {
	return s.rdb.RPush(ctx, fmt.Sprintf(keyHistory, ownerID), raw).Err()
}

// DrainHistory забирает всю накопленную очередь архива и удаляет ключ
func (s *Store) DrainHistory(ctx context.Context, ownerID int64) ([][]byte, error) {
	key := fmt.Sprintf(keyHistory, ownerID)
	vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Connect подключается к Redis и проверяет соединение
// клиент возвращается даже при неудачном ping: go-redis переподключится
// сам, а доступность отслеживает селектор бэкендов
func Connect(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, err
	}
	return rdb, nil
}
