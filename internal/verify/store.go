package verify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeStore is a small expiring key/value store for verification state.
type CodeStore interface {
	Save(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	// Take returns the value and deletes it in one step.
	Take(ctx context.Context, key string) (string, bool, error)
	// Incr bumps a counter and returns its new value. ttl applies when the
	// counter is created and is not extended by later increments.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore keeps codes in process. Expired entries are dropped on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *MemoryStore) Take(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	delete(m.entries, key)
	return e.value, ok, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		e = memoryEntry{value: "0", expires: m.now().Add(ttl)}
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("verify: %q is not a counter", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.entries[key] = e
	return n, nil
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// RedisStore shares codes across server instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "securedm:verify:"}
}

func (r *RedisStore) Save(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	return found(r.client.Get(ctx, r.prefix+key).Result())
}

func (r *RedisStore) Take(ctx context.Context, key string) (string, bool, error) {
	return found(r.client.GetDel(ctx, r.prefix+key).Result())
}

func (r *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, r.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, r.prefix+key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func found(value string, err error) (string, bool, error) {
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
