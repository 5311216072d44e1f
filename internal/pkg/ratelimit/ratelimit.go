package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store 固定窗口计数存储
type Store interface {
	// Hit 对 key 计数加一，返回当前窗口内计数和窗口剩余时间
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Decision 一次限流判定结果
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	prefix string
	limit  int64
	window time.Duration
}

// New 创建限流器，limit 最小为 1，window 最小为 1s
func New(store Store, prefix string, limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		store:  store,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow 判定 key 是否还在窗口配额内
func (l *Limiter) Allow(ctx context.Context, key string) (*Decision, error) {
	if key == "" {
		key = "anonymous"
	}

	count, ttl, err := l.store.Hit(ctx, l.prefix+":"+key, l.window)
	if err != nil {
		return nil, fmt.Errorf("rate limit hit: %w", err)
	}

	d := &Decision{
		Allowed: count <= l.limit,
		Count:   count,
		Limit:   l.limit,
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// RedisStore 基于 INCR + PEXPIRE 的共享存储，多实例部署时使用
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	// key 没有过期时间（上次设置失败），补设一次
	if ttl < 0 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore 进程内存储，未配置 Redis 时使用
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(now) {
		entry = &memoryEntry{expiresAt: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

// Sweep 清理已过期的窗口，返回清理数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
