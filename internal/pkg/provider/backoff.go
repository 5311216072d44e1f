package provider

import (
	"sync"
	"time"
)

// Backoff 按 provider 记录限流冷却时间，进程内共享
type Backoff struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewBackoff() *Backoff {
	return &Backoff{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Blocked 返回剩余冷却时间
func (b *Backoff) Blocked(provider string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.until[provider]
	if !ok {
		return 0, false
	}
	remaining := until.Sub(b.now())
	if remaining <= 0 {
		delete(b.until, provider)
		return 0, false
	}
	return remaining, true
}

// Trip 进入冷却，retryAfter<=0 时使用默认值
func (b *Backoff) Trip(provider string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.until[provider] = b.now().Add(retryAfter)
}
