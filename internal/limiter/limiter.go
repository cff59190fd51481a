package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Limiter bounds concurrent thumbnail renders per document with local
// semaphores, and tracks backend cooldowns in Redis with exponential backoff
// so the readiness probe can degrade the extract action proactively.
type Limiter struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Limiter, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Limiter{rdb: c, maxInflight: opts.MaxInflight, baseBackoff: opts.BaseBackoff, maxBackoff: opts.MaxBackoff, sem: map[string]chan struct{}{}}, nil
}

func (l *Limiter) key(component string) string {
	return fmt.Sprintf("cooldown:%s", strings.ToLower(component))
}

// InCooldown returns true while the component's cooldown is active.
func (l *Limiter) InCooldown(ctx context.Context, component string) bool {
	ts, err := l.rdb.Get(ctx, l.key(component)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// MarkFailure sets/extends the cooldown with exponential backoff per attempt.
func (l *Limiter) MarkFailure(ctx context.Context, component string) {
	k := l.key(component)
	cntKey := k + ":attempts"
	attempts, _ := l.rdb.Incr(ctx, cntKey).Result()
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 8 {
		attempts = 8
	}
	d := l.baseBackoff * (1 << (attempts - 1))
	if d > l.maxBackoff {
		d = l.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	_ = l.rdb.Set(ctx, k, until, d).Err()
}

// ClearFailure resets the cooldown after a success.
func (l *Limiter) ClearFailure(ctx context.Context, component string) {
	k := l.key(component)
	_ = l.rdb.Del(ctx, k, k+":attempts").Err()
}

// Acquire tries to reserve a local render slot for the document.
// Returns a release function and true if allowed; otherwise nil-op and false.
func (l *Limiter) Acquire(docID string) (func(), bool) {
	l.mu.Lock()
	ch, ok := l.sem[docID]
	if !ok {
		ch = make(chan struct{}, l.maxInflight)
		l.sem[docID] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

// Forget drops the per-document semaphore after the document is released.
func (l *Limiter) Forget(docID string) {
	l.mu.Lock()
	delete(l.sem, docID)
	l.mu.Unlock()
}

func (l *Limiter) Close() error { return l.rdb.Close() }
