package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Limiter throttles repeated attempts per key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

type attemptWindow struct {
	count   int
	expires time.Time
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*attemptWindow), now: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, win time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &attemptWindow{expires: now.Add(win)}
		l.windows[key] = w
	}
	w.count++

	// Opportunistic sweep keeps the map bounded by active keys.
	if len(l.windows) > 1024 {
		for k, v := range l.windows {
			if !now.Before(v.expires) {
				delete(l.windows, k)
			}
		}
	}

	return w.count <= limit, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

const recoveryInterval = time.Minute

// FailoverLimiter uses primary until it errors, then serves from fallback and
// retries primary once per recoveryInterval.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLimiter(primary, fallback Limiter, logger *zerolog.Logger) *FailoverLimiter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "limiter").Logger(),
	}
}

func (f *FailoverLimiter) Allow(ctx context.Context, key string, limit int, win time.Duration) (bool, error) {
	if f.usePrimary() {
		ok, err := f.primary.Allow(ctx, key, limit, win)
		if err == nil {
			f.markUp()
			return ok, nil
		}
		f.markDown(err)
	}
	return f.fallback.Allow(ctx, key, limit, win)
}

func (f *FailoverLimiter) Reset(ctx context.Context, key string) error {
	if f.usePrimary() {
		if err := f.primary.Reset(ctx, key); err != nil {
			f.markDown(err)
		} else {
			f.markUp()
		}
	}
	return f.fallback.Reset(ctx, key)
}

func (f *FailoverLimiter) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) >= recoveryInterval {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *FailoverLimiter) markDown(err error) {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("primary limiter failed, using in-memory fallback")
	}
}

func (f *FailoverLimiter) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("primary limiter recovered")
	}
}
