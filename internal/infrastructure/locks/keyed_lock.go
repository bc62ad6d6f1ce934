// Package locks provides an in-process advisory lock registry keyed by
// string. Every mutating auction operation runs under the lock for its
// auction id, which is the system's single serialization domain.
package locks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/metrics"
)

// Config tunes acquisition and expiry behavior.
type Config struct {
	// Timeout is how long a holder may keep the lock before it is treated
	// as leaked and reclaimable.
	Timeout time.Duration
	// MaxRetries bounds re-acquisition attempts after the first failure.
	MaxRetries int
	// RetryDelay is the base backoff; attempt n sleeps RetryDelay * n.
	RetryDelay time.Duration
	// SweepInterval is how often the background sweeper reclaims expired
	// entries.
	SweepInterval time.Duration
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       500 * time.Millisecond,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		SweepInterval: time.Second,
	}
}

// Stats is a point-in-time snapshot of registry activity.
type Stats struct {
	Held     int    `json:"held"`
	Acquired uint64 `json:"acquired"`
	Retried  uint64 `json:"retried"`
	Busy     uint64 `json:"busy"`
	Expired  uint64 `json:"expired"`
}

type entry struct {
	token      uint64
	acquiredAt time.Time
}

// KeyedLock is the registry. The lock is advisory: only cooperating callers
// honor it. Expired holders are reclaimed eagerly on acquisition and lazily
// by the sweeper.
type KeyedLock struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	nextTok uint64
	stats   Stats

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, logger *zap.Logger) *KeyedLock {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	kl := &KeyedLock{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	go kl.sweep()
	return kl
}

// WithLock runs fn while holding the lock for key. If the lock is held, it
// retries with linear backoff up to MaxRetries and then fails with the
// contention error; fn is never invoked in that case.
func (kl *KeyedLock) WithLock(ctx context.Context, key string, fn func() error) error {
	var token uint64
	acquired := false
	for attempt := 0; attempt <= kl.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			kl.countRetry()
			metrics.LockContention.WithLabelValues("retried").Inc()
			select {
			case <-ctx.Done():
				return errors.NewContentionError("lock wait cancelled").WithCause(ctx.Err())
			case <-time.After(kl.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if tok, ok := kl.tryLock(key); ok {
			token = tok
			acquired = true
			break
		}
	}
	if !acquired {
		kl.countBusy()
		metrics.LockContention.WithLabelValues("busy").Inc()
		kl.logger.Warn("lock busy after retries",
			zap.String("key", key),
			zap.Int("max_retries", kl.cfg.MaxRetries))
		return errors.ErrLockBusy
	}
	metrics.LockContention.WithLabelValues("acquired").Inc()
	defer kl.unlock(key, token)
	return fn()
}

// IsLocked reports whether key currently has a live holder.
func (kl *KeyedLock) IsLocked(key string) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e, ok := kl.entries[key]
	return ok && time.Since(e.acquiredAt) <= kl.cfg.Timeout
}

// Stats returns a snapshot of registry counters.
func (kl *KeyedLock) Stats() Stats {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s := kl.stats
	s.Held = len(kl.entries)
	return s
}

// Close stops the background sweeper.
func (kl *KeyedLock) Close() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

func (kl *KeyedLock) tryLock(key string) (uint64, bool) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	if e, ok := kl.entries[key]; ok {
		if time.Since(e.acquiredAt) <= kl.cfg.Timeout {
			return 0, false
		}
		// Leaked by a holder that never released; reclaim.
		kl.stats.Expired++
		metrics.LockContention.WithLabelValues("expired").Inc()
		delete(kl.entries, key)
	}
	kl.nextTok++
	kl.entries[key] = &entry{token: kl.nextTok, acquiredAt: time.Now()}
	kl.stats.Acquired++
	return kl.nextTok, true
}

// unlock releases key only if the caller still holds it; an expired-and-
// reclaimed lock must not release the new holder.
func (kl *KeyedLock) unlock(key string, token uint64) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	if e, ok := kl.entries[key]; ok && e.token == token {
		delete(kl.entries, key)
	}
}

func (kl *KeyedLock) countRetry() {
	kl.mu.Lock()
	kl.stats.Retried++
	kl.mu.Unlock()
}

func (kl *KeyedLock) countBusy() {
	kl.mu.Lock()
	kl.stats.Busy++
	kl.mu.Unlock()
}

func (kl *KeyedLock) sweep() {
	ticker := time.NewTicker(kl.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.mu.Lock()
			for key, e := range kl.entries {
				if time.Since(e.acquiredAt) > kl.cfg.Timeout {
					delete(kl.entries, key)
					kl.stats.Expired++
					metrics.LockContention.WithLabelValues("expired").Inc()
					kl.logger.Warn("reclaimed expired lock", zap.String("key", key))
				}
			}
			kl.mu.Unlock()
		}
	}
}
