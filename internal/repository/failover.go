package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bookslot/internal/domain"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long the primary stays bypassed after a failure.
const recoveryInterval = time.Minute

// FailoverGuardStore uses the primary store until it errors, then serves from
// the fallback and retries the primary once recoveryInterval has passed.
type FailoverGuardStore struct {
	primary  domain.GuardStore
	fallback domain.GuardStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverGuardStore(primary, fallback domain.GuardStore, logger *zerolog.Logger) *FailoverGuardStore {
	return &FailoverGuardStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverGuardStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverGuardStore) markDown(err error, op string) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Str("operation", op).Msg("Primary guard store failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverGuardStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary guard store recovered")
	}
}

func (r *FailoverGuardStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if r.usePrimary() {
		token, ok, err := r.primary.AcquireLock(ctx, key, ttl)
		if err == nil {
			r.markUp()
			return token, ok, nil
		}
		r.markDown(err, "acquire_lock")
	}
	return r.fallback.AcquireLock(ctx, key, ttl)
}

// ReleaseLock releases on both stores; a token only matches where it was issued.
func (r *FailoverGuardStore) ReleaseLock(ctx context.Context, key, token string) error {
	if err := r.primary.ReleaseLock(ctx, key, token); err != nil {
		r.markDown(err, "release_lock")
	}
	return r.fallback.ReleaseLock(ctx, key, token)
}

func (r *FailoverGuardStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err, "rate_limit")
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
