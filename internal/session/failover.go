package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const retryPrimaryAfter = time.Minute

// FailoverStore writes to primary and switches to fallback while primary is
// failing. Primary is retried once retryAfter has elapsed. Writes made to
// the fallback during an outage, removals included, are replayed to primary
// before it serves again, so a recovered primary never returns a value the
// outage replaced or deleted.
type FailoverStore struct {
	primary    Store
	fallback   Store
	logger     *zerolog.Logger
	retryAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time

	// pmu guards pending and orders fallback writes against replay.
	pmu sync.Mutex
	// pending maps keys written during an outage to true for a set and
	// false for a removal.
	pending map[string]bool
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		retryAfter: retryPrimaryAfter,
		pending:    make(map[string]bool),
	}
}

func (f *FailoverStore) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastCheck) > f.retryAfter
}

func (f *FailoverStore) markDown(err error) {
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("session primary store failed, switching to fallback")
	}
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

func (f *FailoverStore) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("session primary store recovered")
	}
}

// replay writes the outage's pending changes to primary. It returns false,
// with primary marked down, when primary fails again.
func (f *FailoverStore) replay(ctx context.Context) bool {
	f.pmu.Lock()
	defer f.pmu.Unlock()
	if len(f.pending) == 0 {
		return true
	}

	replayed := 0
	for key, set := range f.pending {
		var err error
		if set {
			val, getErr := f.fallback.Get(ctx, key)
			switch {
			case getErr == nil:
				err = f.primary.Set(ctx, key, val)
			case errors.Is(getErr, ErrNotFound):
				err = f.primary.Remove(ctx, key)
			default:
				f.logger.Error().Err(getErr).Str("key", key).Msg("fallback read failed during replay")
				continue
			}
		} else {
			err = f.primary.Remove(ctx, key)
		}
		if err != nil {
			f.markDown(err)
			return false
		}
		delete(f.pending, key)
		if set {
			_ = f.fallback.Remove(ctx, key)
		}
		replayed++
	}
	f.logger.Info().Int("replayed", replayed).Msg("outage writes copied to session primary store")
	return len(f.pending) == 0
}

// settle forgets any outage copy of key after primary took a write for it.
func (f *FailoverStore) settle(ctx context.Context, key string) {
	f.pmu.Lock()
	defer f.pmu.Unlock()
	delete(f.pending, key)
	_ = f.fallback.Remove(ctx, key)
}

func (f *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.usePrimary() && f.replay(ctx) {
		val, err := f.primary.Get(ctx, key)
		switch {
		case err == nil:
			f.markUp()
			return val, nil
		case errors.Is(err, ErrNotFound):
			f.markUp()
			return nil, ErrNotFound
		}
		f.markDown(err)
	}

	f.pmu.Lock()
	defer f.pmu.Unlock()
	if set, ok := f.pending[key]; ok && !set {
		return nil, ErrNotFound
	}
	return f.fallback.Get(ctx, key)
}

func (f *FailoverStore) Set(ctx context.Context, key string, value []byte) error {
	if f.usePrimary() && f.replay(ctx) {
		err := f.primary.Set(ctx, key, value)
		if err == nil {
			f.markUp()
			f.settle(ctx, key)
			return nil
		}
		f.markDown(err)
	}

	f.pmu.Lock()
	defer f.pmu.Unlock()
	if err := f.fallback.Set(ctx, key, value); err != nil {
		return err
	}
	f.pending[key] = true
	return nil
}

func (f *FailoverStore) Remove(ctx context.Context, key string) error {
	if f.usePrimary() && f.replay(ctx) {
		err := f.primary.Remove(ctx, key)
		if err == nil {
			f.markUp()
			f.settle(ctx, key)
			return nil
		}
		f.markDown(err)
	}

	f.pmu.Lock()
	defer f.pmu.Unlock()
	_ = f.fallback.Remove(ctx, key)
	f.pending[key] = false
	return nil
}
