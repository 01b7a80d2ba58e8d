package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/CedrosPay/payguard/internal/errors"
)

// DefaultClaimTTL bounds how long a cross-process claim survives a crashed computation.
const DefaultClaimTTL = 30 * time.Second

// WebhookKey synthesizes the dedup key for a provider notification.
func WebhookKey(prefix, notificationType, dataID string) string {
	return prefix + ":webhook:" + notificationType + ":" + dataID
}

// Guard runs computations at most once per key within the TTL.
// Concurrent callers in one process share a single in-flight computation; stores that
// implement Claimer extend this across processes.
type Guard struct {
	store    Store
	group    singleflight.Group
	claimTTL time.Duration
	logger   zerolog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClaimTTL sets the lifetime of cross-process claims.
func WithClaimTTL(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.claimTTL = d
		}
	}
}

// WithLogger sets the logger used for cache write failures.
func WithLogger(logger zerolog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard wraps a store.
func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:    store,
		claimTTL: DefaultClaimTTL,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns the cached value for key.
func (g *Guard) Get(ctx context.Context, key string) ([]byte, bool) {
	rec, ok := g.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// Set caches value for key.
func (g *Guard) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.store.Set(ctx, key, value, ttl)
}

type flightResult struct {
	value    []byte
	replayed bool
}

// GetOrCompute returns the cached value for key, or runs compute and caches its result.
// Failed computations are not cached. compute runs on a context detached from ctx's
// cancellation: when ctx ends first the caller gets ctx.Err() while the computation
// finishes and populates the cache for the retry.
func (g *Guard) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := g.Get(ctx, key); ok {
		return value, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		return g.run(detached, key, ttl, compute)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		fr := res.Val.(flightResult)
		return fr.value, fr.replayed, nil
	}
}

func (g *Guard) run(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) (result flightResult, err error) {
	// A flight that started after a previous one cached its result must not recompute.
	if value, ok := g.Get(ctx, key); ok {
		return flightResult{value: value, replayed: true}, nil
	}

	if claimer, ok := g.store.(Claimer); ok {
		claimed, err := claimer.Claim(ctx, key, g.claimTTL)
		if err != nil {
			return flightResult{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "idempotency claim failed")
		}
		if !claimed {
			if value, ok := g.Get(ctx, key); ok {
				return flightResult{value: value, replayed: true}, nil
			}
			return flightResult{}, apierrors.ErrRequestInFlight
		}
		defer func() {
			if relErr := claimer.Release(ctx, key); relErr != nil {
				g.logger.Warn().Err(relErr).Str("key", key).Msg("idempotency.release_failed")
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = apierrors.Wrap(apierrors.ErrCodeInternalError, fmt.Errorf("%v", r), "computation panicked")
		}
	}()

	value, err := compute(ctx)
	if err != nil {
		return flightResult{}, err
	}

	if err := g.store.Set(ctx, key, value, ttl); err != nil {
		g.logger.Error().Err(err).Str("key", key).Msg("idempotency.store_failed")
	}
	return flightResult{value: value}, nil
}

// Do is GetOrCompute for JSON-encodable results.
func Do[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	raw, replayed, err := g.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "decode cached result")
	}
	return out, replayed, nil
}
