// Package chainstate keeps a recent chain reference (blockhash and slot)
// warm in memory so hot-path transaction building never waits on an RPC
// round trip.
package chainstate

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/observability"
)

// Ref is a point-in-time chain reference.
type Ref struct {
	Blockhash string
	Slot      uint64
	FetchedAt time.Time
}

// Provider fetches the latest chain reference from a node.
type Provider interface {
	LatestRef(ctx context.Context) (Ref, error)
}

// Cache refreshes a chain reference in the background and serves it from
// memory. A reference older than the staleness bound is refused rather than
// handed to transaction builders.
type Cache struct {
	provider  Provider
	interval  time.Duration
	staleness time.Duration

	mu  sync.RWMutex
	ref Ref

	wg     conc.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

const (
	defaultRefreshInterval = 2 * time.Second
	defaultStalenessBound  = 30 * time.Second
)

// NewCache builds a cache around the provider. Zero durations take the
// defaults of a 2s refresh interval and a 30s staleness bound.
func NewCache(provider Provider, refreshInterval, stalenessBound time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	if stalenessBound <= 0 {
		stalenessBound = defaultStalenessBound
	}
	return &Cache{provider: provider, interval: refreshInterval, staleness: stalenessBound}
}

// Start primes the cache once, then refreshes on the interval until Stop or
// context cancellation. The priming fetch retries with exponential backoff so
// a transient node hiccup at boot does not leave the cache empty.
func (c *Cache) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	ref, err := backoff.Retry(ctx, func() (Ref, error) {
		return c.provider.LatestRef(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(15*time.Second))
	if err != nil {
		return errs.New("chainstate", errs.CodeUnavailable,
			errs.WithMessage("initial chain reference fetch failed"),
			errs.WithCause(err))
	}
	c.store(ref)

	c.wg.Go(func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx)
			}
		}
	})
	return nil
}

// Stop halts the refresh loop and waits for it to exit.
func (c *Cache) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// Current returns the cached reference, or an error when the cache has never
// been primed or the reference has gone stale.
func (c *Cache) Current() (Ref, error) {
	c.mu.RLock()
	ref := c.ref
	c.mu.RUnlock()
	if ref.Blockhash == "" {
		return Ref{}, errs.New("chainstate", errs.CodeUnavailable,
			errs.WithMessage("chain reference cache not primed"))
	}
	if age := time.Since(ref.FetchedAt); age > c.staleness {
		return Ref{}, errs.New("chainstate", errs.CodeUnavailable,
			errs.WithMessage("chain reference stale"),
			errs.WithField("age", age.String()))
	}
	return ref, nil
}

// Age reports how old the cached reference is; a zero ref reports the
// staleness bound so callers treat it as unusable.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ref.Blockhash == "" {
		return c.staleness
	}
	return time.Since(c.ref.FetchedAt)
}

func (c *Cache) store(ref Ref) {
	if ref.FetchedAt.IsZero() {
		ref.FetchedAt = time.Now()
	}
	c.mu.Lock()
	// Never regress to an older slot; an RPC behind a load balancer can
	// answer out of order.
	if ref.Slot >= c.ref.Slot {
		c.ref = ref
	}
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	ref, err := c.provider.LatestRef(fetchCtx)
	if err != nil {
		observability.Log().Warn("chain reference refresh failed",
			observability.F("error", err.Error()))
		return
	}
	c.store(ref)
}
