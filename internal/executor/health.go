package executor

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/solrush/sniper/internal/observability"
)

const (
	defaultHealthTTL       = 30 * time.Second
	defaultProbeTimeout    = 2 * time.Second
	healthProbeConcurrency = 4
)

type healthEntry struct {
	err       error
	checkedAt time.Time
}

// HealthTracker caches per-backend health so the hot path never waits on a
// probe. Verdicts expire after the TTL; an expired entry counts as healthy
// until the next sweep refreshes it.
type HealthTracker struct {
	backends     []Backend
	ttl          time.Duration
	probeTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]healthEntry
}

// NewHealthTracker builds a tracker over the backends. Zero durations take
// the defaults of a 30s TTL and a 2s probe timeout.
func NewHealthTracker(backends []Backend, ttl, probeTimeout time.Duration) *HealthTracker {
	if ttl <= 0 {
		ttl = defaultHealthTTL
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &HealthTracker{
		backends:     backends,
		ttl:          ttl,
		probeTimeout: probeTimeout,
		entries:      make(map[string]healthEntry, len(backends)),
	}
}

// Healthy reports the cached verdict for a backend. Unknown or expired
// entries are treated as healthy so a cold cache never blocks trading.
func (h *HealthTracker) Healthy(name string) bool {
	h.mu.RLock()
	entry, ok := h.entries[name]
	h.mu.RUnlock()
	if !ok || time.Since(entry.checkedAt) > h.ttl {
		return true
	}
	return entry.err == nil
}

// CheckAll returns the per-backend verdicts, probing only when the cache has
// gone stale. Inside the TTL the last sweep's verdicts are served as-is, so
// frequent polling never multiplies probe traffic.
func (h *HealthTracker) CheckAll(ctx context.Context) map[string]error {
	if cached, ok := h.cachedVerdicts(); ok {
		return cached
	}

	verdicts := make(map[string]error, len(h.backends))
	var vmu sync.Mutex

	p := pool.New().WithMaxGoroutines(healthProbeConcurrency)
	for _, b := range h.backends {
		backend := b
		p.Go(func() {
			probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
			err := backend.HealthCheck(probeCtx)
			cancel()
			vmu.Lock()
			verdicts[backend.Name()] = err
			vmu.Unlock()
			if err != nil {
				observability.Log().Warn("backend unhealthy",
					observability.F("backend", backend.Name()),
					observability.F("error", err.Error()))
			}
		})
	}
	p.Wait()

	now := time.Now()
	h.mu.Lock()
	for name, err := range verdicts {
		h.entries[name] = healthEntry{err: err, checkedAt: now}
	}
	h.mu.Unlock()
	return verdicts
}

// cachedVerdicts reports the last sweep when every backend still has a fresh
// entry. Any missing or expired entry forces a real sweep.
func (h *HealthTracker) cachedVerdicts() (map[string]error, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	now := time.Now()
	out := make(map[string]error, len(h.backends))
	for _, b := range h.backends {
		entry, ok := h.entries[b.Name()]
		if !ok || now.Sub(entry.checkedAt) > h.ttl {
			return nil, false
		}
		out[b.Name()] = entry.err
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Run sweeps health on the interval until the context is cancelled.
func (h *HealthTracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = h.ttl
	}
	h.CheckAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}
