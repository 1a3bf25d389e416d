// Package executor dispatches trade parameters to submission backends,
// racing several of them and settling on the first success.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/observability"
	"github.com/solrush/sniper/internal/signal"
)

// Receipt is a backend's report of a landed trade.
type Receipt struct {
	Signature   string
	UnitsFilled uint64
	FundsMoved  uint64
	FeeLamports uint64
}

// Backend submits trades to one venue or relay.
type Backend interface {
	Name() string
	// ValidateParams rejects parameters this backend cannot submit. Called
	// before racing so a misconfigured backend fails fast.
	ValidateParams(params signal.TradeParams) error
	Execute(ctx context.Context, params signal.TradeParams) (Receipt, error)
	HealthCheck(ctx context.Context) error
}

// Coordinator races a set of backends per signal. Losing attempts run to
// completion; a landed duplicate is cheaper than an aborted half-submission.
type Coordinator struct {
	backends []Backend
	health   *HealthTracker
}

// NewCoordinator builds a coordinator over the given backends. The health
// tracker may be nil, in which case every backend is always raced.
func NewCoordinator(backends []Backend, health *HealthTracker) *Coordinator {
	return &Coordinator{backends: backends, health: health}
}

type attempt struct {
	index   int
	backend string
	receipt Receipt
	err     error
}

// Execute converts the signal to trade parameters and races it across the
// healthy backends. The returned result is always routable: it carries the
// strategy and signal identity even on failure.
func (c *Coordinator) Execute(ctx context.Context, sig signal.Signal) signal.ExecutionResult {
	started := time.Now()
	res := signal.ExecutionResult{
		SignalID:   sig.ID,
		StrategyID: sig.StrategyID,
		Mint:       sig.Mint,
		IsBuy:      sig.Kind == signal.KindBuy,
	}
	defer func() {
		res.Latency = time.Since(started)
		res.CompletedAt = time.Now()
		labels := map[string]string{"success": boolLabel(res.Success)}
		observability.Telemetry().IncCounter(observability.MetricExecutions, 1, labels)
		observability.Telemetry().ObserveHistogram(observability.MetricExecutionLatency,
			float64(res.Latency.Milliseconds()), labels)
	}()

	params, err := sig.TradeParams()
	if err != nil {
		res.Err = err
		return res
	}

	candidates := c.eligible(params)
	if len(candidates) == 0 {
		res.Err = errs.New("executor", errs.CodeUnavailable,
			errs.WithMessage("no backend accepted the trade parameters"),
			errs.WithField("mint", sig.Mint))
		return res
	}

	results := make(chan attempt, len(candidates))
	for i, b := range candidates {
		go func(idx int, backend Backend) {
			receipt, execErr := backend.Execute(ctx, params)
			results <- attempt{index: idx, backend: backend.Name(), receipt: receipt, err: execErr}
		}(i, b)
	}

	failures := make([]attempt, 0, len(candidates))
	for range candidates {
		a := <-results
		if a.err == nil {
			res.Success = true
			res.Backend = a.backend
			res.Signature = a.receipt.Signature
			res.UnitsFilled = a.receipt.UnitsFilled
			res.FundsMoved = a.receipt.FundsMoved
			res.FeeLamports = a.receipt.FeeLamports
			observability.Telemetry().IncCounter(observability.MetricRaceWins, 1,
				map[string]string{"backend": a.backend})
			return res
		}
		failures = append(failures, a)
	}

	res.Err = aggregateFailures(failures)
	return res
}

// eligible returns the backends worth racing: healthy ones whose validation
// accepts the parameters. When health data rules out every backend the full
// validated set is raced anyway; a stale health verdict must not block an
// exit.
func (c *Coordinator) eligible(params signal.TradeParams) []Backend {
	validated := make([]Backend, 0, len(c.backends))
	for _, b := range c.backends {
		if err := b.ValidateParams(params); err != nil {
			observability.Log().Warn("backend rejected parameters",
				observability.F("backend", b.Name()),
				observability.F("error", err.Error()))
			continue
		}
		validated = append(validated, b)
	}
	if c.health == nil {
		return validated
	}
	healthy := make([]Backend, 0, len(validated))
	for _, b := range validated {
		if c.health.Healthy(b.Name()) {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return validated
	}
	return healthy
}

// aggregateFailures folds per-backend errors into one, preserving the order
// in which the attempts settled.
func aggregateFailures(failures []attempt) error {
	parts := make([]string, 0, len(failures))
	opts := []errs.Option{errs.WithMessage("all backends failed")}
	for _, f := range failures {
		parts = append(parts, f.backend+": "+f.err.Error())
	}
	opts = append(opts, errs.WithField("attempts", strings.Join(parts, "; ")))
	if len(failures) > 0 {
		opts = append(opts, errs.WithCause(failures[0].err), errs.WithBackend(failures[0].backend))
	}
	return errs.New("executor", errs.CodeAllBackendsFailed, opts...)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
