// Package engine routes asset events into strategies and strategy signals
// into the execution layer. The registry enforces at most one strategy per
// asset and a global concurrency cap.
package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/budget"
	"github.com/solrush/sniper/internal/event"
	"github.com/solrush/sniper/internal/filter"
	"github.com/solrush/sniper/internal/observability"
	"github.com/solrush/sniper/internal/signal"
	"github.com/solrush/sniper/internal/strategy"
)

// Executor runs one signal to completion and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, sig signal.Signal) signal.ExecutionResult
}

// Config sets the registry's limits and channel depths.
type Config struct {
	MaxConcurrentStrategies int             `yaml:"max_concurrent_strategies"`
	SignalBuffer            int             `yaml:"signal_buffer"`
	SelfStopBuffer          int             `yaml:"self_stop_buffer"`
	Strategy                strategy.Config `yaml:"strategy"`
}

// DefaultConfig allows 20 concurrent strategies with generous channel slack.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStrategies: 20,
		SignalBuffer:            256,
		SelfStopBuffer:          64,
		Strategy:                strategy.DefaultConfig(),
	}
}

// Registry owns the live strategies and the signal pipeline between them and
// the executor.
type Registry struct {
	cfg     Config
	filter  *filter.Filter
	exec    Executor
	budgets *budget.Oracle

	strategies sync.Map // mint -> *strategy.Strategy
	byID       sync.Map // strategy id -> *strategy.Strategy
	active     atomic.Int64

	signals  chan signal.Signal
	selfStop chan string

	wg      conc.WaitGroup
	runners *pool.Pool
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool
}

// New builds a registry. The filter may be nil to accept every creation
// event; the budget oracle may be nil to send signals without budget hints.
func New(cfg Config, f *filter.Filter, exec Executor, budgets *budget.Oracle) *Registry {
	if cfg.MaxConcurrentStrategies <= 0 {
		cfg.MaxConcurrentStrategies = DefaultConfig().MaxConcurrentStrategies
	}
	if cfg.SignalBuffer <= 0 {
		cfg.SignalBuffer = DefaultConfig().SignalBuffer
	}
	if cfg.SelfStopBuffer <= 0 {
		cfg.SelfStopBuffer = DefaultConfig().SelfStopBuffer
	}
	return &Registry{
		cfg:      cfg,
		filter:   f,
		exec:     exec,
		budgets:  budgets,
		signals:  make(chan signal.Signal, cfg.SignalBuffer),
		selfStop: make(chan string, cfg.SelfStopBuffer),
		runners:  pool.New().WithMaxGoroutines(cfg.MaxConcurrentStrategies + 1),
	}
}

// Start launches the signal and self-stop consumer loops.
func (r *Registry) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Go(func() { r.consumeSignals(ctx) })
	r.wg.Go(func() { r.consumeSelfStops(ctx) })
}

// HandleEvent routes one asset event: creations are filtered and may open a
// strategy, trades update the matching strategy's price view.
func (r *Registry) HandleEvent(ctx context.Context, ev event.AssetEvent) {
	switch ev.Kind {
	case event.KindCreation:
		if r.filter != nil {
			verdict := r.filter.Evaluate(&ev)
			if !verdict.Passed {
				observability.Telemetry().IncCounter(observability.MetricEventsFiltered, 1,
					map[string]string{"reason": verdict.Reason})
				observability.Log().Debug("creation filtered",
					observability.F("mint", ev.Mint),
					observability.F("reason", verdict.Reason))
				return
			}
		}
		if _, err := r.CreateStrategy(ctx, ev); err != nil {
			observability.Log().Debug("strategy not created",
				observability.F("mint", ev.Mint),
				observability.F("error", err.Error()))
		}
	case event.KindBuy, event.KindSell:
		if s, ok := r.lookup(ev.Mint); ok {
			if ref, priced := ev.ReferencePrice(); priced {
				s.OnPriceUpdate(ref.Price, ref.Source)
			}
		}
	default:
		// unknown kinds are dropped silently
	}
}

// CreateStrategy opens a strategy for the asset if the cap allows and no
// strategy already covers the mint. The slot is reserved on the counter
// before the map insertion so concurrent creations cannot overshoot the cap.
func (r *Registry) CreateStrategy(ctx context.Context, ev event.AssetEvent) (*strategy.Strategy, error) {
	if r.stopped.Load() {
		return nil, errs.New("engine", errs.CodeUnavailable,
			errs.WithMessage("registry is shut down"))
	}
	if _, ok := ev.ReferencePrice(); !ok {
		return nil, errs.New("engine", errs.CodeMissingPricing,
			errs.WithMessage("no reference price derivable from creation event"),
			errs.WithField("mint", ev.Mint))
	}
	for {
		current := r.active.Load()
		if current >= int64(r.cfg.MaxConcurrentStrategies) {
			return nil, errs.New("engine", errs.CodeCapacityExceeded,
				errs.WithMessage("concurrent strategy cap reached"),
				errs.WithField("mint", ev.Mint),
				errs.WithField("cap", strconv.Itoa(r.cfg.MaxConcurrentStrategies)))
		}
		if r.active.CompareAndSwap(current, current+1) {
			break
		}
	}

	s := strategy.New(ev, r.cfg.Strategy, r.signals, r.selfStop)
	if _, loaded := r.strategies.LoadOrStore(ev.Mint, s); loaded {
		// Lost the insertion race: another strategy already owns this mint.
		r.active.Add(-1)
		return nil, errs.New("engine", errs.CodeDuplicateStrategy,
			errs.WithMessage("strategy already active for asset"),
			errs.WithField("mint", ev.Mint))
	}
	r.byID.Store(s.ID(), s)

	observability.Telemetry().IncCounter(observability.MetricStrategiesCreated, 1, nil)
	observability.Telemetry().SetGauge(observability.MetricActiveStrategies, float64(r.active.Load()), nil)
	observability.Log().Info("strategy created",
		observability.F("strategy_id", s.ID()),
		observability.F("mint", ev.Mint),
		observability.F("active", r.active.Load()))

	r.runners.Go(func() { s.Run(ctx) })
	return s, nil
}

// StopStrategy requests a stop for the asset's strategy. Stopping an unknown
// mint is a no-op; removal happens when the strategy self-stops.
func (r *Registry) StopStrategy(mint string) bool {
	s, ok := r.lookup(mint)
	if !ok {
		return false
	}
	s.Stop()
	return true
}

// StopAll stops every strategy concurrently and waits for the fleet to
// drain, then shuts the consumer loops down.
func (r *Registry) StopAll() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	var wg conc.WaitGroup
	r.strategies.Range(func(_, value any) bool {
		s := value.(*strategy.Strategy)
		wg.Go(s.Stop)
		return true
	})
	wg.Wait()
	r.runners.Wait()

	// Emergency sells queued behind the consumer must still reach the
	// executor; an exit is never abandoned at shutdown.
	r.drainSignals()

	// Drain remaining self-stop notifications so bookkeeping settles.
	for {
		select {
		case id := <-r.selfStop:
			r.remove(id)
		default:
			if r.cancel != nil {
				r.cancel()
			}
			r.wg.Wait()
			return
		}
	}
}

// drainSignals executes whatever the consumer loop has not picked up yet.
// The loop and this drain compete on the same channel, so each pending signal
// is dispatched exactly once.
func (r *Registry) drainSignals() {
	for {
		select {
		case sig := <-r.signals:
			r.dispatch(context.Background(), sig)
		default:
			return
		}
	}
}

// GetActiveCount reports the number of reserved strategy slots.
func (r *Registry) GetActiveCount() int {
	return int(r.active.Load())
}

// GetActiveSummaries snapshots every live strategy for status reporting.
func (r *Registry) GetActiveSummaries() []strategy.Summary {
	out := make([]strategy.Summary, 0, r.GetActiveCount())
	r.strategies.Range(func(_, value any) bool {
		out = append(out, value.(*strategy.Strategy).Summary())
		return true
	})
	return out
}

func (r *Registry) lookup(mint string) (*strategy.Strategy, bool) {
	value, ok := r.strategies.Load(mint)
	if !ok {
		return nil, false
	}
	return value.(*strategy.Strategy), true
}

// consumeSignals validates, stamps, and executes signals in arrival order.
// The single loop is the serialization point that keeps a strategy's signals
// in send order.
func (r *Registry) consumeSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-r.signals:
			r.dispatch(ctx, sig)
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, sig signal.Signal) {
	if sig.Expired(time.Now()) {
		observability.Telemetry().IncCounter(observability.MetricSignalsDropped, 1,
			map[string]string{"kind": string(sig.Kind), "cause": "expired"})
		observability.Log().Warn("signal expired before dispatch",
			observability.F("strategy_id", sig.StrategyID),
			observability.F("mint", sig.Mint),
			observability.F("kind", string(sig.Kind)))
		r.notifyDropped(sig)
		return
	}
	if r.budgets != nil {
		sig = sig.WithBudget(r.budgets.BudgetFor(ctx, sig.Kind == signal.KindBuy, sig.Emergency()))
	}
	if err := sig.Validate(); err != nil {
		observability.Telemetry().IncCounter(observability.MetricSignalsDropped, 1,
			map[string]string{"kind": string(sig.Kind), "cause": "invalid"})
		observability.Log().Error("invalid signal dropped",
			observability.F("strategy_id", sig.StrategyID),
			observability.F("mint", sig.Mint),
			observability.F("error", err.Error()))
		r.notifyDropped(sig)
		return
	}

	r.routeResult(r.exec.Execute(ctx, sig))
}

// notifyDropped lets the originating strategy react to a signal that was
// discarded instead of executed, so a lost sell cannot wedge its exit path.
func (r *Registry) notifyDropped(sig signal.Signal) {
	if value, ok := r.byID.Load(sig.StrategyID); ok {
		value.(*strategy.Strategy).SignalDropped(sig)
	}
}

// routeResult hands the execution outcome back to the originating strategy.
// A strategy removed mid-flight gets its result logged instead of applied.
func (r *Registry) routeResult(res signal.ExecutionResult) {
	value, ok := r.byID.Load(res.StrategyID)
	if !ok {
		observability.Log().Warn("execution result for removed strategy",
			observability.F("strategy_id", res.StrategyID),
			observability.F("mint", res.Mint),
			observability.F("success", res.Success))
		return
	}
	value.(*strategy.Strategy).HandleExecutionResult(res)
}

func (r *Registry) consumeSelfStops(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.selfStop:
			r.remove(id)
		}
	}
}

// remove releases the slot for a self-stopped strategy.
func (r *Registry) remove(id string) {
	value, ok := r.byID.LoadAndDelete(id)
	if !ok {
		return
	}
	s := value.(*strategy.Strategy)
	// Only delete the mint mapping if it still points at this strategy; a
	// replacement may already occupy the slot.
	if cur, ok := r.strategies.Load(s.Mint()); ok && cur.(*strategy.Strategy).ID() == id {
		r.strategies.Delete(s.Mint())
	}
	active := r.active.Add(-1)
	observability.Telemetry().SetGauge(observability.MetricActiveStrategies, float64(active), nil)
	observability.Log().Info("strategy removed",
		observability.F("strategy_id", id),
		observability.F("mint", s.Mint()),
		observability.F("status", s.Status().String()),
		observability.F("pnl_lamports", s.Position().PnL()),
		observability.F("active", active))
}
