// Package strategy implements the per-asset trading lifecycle: enter on
// creation, hold with stop-loss and take-profit watching, exit on timer or
// on an external stop.
package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solrush/sniper/internal/event"
	"github.com/solrush/sniper/internal/observability"
	"github.com/solrush/sniper/internal/position"
	"github.com/solrush/sniper/internal/signal"
)

// Status is the strategy lifecycle state. Transitions only move forward
// except Running<->Paused.
type Status uint32

const (
	StatusInitializing Status = iota
	StatusRunning
	StatusPaused
	StatusStopping
	StatusStopped
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config holds per-strategy trading parameters.
type Config struct {
	BuyAmountLamports uint64        `yaml:"buy_amount_lamports"`
	MaxSlippageBps    uint16        `yaml:"max_slippage_bps"`
	HoldDuration      time.Duration `yaml:"hold_duration"`
	// StopLossBps and TakeProfitBps are measured against the average entry
	// price; zero disables the trigger.
	StopLossBps   uint32        `yaml:"stop_loss_bps"`
	TakeProfitBps uint32        `yaml:"take_profit_bps"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	SelfStopGrace time.Duration `yaml:"self_stop_grace"`
}

// DefaultConfig returns the sniper defaults: 0.01 SOL entries with 3%
// slippage, a 30s hold, 20% stop loss, 50% take profit.
func DefaultConfig() Config {
	return Config{
		BuyAmountLamports: 10_000_000,
		MaxSlippageBps:    300,
		HoldDuration:      30 * time.Second,
		StopLossBps:       2000,
		TakeProfitBps:     5000,
		TickInterval:      time.Second,
		SelfStopGrace:     2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SelfStopGrace < 0 {
		c.SelfStopGrace = 0
	}
	return c
}

// Strategy trades a single asset. Run drives the lifecycle in its own
// goroutine; all other methods are safe to call concurrently with it.
type Strategy struct {
	id      string
	mint    string
	creator string
	cfg     Config
	pos     *position.Position

	status atomic.Uint32

	signals  chan<- signal.Signal
	selfStop chan<- string

	stopCh   chan struct{}
	stopOnce sync.Once

	priceMu     sync.RWMutex
	lastPrice   decimal.Decimal
	priceSource string

	// exitRequested dedupes sell emission: one sell in flight at a time.
	exitRequested atomic.Bool

	startedAt time.Time
}

// New builds a strategy for the asset the event describes, seeding the
// reference price from the event's observed amounts when possible.
func New(ev event.AssetEvent, cfg Config, signals chan<- signal.Signal, selfStop chan<- string) *Strategy {
	s := &Strategy{
		id:        uuid.NewString(),
		mint:      ev.Mint,
		creator:   ev.Creator,
		cfg:       cfg.withDefaults(),
		signals:   signals,
		selfStop:  selfStop,
		stopCh:    make(chan struct{}),
		startedAt: time.Now(),
	}
	s.pos = position.New(ev.Mint, s.id)
	if ref, ok := ev.ReferencePrice(); ok {
		s.lastPrice = ref.Price
		s.priceSource = ref.Source
	}
	return s
}

func (s *Strategy) ID() string                   { return s.id }
func (s *Strategy) Mint() string                 { return s.mint }
func (s *Strategy) Position() *position.Position { return s.pos }

func (s *Strategy) Status() Status {
	return Status(s.status.Load())
}

func (s *Strategy) setStatus(v Status) {
	s.status.Store(uint32(v))
}

func (s *Strategy) transition(from, to Status) bool {
	return s.status.CompareAndSwap(uint32(from), uint32(to))
}

// Run executes the lifecycle until the position closes, Stop is called, or
// the context is cancelled. It always notifies the self-stop channel on the
// way out so the registry can release the slot.
func (s *Strategy) Run(ctx context.Context) {
	if !s.transition(StatusInitializing, StatusRunning) {
		return
	}
	defer s.finish()

	if err := s.emitEntry(); err != nil {
		s.setStatus(StatusErrored)
		observability.Log().Error("strategy entry failed",
			observability.F("strategy_id", s.id),
			observability.F("mint", s.mint),
			observability.F("error", err.Error()))
		return
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.beginStop("shutdown")
			return
		case <-s.stopCh:
			s.beginStop("stop requested")
			return
		case <-ticker.C:
			if s.pos.Closed() {
				s.transition(StatusRunning, StatusStopping)
				return
			}
			s.checkHoldDuration()
		}
	}
}

// Stop requests an exit. Idempotent; the run loop performs the emergency
// sell and self-stop notification.
func (s *Strategy) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Pause suspends trigger evaluation without tearing the strategy down.
func (s *Strategy) Pause() bool {
	return s.transition(StatusRunning, StatusPaused)
}

// Resume re-enables a paused strategy.
func (s *Strategy) Resume() bool {
	return s.transition(StatusPaused, StatusRunning)
}

func (s *Strategy) emitEntry() error {
	price, source := s.price()
	sig, err := signal.NewBuy(s.id, s.mint, s.cfg.BuyAmountLamports, s.cfg.MaxSlippageBps,
		"creation entry", price, source, s.creator)
	if err != nil {
		return err
	}
	s.pos.Advance(position.StatusBuying)
	s.send(sig)
	return nil
}

// beginStop moves a live strategy to Stopping; an Errored strategy keeps its
// terminal status while still getting the emergency exit.
func (s *Strategy) beginStop(reason string) {
	s.transition(StatusRunning, StatusStopping)
	s.transition(StatusPaused, StatusStopping)
	if s.pos.HasHoldings() && s.exitRequested.CompareAndSwap(false, true) {
		price, source := s.price()
		sig := signal.NewEmergencySell(s.id, s.mint, s.pos.TokenAmount(), reason, price, source, s.creator)
		s.pos.Advance(position.StatusSelling)
		s.send(sig)
	}
}

func (s *Strategy) checkHoldDuration() {
	if s.Status() != StatusRunning || s.cfg.HoldDuration <= 0 || !s.pos.HasHoldings() {
		return
	}
	first := s.pos.FirstBuyAt()
	if first.IsZero() || time.Since(first) < s.cfg.HoldDuration {
		return
	}
	s.requestExit("hold duration elapsed")
}

// OnPriceUpdate records the latest observed price and evaluates the
// stop-loss and take-profit triggers against the average entry price.
func (s *Strategy) OnPriceUpdate(price decimal.Decimal, source string) {
	if price.Sign() <= 0 {
		return
	}
	s.priceMu.Lock()
	s.lastPrice = price
	s.priceSource = source
	s.priceMu.Unlock()

	if s.Status() != StatusRunning || !s.pos.HasHoldings() {
		return
	}
	entry := s.entryPrice()
	if entry.Sign() <= 0 {
		return
	}
	if s.cfg.StopLossBps > 0 {
		floor := entry.Mul(decimal.NewFromInt(10_000 - int64(s.cfg.StopLossBps))).Div(decimal.NewFromInt(10_000))
		if price.LessThanOrEqual(floor) {
			s.requestExit("stop loss")
			return
		}
	}
	if s.cfg.TakeProfitBps > 0 {
		ceiling := entry.Mul(decimal.NewFromInt(10_000 + int64(s.cfg.TakeProfitBps))).Div(decimal.NewFromInt(10_000))
		if price.GreaterThanOrEqual(ceiling) {
			s.requestExit("take profit")
		}
	}
}

// HandleExecutionResult applies a completed execution to the position.
func (s *Strategy) HandleExecutionResult(res signal.ExecutionResult) {
	if res.IsBuy {
		if !res.Success {
			s.transition(StatusRunning, StatusErrored)
			observability.Log().Warn("entry execution failed",
				observability.F("strategy_id", s.id),
				observability.F("mint", s.mint),
				observability.F("error", errText(res.Err)))
			if !s.pos.HasHoldings() {
				// Nothing acquired; wind the strategy down.
				s.Stop()
			}
			return
		}
		s.pos.RecordBuy(res.FundsMoved, res.UnitsFilled, res.FeeLamports)
		observability.Log().Info("position opened",
			observability.F("strategy_id", s.id),
			observability.F("mint", s.mint),
			observability.F("units", res.UnitsFilled),
			observability.F("backend", res.Backend))
		return
	}

	if !res.Success {
		// Terminal: no automatic retry. Re-arm the exit latch so a forced
		// stop can still emit an emergency sell.
		s.transition(StatusRunning, StatusErrored)
		s.exitRequested.Store(false)
		observability.Log().Error("exit execution failed",
			observability.F("strategy_id", s.id),
			observability.F("mint", s.mint),
			observability.F("error", errText(res.Err)))
		return
	}
	remaining := s.pos.RecordSell(res.FundsMoved, res.UnitsFilled, res.FeeLamports)
	if remaining > 0 {
		s.exitRequested.Store(false)
		return
	}
	observability.Log().Info("position closed",
		observability.F("strategy_id", s.id),
		observability.F("mint", s.mint),
		observability.F("pnl_lamports", s.pos.PnL()),
		observability.F("backend", res.Backend))
}

func (s *Strategy) requestExit(reason string) {
	if !s.exitRequested.CompareAndSwap(false, true) {
		return
	}
	price, source := s.price()
	amount := s.pos.TokenAmount()
	if amount == 0 {
		s.exitRequested.Store(false)
		return
	}
	sig, err := signal.NewSell(s.id, s.mint, amount, s.cfg.MaxSlippageBps, reason, price, source, s.creator)
	if err != nil {
		// No usable price; exit anyway rather than stay stuck holding.
		sig = signal.NewEmergencySell(s.id, s.mint, amount, reason, decimal.Zero, "", s.creator)
	}
	s.pos.Advance(position.StatusSelling)
	s.send(sig)
}

// SignalDropped tells the strategy one of its signals was discarded before
// execution. A discarded sell re-arms the exit latch so the position can
// still be sold by a later trigger or an emergency stop.
func (s *Strategy) SignalDropped(sig signal.Signal) {
	if sig.Kind == signal.KindSell {
		s.exitRequested.Store(false)
	}
}

func (s *Strategy) send(sig signal.Signal) {
	labels := map[string]string{"kind": string(sig.Kind)}
	select {
	case s.signals <- sig:
		observability.Telemetry().IncCounter(observability.MetricSignalsSent, 1, labels)
	default:
		observability.Telemetry().IncCounter(observability.MetricSignalsDropped, 1, labels)
		observability.Log().Error("signal channel full, dropping",
			observability.F("strategy_id", s.id),
			observability.F("mint", s.mint),
			observability.F("kind", string(sig.Kind)),
			observability.F("reason", sig.Reason))
		if sig.Kind == signal.KindSell {
			s.exitRequested.Store(false)
		}
	}
}

// finish gives an in-flight exit a grace period to settle before asking the
// registry to release the slot.
func (s *Strategy) finish() {
	if s.cfg.SelfStopGrace > 0 {
		time.Sleep(s.cfg.SelfStopGrace)
	}
	select {
	case s.selfStop <- s.id:
	default:
		observability.Log().Warn("self-stop channel full",
			observability.F("strategy_id", s.id))
	}
	s.transition(StatusStopping, StatusStopped)
}

func (s *Strategy) price() (decimal.Decimal, string) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()
	return s.lastPrice, s.priceSource
}

func (s *Strategy) entryPrice() decimal.Decimal {
	invested := s.pos.FundsInvested()
	tokens := s.pos.TokenAmount()
	if invested == 0 || tokens == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(invested).Div(decimal.NewFromUint64(tokens))
}

// Summary is a point-in-time view for status reporting.
type Summary struct {
	ID        string
	Mint      string
	Status    string
	Position  position.Snapshot
	LastPrice decimal.Decimal
	StartedAt time.Time
	Uptime    time.Duration
}

func (s *Strategy) Summary() Summary {
	price, _ := s.price()
	return Summary{
		ID:        s.id,
		Mint:      s.mint,
		Status:    s.Status().String(),
		Position:  s.pos.Snapshot(),
		LastPrice: price,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt),
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
