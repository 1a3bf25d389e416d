package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/event"
	"github.com/solrush/sniper/internal/filter"
	"github.com/solrush/sniper/internal/signal"
)

// fakeExecutor fills every signal at its reference price floor.
type fakeExecutor struct {
	mu    sync.Mutex
	seen  []signal.Signal
	delay time.Duration
}

func (e *fakeExecutor) Execute(ctx context.Context, sig signal.Signal) signal.ExecutionResult {
	e.mu.Lock()
	e.seen = append(e.seen, sig)
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	params, err := sig.TradeParams()
	if err != nil {
		return signal.ExecutionResult{SignalID: sig.ID, StrategyID: sig.StrategyID, Mint: sig.Mint, Err: err}
	}
	res := signal.ExecutionResult{
		SignalID:   sig.ID,
		StrategyID: sig.StrategyID,
		Mint:       sig.Mint,
		IsBuy:      params.IsBuy,
		Success:    true,
		Backend:    "fake",
	}
	if params.IsBuy {
		res.UnitsFilled = params.MinUnitsOut
		res.FundsMoved = params.FundingLamports
	} else {
		res.UnitsFilled = params.UnitAmount
		res.FundsMoved = params.MinFundsOut
	}
	return res
}

func (e *fakeExecutor) signals() []signal.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal.Signal(nil), e.seen...)
}

func creationEvent(mint string) event.AssetEvent {
	return event.AssetEvent{
		Signature:     "sig-" + mint,
		Slot:          1,
		Mint:          mint,
		Kind:          event.KindCreation,
		Detection:     "unadjusted",
		FundingAmount: 2_000_000_000,
		AssetAmount:   1_000_000_000_000_000,
		Creator:       "creator",
		Name:          "Token " + mint,
		ObservedAt:    time.Now(),
	}
}

func fastRegistryConfig(maxStrategies int) Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrentStrategies = maxStrategies
	cfg.Strategy.TickInterval = 5 * time.Millisecond
	cfg.Strategy.SelfStopGrace = 5 * time.Millisecond
	cfg.Strategy.HoldDuration = time.Hour
	return cfg
}

func TestCreateStrategyDuplicateRejected(t *testing.T) {
	r := New(fastRegistryConfig(10), nil, &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	_, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)

	_, err = r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.Equal(t, errs.CodeDuplicateStrategy, errs.CodeOf(err))
	require.Equal(t, 1, r.GetActiveCount())
}

func TestConcurrencyCap(t *testing.T) {
	r := New(fastRegistryConfig(3), nil, &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	for i := 0; i < 3; i++ {
		_, err := r.CreateStrategy(context.Background(), creationEvent(fmt.Sprintf("mint-%d", i)))
		require.NoError(t, err)
	}
	_, err := r.CreateStrategy(context.Background(), creationEvent("mint-overflow"))
	require.Equal(t, errs.CodeCapacityExceeded, errs.CodeOf(err))
	require.Equal(t, 3, r.GetActiveCount())
}

func TestConcurrentCreationsNeverOvershoot(t *testing.T) {
	const limit = 8
	r := New(fastRegistryConfig(limit), nil, &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	var wg sync.WaitGroup
	created := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := r.CreateStrategy(context.Background(), creationEvent(fmt.Sprintf("mint-%d", n))); err == nil {
				created <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(created)

	count := 0
	for range created {
		count++
	}
	require.Equal(t, limit, count)
	require.Equal(t, limit, r.GetActiveCount())
}

func TestDuplicateRaceSingleWinner(t *testing.T) {
	r := New(fastRegistryConfig(32), nil, &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.CreateStrategy(context.Background(), creationEvent("same-mint")); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
	require.Equal(t, 1, r.GetActiveCount())
}

func TestFilteredCreationDoesNotOpenStrategy(t *testing.T) {
	criteria := filter.DefaultSniperCriteria()
	r := New(fastRegistryConfig(10), filter.New(criteria), &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	ev := creationEvent("mint-scam")
	ev.Name = "totally a scam"
	r.HandleEvent(context.Background(), ev)
	require.Equal(t, 0, r.GetActiveCount())

	r.HandleEvent(context.Background(), creationEvent("mint-good"))
	require.Equal(t, 1, r.GetActiveCount())
}

func TestPipelineBuyThenStop(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(fastRegistryConfig(10), nil, exec, nil)
	r.Start(context.Background())

	s, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Position().HasHoldings()
	}, time.Second, 5*time.Millisecond, "buy never filled")

	require.True(t, r.StopStrategy("mint-a"))
	require.Eventually(t, func() bool {
		return r.GetActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "slot never released")

	kinds := make([]signal.Kind, 0)
	for _, sig := range exec.signals() {
		kinds = append(kinds, sig.Kind)
	}
	require.Equal(t, []signal.Kind{signal.KindBuy, signal.KindSell}, kinds)
	r.StopAll()
}

func TestSlotReleasedAfterSelfStopAllowsReplacement(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(fastRegistryConfig(1), nil, exec, nil)
	r.Start(context.Background())
	defer r.StopAll()

	_, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)

	_, err = r.CreateStrategy(context.Background(), creationEvent("mint-b"))
	require.Equal(t, errs.CodeCapacityExceeded, errs.CodeOf(err))

	r.StopStrategy("mint-a")
	require.Eventually(t, func() bool {
		return r.GetActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = r.CreateStrategy(context.Background(), creationEvent("mint-b"))
	require.NoError(t, err)
}

func TestTradeEventRoutesPriceUpdate(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := fastRegistryConfig(10)
	cfg.Strategy.TakeProfitBps = 5000
	r := New(cfg, nil, exec, nil)
	r.Start(context.Background())
	defer r.StopAll()

	s, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Position().HasHoldings()
	}, time.Second, 5*time.Millisecond)

	// A later trade at many times the entry price trips the take profit.
	r.HandleEvent(context.Background(), event.AssetEvent{
		Mint:          "mint-a",
		Kind:          event.KindBuy,
		Detection:     "unadjusted",
		FundingAmount: 8_000_000_000,
		AssetAmount:   1_000_000_000_000,
		ObservedAt:    time.Now(),
	})

	require.Eventually(t, func() bool {
		for _, sig := range exec.signals() {
			if sig.Kind == signal.KindSell && sig.Reason == "take profit" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestStopAllDrainsFleet(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(fastRegistryConfig(16), nil, exec, nil)
	r.Start(context.Background())

	for i := 0; i < 5; i++ {
		_, err := r.CreateStrategy(context.Background(), creationEvent(fmt.Sprintf("mint-%d", i)))
		require.NoError(t, err)
	}
	r.StopAll()
	require.Equal(t, 0, r.GetActiveCount())
	require.Empty(t, r.GetActiveSummaries())
}

func nextQueued(t *testing.T, r *Registry) signal.Signal {
	t.Helper()
	select {
	case sig := <-r.signals:
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal queued")
		return signal.Signal{}
	}
}

func TestCreateStrategyRequiresReferencePrice(t *testing.T) {
	r := New(fastRegistryConfig(4), nil, &fakeExecutor{}, nil)
	r.Start(context.Background())
	defer r.StopAll()

	ev := creationEvent("mint-unpriced")
	ev.FundingAmount = 0
	s, err := r.CreateStrategy(context.Background(), ev)
	require.Nil(t, s)
	require.Equal(t, errs.CodeMissingPricing, errs.CodeOf(err))
	require.Equal(t, 0, r.GetActiveCount())
}

func TestDroppedSellReleasesStrategyExit(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := fastRegistryConfig(4)
	cfg.Strategy.TakeProfitBps = 5000
	// Consumers stay off so the test drives dispatch by hand.
	r := New(cfg, nil, exec, nil)

	s, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)
	r.dispatch(context.Background(), nextQueued(t, r))
	require.True(t, s.Position().HasHoldings())

	s.OnPriceUpdate(decimal.RequireFromString("0.00001"), "pump-buy")
	timed := nextQueued(t, r)
	require.Equal(t, signal.KindSell, timed.Kind)
	timed.ExpiresAt = time.Now().Add(-time.Second)
	r.dispatch(context.Background(), timed)

	// The discarded exit must not wedge the sell path: a forced stop still
	// gets its emergency sell out.
	require.True(t, r.StopStrategy("mint-a"))
	emergency := nextQueued(t, r)
	require.Equal(t, signal.KindSell, emergency.Kind)
	require.True(t, emergency.Emergency())
	r.dispatch(context.Background(), emergency)
	require.True(t, s.Position().Closed())
	r.StopAll()
}

func TestStopAllExecutesQueuedExits(t *testing.T) {
	exec := &fakeExecutor{}
	// Consumers never start: signals queue up until shutdown drains them.
	r := New(fastRegistryConfig(4), nil, exec, nil)

	s, err := r.CreateStrategy(context.Background(), creationEvent("mint-a"))
	require.NoError(t, err)
	r.dispatch(context.Background(), nextQueued(t, r))
	require.True(t, s.Position().HasHoldings())

	r.StopAll()

	require.True(t, s.Position().Closed(), "queued exit was not executed at shutdown")
	seen := exec.signals()
	require.Equal(t, signal.KindSell, seen[len(seen)-1].Kind)
	require.Equal(t, 0, r.GetActiveCount())
}

func TestExpiredSignalDropped(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(fastRegistryConfig(4), nil, exec, nil)
	r.Start(context.Background())
	defer r.StopAll()

	sig := signal.NewEmergencySell("ghost", "mint-x", 100, "late", decimal.Zero, "", "")
	sig.ExpiresAt = time.Now().Add(-time.Second)
	r.signals <- sig

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, exec.signals())
}
