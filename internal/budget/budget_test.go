package budget

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	fees  TierFees
	err   error
	calls int
}

func (s *stubProvider) TierFees(context.Context, bool) (TierFees, error) {
	s.calls++
	if s.err != nil {
		return TierFees{}, s.err
	}
	return s.fees, nil
}

func TestBudgetForTierSelection(t *testing.T) {
	o := NewOracle(DefaultConfig(), nil)
	ctx := context.Background()

	buy := o.BudgetFor(ctx, true, false)
	if buy.Tier != TierPriority || buy.ComputeUnits != 68_888 {
		t.Fatalf("unexpected buy budget: %+v", buy)
	}

	sell := o.BudgetFor(ctx, false, false)
	if sell.Tier != TierExpress || sell.ComputeUnits != 58_888 {
		t.Fatalf("unexpected sell budget: %+v", sell)
	}

	emergency := o.BudgetFor(ctx, false, true)
	if emergency.Tier != TierLightning {
		t.Fatalf("critical signals must use the emergency tier, got %s", emergency.Tier)
	}
	if emergency.PriorityFee != DefaultConfig().DefaultFees.Lightning {
		t.Fatalf("unexpected emergency fee: %d", emergency.PriorityFee)
	}
}

func TestProviderFeesAreCached(t *testing.T) {
	provider := &stubProvider{fees: TierFees{Priority: 1, Express: 2, Lightning: 3}}
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Minute
	o := NewOracle(cfg, provider)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b := o.BudgetFor(ctx, true, false)
		if b.PriorityFee != 1 {
			t.Fatalf("expected provider fee 1, got %d", b.PriorityFee)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single provider call within the TTL, got %d", provider.calls)
	}
}

func TestProviderFailureFallsBackToDefaults(t *testing.T) {
	provider := &stubProvider{err: errors.New("rpc down")}
	o := NewOracle(DefaultConfig(), provider)

	b := o.BudgetFor(context.Background(), true, false)
	if b.PriorityFee != DefaultConfig().DefaultFees.Priority {
		t.Fatalf("expected default fee fallback, got %d", b.PriorityFee)
	}
}

func TestParseTier(t *testing.T) {
	if tier, err := ParseTier(" Lightning "); err != nil || tier != TierLightning {
		t.Fatalf("expected lightning, got %q err=%v", tier, err)
	}
	if _, err := ParseTier("warp"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
