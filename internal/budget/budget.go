// Package budget supplies execution-budget hints (compute units and priority
// fee tiers) stamped onto trade signals before dispatch.
package budget

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/observability"
)

// Tier names a priority-fee tier, ordered from cheapest to most aggressive.
type Tier string

const (
	TierPriority  Tier = "priority"
	TierExpress   Tier = "express"
	TierLightning Tier = "lightning"
)

// ParseTier normalizes a configured tier name.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "priority":
		return TierPriority, nil
	case "express":
		return TierExpress, nil
	case "lightning":
		return TierLightning, nil
	default:
		return "", errs.New("budget", errs.CodeInvalid, errs.WithMessage("unknown fee tier: "+s))
	}
}

// Budget is the execution-budget hint attached to one signal.
type Budget struct {
	ComputeUnits uint32
	Tier         Tier
	// PriorityFee is the per-compute-unit fee in micro-lamports.
	PriorityFee uint64
}

// TierFees holds the current fee quote for each tier.
type TierFees struct {
	Priority  uint64 `yaml:"priority"`
	Express   uint64 `yaml:"express"`
	Lightning uint64 `yaml:"lightning"`
}

func (f TierFees) fee(t Tier) uint64 {
	switch t {
	case TierExpress:
		return f.Express
	case TierLightning:
		return f.Lightning
	default:
		return f.Priority
	}
}

// Config carries the oracle defaults. All values are configurable rather than
// baked in, so a deployment can tune the no-provider fallback.
type Config struct {
	BuyComputeUnits  uint32        `yaml:"buy_compute_units"`
	SellComputeUnits uint32        `yaml:"sell_compute_units"`
	BuyTier          Tier          `yaml:"buy_tier"`
	SellTier         Tier          `yaml:"sell_tier"`
	EmergencyTier    Tier          `yaml:"emergency_tier"`
	DefaultFees      TierFees      `yaml:"default_fees"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the shipped oracle defaults.
func DefaultConfig() Config {
	return Config{
		BuyComputeUnits:  68_888,
		SellComputeUnits: 58_888,
		BuyTier:          TierPriority,
		SellTier:         TierExpress,
		EmergencyTier:    TierLightning,
		DefaultFees: TierFees{
			Priority:  50_000,
			Express:   150_000,
			Lightning: 500_000,
		},
		CacheTTL: 30 * time.Second,
	}
}

// FeeProvider fetches live tier quotes. The oracle treats provider absence or
// failure as "use the configured defaults", never as a hard error.
type FeeProvider interface {
	TierFees(ctx context.Context, isBuy bool) (TierFees, error)
}

type cachedFees struct {
	fees      TierFees
	fetchedAt time.Time
}

// Oracle resolves budgets from a TTL-cached fee provider with configured
// defaults as fallback.
type Oracle struct {
	cfg      Config
	provider FeeProvider

	mu   sync.Mutex
	buy  cachedFees
	sell cachedFees
}

// NewOracle builds an oracle; provider may be nil.
func NewOracle(cfg Config, provider FeeProvider) *Oracle {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Oracle{cfg: cfg, provider: provider}
}

// BudgetFor returns the budget for one signal. Critical signals always use
// the emergency tier.
func (o *Oracle) BudgetFor(ctx context.Context, isBuy, critical bool) Budget {
	var tier Tier
	switch {
	case critical:
		tier = o.cfg.EmergencyTier
	case isBuy:
		tier = o.cfg.BuyTier
	default:
		tier = o.cfg.SellTier
	}

	units := o.cfg.SellComputeUnits
	if isBuy {
		units = o.cfg.BuyComputeUnits
	}

	return Budget{
		ComputeUnits: units,
		Tier:         tier,
		PriorityFee:  o.fees(ctx, isBuy).fee(tier),
	}
}

func (o *Oracle) fees(ctx context.Context, isBuy bool) TierFees {
	if o.provider == nil {
		return o.cfg.DefaultFees
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cache := &o.sell
	if isBuy {
		cache = &o.buy
	}
	if !cache.fetchedAt.IsZero() && time.Since(cache.fetchedAt) < o.cfg.CacheTTL {
		return cache.fees
	}

	fees, err := o.provider.TierFees(ctx, isBuy)
	if err != nil {
		observability.Log().Warn("fee provider unavailable, using defaults",
			observability.F("error", err))
		return o.cfg.DefaultFees
	}
	cache.fees = fees
	cache.fetchedAt = time.Now()
	return fees
}
