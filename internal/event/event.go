// Package event defines the normalized asset events consumed by the engine.
package event

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a normalized asset event.
type Kind string

const (
	// KindCreation marks the first appearance of a tradable asset.
	KindCreation Kind = "creation"
	// KindBuy marks an observed buy trade for an asset.
	KindBuy Kind = "buy"
	// KindSell marks an observed sell trade for an asset.
	KindSell Kind = "sell"
	// KindUnknown marks an event the upstream decoder could not classify.
	KindUnknown Kind = "unknown"
)

// AssetEvent is one normalized observation delivered by the event source.
// Amounts are in base units (lamports for funding, raw units for the asset).
type AssetEvent struct {
	Signature     string    `json:"signature"`
	Slot          uint64    `json:"slot"`
	Mint          string    `json:"mint"`
	Kind          Kind      `json:"kind"`
	Detection     string    `json:"detection_method"`
	FundingAmount uint64    `json:"funding_amount"`
	AssetAmount   uint64    `json:"asset_amount"`
	Creator       string    `json:"creator,omitempty"`
	Name          string    `json:"name,omitempty"`
	Symbol        string    `json:"symbol,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

// RefPrice is a reference price derived from an observed trade, tagged with
// the venue-specific source that produced it.
type RefPrice struct {
	Price  decimal.Decimal
	Source string
}

// Venue adjustment factors. Observed trade amounts encode worst-case bounds
// (max cost on buys, min output on sells), so the raw ratio is skewed and the
// factors pull it back toward the executed price.
var (
	pumpBuyFactor       = decimal.RequireFromString("0.95")
	pumpSellFactor      = decimal.RequireFromString("1.05")
	launchpadUpFactor   = decimal.RequireFromString("1.02")
	launchpadDownFactor = decimal.RequireFromString("0.98")
)

// ReferencePrice derives a funding-per-unit reference price from the event's
// amounts, or ok=false when the event carries no usable trade amounts.
func (e *AssetEvent) ReferencePrice() (RefPrice, bool) {
	if e == nil || e.FundingAmount == 0 || e.AssetAmount == 0 {
		return RefPrice{}, false
	}
	raw := decimal.NewFromUint64(e.FundingAmount).Div(decimal.NewFromUint64(e.AssetAmount))

	detection := strings.ToLower(e.Detection)
	switch {
	case strings.Contains(detection, "pump"):
		switch e.Kind {
		case KindBuy:
			return RefPrice{Price: raw.Mul(pumpBuyFactor), Source: "pump-" + string(e.Kind)}, true
		case KindSell:
			return RefPrice{Price: raw.Mul(pumpSellFactor), Source: "pump-" + string(e.Kind)}, true
		default:
			return RefPrice{Price: raw, Source: "pump-" + string(e.Kind)}, true
		}
	case strings.Contains(detection, "launchpad"):
		exactIn := strings.Contains(detection, "exact_in")
		factor := launchpadDownFactor
		if (e.Kind == KindBuy) == exactIn {
			factor = launchpadUpFactor
		}
		return RefPrice{Price: raw.Mul(factor), Source: "launchpad-" + string(e.Kind)}, true
	default:
		return RefPrice{Price: raw, Source: "unadjusted"}, true
	}
}

// Age returns the event's age relative to now, or zero when the event carries
// no observation timestamp.
func (e *AssetEvent) Age(now time.Time) time.Duration {
	if e == nil || e.ObservedAt.IsZero() {
		return 0
	}
	age := now.Sub(e.ObservedAt)
	if age < 0 {
		return 0
	}
	return age
}
