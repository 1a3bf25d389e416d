// Package signal defines the immutable trade requests passed from strategies
// to the execution layer, including slippage-bounded trade parameters.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/budget"
)

// Kind classifies a trade signal.
type Kind string

const (
	KindBuy    Kind = "buy"
	KindSell   Kind = "sell"
	KindCancel Kind = "cancel"
)

// Priority orders signals by urgency.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Validation bounds.
const (
	// HardSlippageCeilingBps is the absolute maximum, used by emergency exits.
	HardSlippageCeilingBps = 9999
	// NormalSlippageCeilingBps is the maximum for non-critical signals.
	NormalSlippageCeilingBps = 5000
	// MinBuyLamports is 0.001 SOL.
	MinBuyLamports = 1_000_000
	// MaxBuyLamports is 100 SOL.
	MaxBuyLamports = 100_000_000_000
	// MaxExpiryWindow bounds how far ahead an expiry may be set.
	MaxExpiryWindow = time.Hour

	buyExpiryWindow       = 5 * time.Minute
	emergencyExpiryWindow = time.Minute
)

// Signal is a validated, immutable trade request. Construct with the New*
// helpers; once built it is only read.
type Signal struct {
	ID         string
	StrategyID string
	Mint       string
	Kind       Kind
	// FundingLamports is the spend amount for buys; zero for sells.
	FundingLamports uint64
	// UnitAmount is the asset amount for sells; zero for buys.
	UnitAmount     uint64
	MaxSlippageBps uint16
	Priority       Priority
	ExpiresAt      time.Time
	Reason         string
	CreatedAt      time.Time

	// RefPrice is lamports per asset base unit; zero means no price known.
	RefPrice    decimal.Decimal
	PriceSource string
	Creator     string

	Budget budget.Budget
}

// NewBuy constructs a priced buy signal. A buy without a reference price is
// refused outright: the engine never buys without a price-based slippage bound.
func NewBuy(strategyID, mint string, fundingLamports uint64, maxSlippageBps uint16, reason string, refPrice decimal.Decimal, priceSource, creator string) (Signal, error) {
	if refPrice.Sign() <= 0 {
		return Signal{}, errs.New("signal", errs.CodeMissingPricing,
			errs.WithMessage("buy signal requires a reference price"),
			errs.WithField("mint", mint))
	}
	now := time.Now()
	return Signal{
		ID:              uuid.NewString(),
		StrategyID:      strategyID,
		Mint:            mint,
		Kind:            KindBuy,
		FundingLamports: fundingLamports,
		MaxSlippageBps:  maxSlippageBps,
		Priority:        PriorityHigh,
		ExpiresAt:       now.Add(buyExpiryWindow),
		Reason:          reason,
		CreatedAt:       now,
		RefPrice:        refPrice,
		PriceSource:     priceSource,
		Creator:         creator,
	}, nil
}

// NewSell constructs a priced sell signal for the given unit amount.
func NewSell(strategyID, mint string, unitAmount uint64, maxSlippageBps uint16, reason string, refPrice decimal.Decimal, priceSource, creator string) (Signal, error) {
	if refPrice.Sign() <= 0 {
		return Signal{}, errs.New("signal", errs.CodeMissingPricing,
			errs.WithMessage("sell signal requires a reference price; use NewEmergencySell for forced exits"),
			errs.WithField("mint", mint))
	}
	now := time.Now()
	return Signal{
		ID:             uuid.NewString(),
		StrategyID:     strategyID,
		Mint:           mint,
		Kind:           KindSell,
		UnitAmount:     unitAmount,
		MaxSlippageBps: maxSlippageBps,
		Priority:       PriorityHigh,
		ExpiresAt:      now.Add(buyExpiryWindow),
		Reason:         reason,
		CreatedAt:      now,
		RefPrice:       refPrice,
		PriceSource:    priceSource,
		Creator:        creator,
	}, nil
}

// NewEmergencySell constructs a forced exit. When no reference price is known
// the signal carries the hard slippage ceiling instead of failing: an exit is
// never blocked by pricing unavailability.
func NewEmergencySell(strategyID, mint string, unitAmount uint64, reason string, refPrice decimal.Decimal, priceSource, creator string) Signal {
	now := time.Now()
	s := Signal{
		ID:             uuid.NewString(),
		StrategyID:     strategyID,
		Mint:           mint,
		Kind:           KindSell,
		UnitAmount:     unitAmount,
		MaxSlippageBps: HardSlippageCeilingBps,
		Priority:       PriorityCritical,
		ExpiresAt:      now.Add(emergencyExpiryWindow),
		CreatedAt:      now,
		Creator:        creator,
	}
	if refPrice.Sign() > 0 {
		s.Reason = "EMERGENCY: " + reason
		s.RefPrice = refPrice
		s.PriceSource = priceSource
	} else {
		s.Reason = "EMERGENCY_NO_PRICE: " + reason
		s.PriceSource = "no-price-emergency"
	}
	return s
}

// WithBudget returns a copy carrying the execution-budget hint.
func (s Signal) WithBudget(b budget.Budget) Signal {
	s.Budget = b
	return s
}

// Expired reports whether the signal's expiry has passed at now.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Emergency reports whether this is a forced exit.
func (s Signal) Emergency() bool {
	return s.Priority == PriorityCritical
}

// Validate checks the signal before dispatch. It never mutates the signal.
func (s Signal) Validate() error {
	if s.Mint == "" {
		return errs.New("signal", errs.CodeInvalid, errs.WithMessage("empty mint"))
	}
	if s.MaxSlippageBps > HardSlippageCeilingBps {
		return errs.New("signal", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("slippage %d bps exceeds hard ceiling %d", s.MaxSlippageBps, HardSlippageCeilingBps)))
	}
	if s.MaxSlippageBps > NormalSlippageCeilingBps && s.Priority != PriorityCritical {
		return errs.New("signal", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("slippage %d bps exceeds non-critical ceiling %d", s.MaxSlippageBps, NormalSlippageCeilingBps)))
	}

	switch s.Kind {
	case KindBuy:
		if s.FundingLamports == 0 {
			return errs.New("signal", errs.CodeInvalid, errs.WithMessage("buy amount must be nonzero"))
		}
		if s.FundingLamports < MinBuyLamports {
			return errs.New("signal", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("buy amount %d below minimum %d", s.FundingLamports, MinBuyLamports)))
		}
		if s.FundingLamports > MaxBuyLamports {
			return errs.New("signal", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("buy amount %d above maximum %d", s.FundingLamports, MaxBuyLamports)))
		}
	case KindSell:
		if s.UnitAmount == 0 {
			return errs.New("signal", errs.CodeInvalid, errs.WithMessage("sell signal missing unit amount"))
		}
	case KindCancel:
		// no additional checks
	default:
		return errs.New("signal", errs.CodeInvalid, errs.WithMessage("unknown signal kind"))
	}

	if !s.ExpiresAt.IsZero() {
		now := time.Now()
		if !now.Before(s.ExpiresAt) {
			return errs.New("signal", errs.CodeInvalid, errs.WithMessage("signal already expired"))
		}
		if s.ExpiresAt.Sub(now) > MaxExpiryWindow {
			return errs.New("signal", errs.CodeInvalid, errs.WithMessage("expiry too far in the future"))
		}
	}
	return nil
}
