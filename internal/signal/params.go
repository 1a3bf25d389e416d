package signal

import (
	"github.com/shopspring/decimal"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/budget"
)

// TradeParams is the backend-facing form of a signal: amounts plus the
// slippage-derived output floors, with no strategy bookkeeping attached.
type TradeParams struct {
	SignalID   string
	StrategyID string
	Mint       string
	IsBuy      bool

	// FundingLamports is the spend amount for buys.
	FundingLamports uint64
	// UnitAmount is the asset amount for sells.
	UnitAmount uint64
	// MinUnitsOut is the floor on asset units received by a buy.
	MinUnitsOut uint64
	// MinFundsOut is the floor on lamports received by a sell.
	MinFundsOut uint64

	MaxSlippageBps uint16
	Priority       Priority
	Creator        string
	Budget         budget.Budget
}

var bpsDenominator = decimal.NewFromInt(10_000)

func slippageFactor(bps uint16) decimal.Decimal {
	return decimal.NewFromInt(10_000 - int64(bps)).Div(bpsDenominator)
}

// TradeParams converts the signal into execution parameters, deriving the
// minimum-output floor from the reference price and slippage tolerance.
//
// buy:  minUnitsOut = floor(funding / price * (1 - bps/10000))
// sell: minFundsOut = floor(units * price * (1 - bps/10000))
//
// A sell without a reference price gets a floor of 1 lamport: any nonzero
// output is accepted rather than blocking the exit.
func (s Signal) TradeParams() (TradeParams, error) {
	p := TradeParams{
		SignalID:       s.ID,
		StrategyID:     s.StrategyID,
		Mint:           s.Mint,
		MaxSlippageBps: s.MaxSlippageBps,
		Priority:       s.Priority,
		Creator:        s.Creator,
		Budget:         s.Budget,
	}

	switch s.Kind {
	case KindBuy:
		if s.RefPrice.Sign() <= 0 {
			return TradeParams{}, errs.New("signal", errs.CodeMissingPricing,
				errs.WithMessage("cannot derive buy floor without a reference price"),
				errs.WithField("mint", s.Mint))
		}
		p.IsBuy = true
		p.FundingLamports = s.FundingLamports
		funding := decimal.NewFromUint64(s.FundingLamports)
		units := funding.Div(s.RefPrice).Mul(slippageFactor(s.MaxSlippageBps))
		p.MinUnitsOut = units.Floor().BigInt().Uint64()
	case KindSell:
		p.UnitAmount = s.UnitAmount
		if s.RefPrice.Sign() > 0 {
			units := decimal.NewFromUint64(s.UnitAmount)
			funds := units.Mul(s.RefPrice).Mul(slippageFactor(s.MaxSlippageBps))
			p.MinFundsOut = funds.Floor().BigInt().Uint64()
		} else {
			p.MinFundsOut = 1
		}
	default:
		return TradeParams{}, errs.New("signal", errs.CodeInvalid,
			errs.WithMessage("signal kind has no trade parameters"))
	}
	return p, nil
}
