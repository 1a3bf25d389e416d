// Package position maintains the atomic per-strategy holdings ledger.
package position

import (
	"sync/atomic"
	"time"
)

// Status tracks the lifecycle of a position. Transitions only move forward:
// Empty -> Buying -> Holding -> Selling -> Closed.
type Status uint32

const (
	StatusEmpty Status = iota
	StatusBuying
	StatusHolding
	StatusSelling
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusBuying:
		return "buying"
	case StatusHolding:
		return "holding"
	case StatusSelling:
		return "selling"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is the ledger of one strategy's holdings and cash flows. Every
// field is updated through atomic operations so the strategy's timer loop and
// its result-handling path never need a shared lock and never observe a torn
// state. Amounts are in base units (lamports / raw asset units).
type Position struct {
	StrategyID string
	Mint       string

	status        atomic.Uint32
	tokenAmount   atomic.Uint64
	fundsInvested atomic.Uint64
	fundsReturned atomic.Uint64
	totalFees     atomic.Uint64
	tradeCount    atomic.Uint64

	createdAtMs   atomic.Int64
	firstBuyAtMs  atomic.Int64
	lastTradeAtMs atomic.Int64
}

// New creates an empty position owned by the given strategy.
func New(mint, strategyID string) *Position {
	p := &Position{StrategyID: strategyID, Mint: mint}
	p.createdAtMs.Store(time.Now().UnixMilli())
	return p
}

// Status returns a snapshot of the current lifecycle status.
func (p *Position) Status() Status {
	return Status(p.status.Load())
}

// Advance moves the status forward to target. Backward moves and updates on a
// closed position are ignored, which keeps Closed terminal.
func (p *Position) Advance(target Status) bool {
	for {
		current := p.status.Load()
		if Status(current) == StatusClosed || uint32(target) <= current {
			return false
		}
		if p.status.CompareAndSwap(current, uint32(target)) {
			return true
		}
	}
}

// RecordBuy applies a successful buy execution: tokens and invested funds are
// added, fees and the trade counter accumulate, and the position moves to
// Holding. The first-buy timestamp is set exactly once.
func (p *Position) RecordBuy(fundsSpent, tokensReceived, feePaid uint64) {
	if p.Status() == StatusClosed {
		return
	}
	now := time.Now().UnixMilli()

	p.tokenAmount.Add(tokensReceived)
	p.fundsInvested.Add(fundsSpent)
	p.totalFees.Add(feePaid)
	p.tradeCount.Add(1)
	p.lastTradeAtMs.Store(now)
	p.firstBuyAtMs.CompareAndSwap(0, now)

	p.Advance(StatusHolding)
}

// RecordSell applies a successful sell execution. The sold amount is clamped
// to the current balance so the token amount never underflows; when the
// balance reaches zero the position closes. Returns the remaining balance.
func (p *Position) RecordSell(fundsReceived, tokensSold, feePaid uint64) uint64 {
	if p.Status() == StatusClosed {
		return p.tokenAmount.Load()
	}

	var remaining uint64
	for {
		current := p.tokenAmount.Load()
		sold := tokensSold
		if sold > current {
			sold = current
		}
		remaining = current - sold
		if p.tokenAmount.CompareAndSwap(current, remaining) {
			break
		}
	}

	p.fundsReturned.Add(fundsReceived)
	p.totalFees.Add(feePaid)
	p.tradeCount.Add(1)
	p.lastTradeAtMs.Store(time.Now().UnixMilli())

	if remaining == 0 {
		p.status.Store(uint32(StatusClosed))
	}
	return remaining
}

// TokenAmount returns the current holdings in base units.
func (p *Position) TokenAmount() uint64 { return p.tokenAmount.Load() }

// FundsInvested returns cumulative lamports spent on buys.
func (p *Position) FundsInvested() uint64 { return p.fundsInvested.Load() }

// FundsReturned returns cumulative lamports received from sells.
func (p *Position) FundsReturned() uint64 { return p.fundsReturned.Load() }

// TotalFees returns cumulative fees paid.
func (p *Position) TotalFees() uint64 { return p.totalFees.Load() }

// TradeCount returns the number of recorded executions.
func (p *Position) TradeCount() uint64 { return p.tradeCount.Load() }

// HasHoldings reports whether any balance remains.
func (p *Position) HasHoldings() bool { return p.tokenAmount.Load() > 0 }

// Closed reports whether the position has reached its terminal state.
func (p *Position) Closed() bool { return p.Status() == StatusClosed }

// PnL returns returned minus invested minus fees, in lamports.
func (p *Position) PnL() int64 {
	return int64(p.fundsReturned.Load()) - int64(p.fundsInvested.Load()) - int64(p.totalFees.Load())
}

// FirstBuyAt returns the first buy timestamp, or zero time before any buy.
func (p *Position) FirstBuyAt() time.Time {
	ms := p.firstBuyAtMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LastTradeAt returns the most recent execution timestamp.
func (p *Position) LastTradeAt() time.Time {
	ms := p.lastTradeAtMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// CreatedAt returns the ledger creation timestamp.
func (p *Position) CreatedAt() time.Time {
	return time.UnixMilli(p.createdAtMs.Load())
}

// Snapshot is a point-in-time read of the ledger for reporting. Fields are
// loaded individually and may straddle a concurrent trade.
type Snapshot struct {
	StrategyID    string
	Mint          string
	Status        Status
	TokenAmount   uint64
	FundsInvested uint64
	FundsReturned uint64
	TotalFees     uint64
	TradeCount    uint64
	PnL           int64
}

// Snapshot captures the current ledger values.
func (p *Position) Snapshot() Snapshot {
	return Snapshot{
		StrategyID:    p.StrategyID,
		Mint:          p.Mint,
		Status:        p.Status(),
		TokenAmount:   p.tokenAmount.Load(),
		FundsInvested: p.fundsInvested.Load(),
		FundsReturned: p.fundsReturned.Load(),
		TotalFees:     p.totalFees.Load(),
		TradeCount:    p.tradeCount.Load(),
		PnL:           p.PnL(),
	}
}
