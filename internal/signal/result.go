package signal

import "time"

// ExecutionResult reports the outcome of executing a signal, routed back to
// the originating strategy.
type ExecutionResult struct {
	SignalID   string
	StrategyID string
	Mint       string
	IsBuy      bool
	Success    bool
	// Backend is the name of the backend whose attempt settled the race.
	Backend   string
	Signature string
	// UnitsFilled and FundsMoved are the realized amounts: units bought and
	// lamports spent for buys, units sold and lamports received for sells.
	UnitsFilled uint64
	FundsMoved  uint64
	FeeLamports uint64
	Latency     time.Duration
	Err         error
	CompletedAt time.Time
}
