package executor

import (
	json "github.com/goccy/go-json"

	"github.com/solrush/sniper/internal/chainstate"
	"github.com/solrush/sniper/internal/signal"
)

// InstructionBuilder serializes the swap instruction payload the relay signs
// and assembles server-side.
type InstructionBuilder struct {
	// Wallet is the public key the relay signs for.
	Wallet string
}

var _ TxBuilder = (*InstructionBuilder)(nil)

type swapInstruction struct {
	Wallet         string `json:"wallet"`
	Mint           string `json:"mint"`
	Side           string `json:"side"`
	AmountIn       uint64 `json:"amount_in"`
	MinAmountOut   uint64 `json:"min_amount_out"`
	MaxSlippageBps uint16 `json:"max_slippage_bps"`
	Creator        string `json:"creator,omitempty"`
	ComputeUnits   uint32 `json:"compute_units"`
	PriorityFee    uint64 `json:"priority_fee"`
	Blockhash      string `json:"blockhash"`
	Slot           uint64 `json:"slot"`
}

// Build encodes the instruction for the given parameters and chain reference.
func (b *InstructionBuilder) Build(params signal.TradeParams, ref chainstate.Ref) ([]byte, error) {
	inst := swapInstruction{
		Wallet:         b.Wallet,
		Mint:           params.Mint,
		MaxSlippageBps: params.MaxSlippageBps,
		Creator:        params.Creator,
		ComputeUnits:   params.Budget.ComputeUnits,
		PriorityFee:    params.Budget.PriorityFee,
		Blockhash:      ref.Blockhash,
		Slot:           ref.Slot,
	}
	if params.IsBuy {
		inst.Side = "buy"
		inst.AmountIn = params.FundingLamports
		inst.MinAmountOut = params.MinUnitsOut
	} else {
		inst.Side = "sell"
		inst.AmountIn = params.UnitAmount
		inst.MinAmountOut = params.MinFundsOut
	}
	return json.Marshal(inst)
}
