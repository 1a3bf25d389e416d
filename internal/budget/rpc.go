package budget

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/solrush/sniper/errs"
)

// RPCFeeProvider derives tier quotes from a node's recent prioritization
// fees: tiers map onto percentiles of the recent fee distribution.
type RPCFeeProvider struct {
	endpoint string
	client   *http.Client
}

// NewRPCFeeProvider builds a provider against a JSON-RPC node.
func NewRPCFeeProvider(endpoint string, timeout time.Duration) *RPCFeeProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCFeeProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type feeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type feeResponse struct {
	Result []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TierFees fetches recent fees and maps the 50th, 75th, and 95th percentiles
// onto the priority, express, and lightning tiers.
func (p *RPCFeeProvider) TierFees(ctx context.Context, _ bool) (TierFees, error) {
	body, err := json.Marshal(feeRequest{JSONRPC: "2.0", ID: 1, Method: "getRecentPrioritizationFees"})
	if err != nil {
		return TierFees{}, errs.New("budget", errs.CodeInternal, errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return TierFees{}, errs.New("budget", errs.CodeInternal, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return TierFees{}, errs.New("budget", errs.CodeNetwork, errs.WithCause(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TierFees{}, errs.New("budget", errs.CodeNetwork, errs.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return TierFees{}, errs.New("budget", errs.CodeUnavailable,
			errs.WithField("status", resp.Status))
	}

	var out feeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return TierFees{}, errs.New("budget", errs.CodeInternal, errs.WithCause(err))
	}
	if out.Error != nil {
		return TierFees{}, errs.New("budget", errs.CodeUnavailable,
			errs.WithMessage(out.Error.Message))
	}
	if len(out.Result) == 0 {
		return TierFees{}, errs.New("budget", errs.CodeUnavailable,
			errs.WithMessage("node returned no recent fees"))
	}

	fees := make([]uint64, 0, len(out.Result))
	for _, entry := range out.Result {
		fees = append(fees, entry.PrioritizationFee)
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	return TierFees{
		Priority:  percentile(fees, 50),
		Express:   percentile(fees, 75),
		Lightning: percentile(fees, 95),
	}, nil
}

// percentile reads the pth percentile from an ascending-sorted slice.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
