package chainstate

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/solrush/sniper/errs"
)

// RPCProvider fetches the latest blockhash from a JSON-RPC node.
type RPCProvider struct {
	endpoint string
	client   *http.Client
}

// NewRPCProvider builds a provider for the given node endpoint.
func NewRPCProvider(endpoint string, timeout time.Duration) *RPCProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type blockhashResponse struct {
	Result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// LatestRef issues a getLatestBlockhash call.
func (p *RPCProvider) LatestRef(ctx context.Context) (Ref, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getLatestBlockhash",
		Params:  []any{map[string]string{"commitment": "confirmed"}},
	})
	if err != nil {
		return Ref{}, errs.New("chainstate", errs.CodeInternal, errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ref{}, errs.New("chainstate", errs.CodeInternal, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Ref{}, errs.New("chainstate", errs.CodeNetwork, errs.WithCause(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ref{}, errs.New("chainstate", errs.CodeNetwork, errs.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return Ref{}, errs.New("chainstate", errs.CodeUnavailable,
			errs.WithField("status", resp.Status))
	}

	var out blockhashResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return Ref{}, errs.New("chainstate", errs.CodeInternal, errs.WithCause(err))
	}
	if out.Error != nil {
		return Ref{}, errs.New("chainstate", errs.CodeUnavailable,
			errs.WithMessage(out.Error.Message),
			errs.WithField("code", strconv.Itoa(out.Error.Code)))
	}
	if out.Result.Value.Blockhash == "" {
		return Ref{}, errs.New("chainstate", errs.CodeUnavailable,
			errs.WithMessage("empty blockhash in node response"))
	}
	return Ref{
		Blockhash: out.Result.Value.Blockhash,
		Slot:      out.Result.Context.Slot,
		FetchedAt: time.Now(),
	}, nil
}
