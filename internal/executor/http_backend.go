package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/solrush/sniper/errs"
	"github.com/solrush/sniper/internal/chainstate"
	"github.com/solrush/sniper/internal/signal"
)

// TxBuilder assembles a signed transaction for the given parameters against
// a chain reference.
type TxBuilder interface {
	Build(params signal.TradeParams, ref chainstate.Ref) ([]byte, error)
}

// HTTPConfig configures an HTTP submission backend.
type HTTPConfig struct {
	Name           string        `yaml:"name"`
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	// RateLimit is requests per second; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// HTTPBackend submits built transactions to a JSON relay over HTTP, with
// request throttling and bounded retries on retryable failures.
type HTTPBackend struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	builder TxBuilder
	chain   *chainstate.Cache
}

// NewHTTPBackend wires a relay backend. The chain cache supplies the
// blockhash for every build; builder turns parameters into raw transactions.
func NewHTTPBackend(cfg HTTPConfig, builder TxBuilder, chain *chainstate.Cache) *HTTPBackend {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &HTTPBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		builder: builder,
		chain:   chain,
	}
}

func (b *HTTPBackend) Name() string { return b.cfg.Name }

func (b *HTTPBackend) ValidateParams(params signal.TradeParams) error {
	if b.cfg.Endpoint == "" {
		return errs.New("executor", errs.CodeInvalid,
			errs.WithBackend(b.cfg.Name),
			errs.WithMessage("backend has no endpoint configured"))
	}
	if params.Mint == "" {
		return errs.New("executor", errs.CodeInvalid,
			errs.WithBackend(b.cfg.Name), errs.WithMessage("empty mint"))
	}
	if params.IsBuy && params.FundingLamports == 0 {
		return errs.New("executor", errs.CodeInvalid,
			errs.WithBackend(b.cfg.Name), errs.WithMessage("buy with zero funding"))
	}
	if !params.IsBuy && params.UnitAmount == 0 {
		return errs.New("executor", errs.CodeInvalid,
			errs.WithBackend(b.cfg.Name), errs.WithMessage("sell with zero unit amount"))
	}
	return nil
}

type submitRequest struct {
	Transaction     string `json:"transaction"`
	Mint            string `json:"mint"`
	IsBuy           bool   `json:"is_buy"`
	MinUnitsOut     uint64 `json:"min_units_out,omitempty"`
	MinFundsOut     uint64 `json:"min_funds_out,omitempty"`
	ComputeUnits    uint32 `json:"compute_units"`
	PriorityFee     uint64 `json:"priority_fee"`
	RecentSlot      uint64 `json:"recent_slot"`
	RecentBlockhash string `json:"recent_blockhash"`
}

type submitResponse struct {
	Signature   string `json:"signature"`
	UnitsFilled uint64 `json:"units_filled"`
	FundsMoved  uint64 `json:"funds_moved"`
	FeeLamports uint64 `json:"fee_lamports"`
	Error       string `json:"error,omitempty"`
}

// Execute builds the transaction, then posts it with retries. Only network
// level and throttling failures are retried; a relay rejection is final.
func (b *HTTPBackend) Execute(ctx context.Context, params signal.TradeParams) (Receipt, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Receipt{}, errs.New("executor", errs.CodeRateLimited,
				errs.WithBackend(b.cfg.Name), errs.WithCause(err))
		}
	}

	ref, err := b.chain.Current()
	if err != nil {
		return Receipt{}, err
	}
	raw, err := b.builder.Build(params, ref)
	if err != nil {
		return Receipt{}, errs.New("executor", errs.CodeInternal,
			errs.WithBackend(b.cfg.Name),
			errs.WithMessage("transaction build failed"),
			errs.WithCause(err))
	}

	body, err := json.Marshal(submitRequest{
		Transaction:     base64.StdEncoding.EncodeToString(raw),
		Mint:            params.Mint,
		IsBuy:           params.IsBuy,
		MinUnitsOut:     params.MinUnitsOut,
		MinFundsOut:     params.MinFundsOut,
		ComputeUnits:    params.Budget.ComputeUnits,
		PriorityFee:     params.Budget.PriorityFee,
		RecentSlot:      ref.Slot,
		RecentBlockhash: ref.Blockhash,
	})
	if err != nil {
		return Receipt{}, errs.New("executor", errs.CodeInternal,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err))
	}

	receipt, err := backoff.Retry(ctx, func() (Receipt, error) {
		return b.post(ctx, body)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(b.cfg.MaxAttempts)))
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (b *HTTPBackend) post(ctx context.Context, body []byte) (Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/submit", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, backoff.Permanent(errs.New("executor", errs.CodeInternal,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err)))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Receipt{}, errs.New("executor", errs.CodeNetwork,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, errs.New("executor", errs.CodeNetwork,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Receipt{}, errs.New("executor", errs.CodeRateLimited,
			errs.WithBackend(b.cfg.Name))
	case resp.StatusCode >= 500:
		return Receipt{}, errs.New("executor", errs.CodeUnavailable,
			errs.WithBackend(b.cfg.Name),
			errs.WithField("status", resp.Status))
	case resp.StatusCode >= 400:
		return Receipt{}, backoff.Permanent(errs.New("executor", errs.CodeInvalid,
			errs.WithBackend(b.cfg.Name),
			errs.WithField("status", resp.Status),
			errs.WithField("body", string(payload))))
	}

	var out submitResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return Receipt{}, backoff.Permanent(errs.New("executor", errs.CodeInternal,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err)))
	}
	if out.Error != "" {
		return Receipt{}, backoff.Permanent(errs.New("executor", errs.CodeSlippageExceeded,
			errs.WithBackend(b.cfg.Name), errs.WithMessage(out.Error)))
	}
	return Receipt{
		Signature:   out.Signature,
		UnitsFilled: out.UnitsFilled,
		FundsMoved:  out.FundsMoved,
		FeeLamports: out.FeeLamports,
	}, nil
}

// HealthCheck probes the relay's health endpoint.
func (b *HTTPBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errs.New("executor", errs.CodeNetwork,
			errs.WithBackend(b.cfg.Name), errs.WithCause(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return errs.New("executor", errs.CodeUnavailable,
			errs.WithBackend(b.cfg.Name),
			errs.WithField("status", resp.Status))
	}
	return nil
}
