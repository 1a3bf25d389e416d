// Package errs provides structured error types and helpers for the sniper engine.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an engine error category.
type Code string

const (
	// CodeCapacityExceeded indicates the strategy concurrency cap is reached.
	CodeCapacityExceeded Code = "capacity_exceeded"
	// CodeDuplicateStrategy indicates an asset already has an active strategy.
	CodeDuplicateStrategy Code = "duplicate_strategy"
	// CodeMissingPricing indicates a non-emergency action lacked a reference price.
	CodeMissingPricing Code = "missing_pricing"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeInsufficientBalance indicates insufficient funds for the requested trade.
	CodeInsufficientBalance Code = "insufficient_balance"
	// CodeSlippageExceeded indicates execution would breach the slippage bound.
	CodeSlippageExceeded Code = "slippage_exceeded"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeAllBackendsFailed indicates every racing execution backend failed.
	CodeAllBackendsFailed Code = "all_backends_failed"
	// CodeInternal captures uncategorized engine failures.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the engine.
type E struct {
	Component string
	Code      Code
	Message   string
	Backend   string
	Metadata  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Backend:   "",
		Metadata:  nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithBackend records the execution backend that produced the error.
func WithBackend(name string) Option {
	trimmed := strings.TrimSpace(name)
	return func(e *E) {
		e.Backend = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMetadata merges the provided metadata into the error envelope.
func WithMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Metadata[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Backend != "" {
		parts = append(parts, "backend="+e.Backend)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E carrying the same code.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other.Code == e.Code
}

// CodeOf extracts the engine code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// Retryable reports whether the error category is worth retrying against the
// same backend.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeTimeout, CodeRateLimited, CodeUnavailable:
		return true
	default:
		return false
	}
}
