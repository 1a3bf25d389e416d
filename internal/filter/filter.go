// Package filter implements the stateless event filter gating strategy creation.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/solrush/sniper/internal/event"
)

// Criteria is the static configuration a Filter evaluates events against.
// Zero values (nil slices, zero bounds) mean "not applicable".
type Criteria struct {
	AllowedKinds []event.Kind `yaml:"allowed_kinds"`

	MinFundingLamports uint64 `yaml:"min_funding_lamports"`
	MaxFundingLamports uint64 `yaml:"max_funding_lamports"`

	RequiredNameKeywords  []string `yaml:"required_name_keywords"`
	ForbiddenNameKeywords []string `yaml:"forbidden_name_keywords"`
	MinNameLength         int      `yaml:"min_name_length"`
	MaxNameLength         int      `yaml:"max_name_length"`

	RequiredSymbolKeywords  []string `yaml:"required_symbol_keywords"`
	ForbiddenSymbolKeywords []string `yaml:"forbidden_symbol_keywords"`
	MinSymbolLength         int      `yaml:"min_symbol_length"`
	MaxSymbolLength         int      `yaml:"max_symbol_length"`

	MaxCreationAge time.Duration `yaml:"max_creation_age"`

	AllowMints []string `yaml:"allow_mints"`
	DenyMints  []string `yaml:"deny_mints"`
}

// Result reports a single evaluation outcome. Passed=false carries the first
// failing predicate's reason; Passed=true lists every matched predicate.
type Result struct {
	Passed          bool
	Reason          string
	MatchedCriteria []string
}

// Filter is a stateless predicate over asset events. Evaluation never mutates
// shared state, so a single Filter is safe for any number of concurrent callers.
type Filter struct {
	criteria Criteria

	forbiddenNames   []string
	forbiddenSymbols []string
	denyMints        map[string]struct{}
	allowMints       map[string]struct{}
}

// New builds a Filter with the keyword sets pre-lowered for matching.
func New(criteria Criteria) *Filter {
	f := &Filter{
		criteria:         criteria,
		forbiddenNames:   lowerAll(criteria.ForbiddenNameKeywords),
		forbiddenSymbols: lowerAll(criteria.ForbiddenSymbolKeywords),
		denyMints:        toSet(criteria.DenyMints),
		allowMints:       toSet(criteria.AllowMints),
	}
	return f
}

// DefaultSniperCriteria returns the engine's default gating configuration.
func DefaultSniperCriteria() Criteria {
	return Criteria{
		AllowedKinds:       []event.Kind{event.KindCreation},
		MinFundingLamports: 1_000_000_000,
		MaxFundingLamports: 10_000_000_000,
		ForbiddenNameKeywords: []string{
			"test", "fake", "scam", "rug", "dump",
		},
		MinNameLength:           2,
		MaxNameLength:           30,
		ForbiddenSymbolKeywords: []string{"test", "fake", "scam"},
		MinSymbolLength:         1,
		MaxSymbolLength:         10,
		MaxCreationAge:          45 * time.Second,
	}
}

// Evaluate checks the event against the criteria, short-circuiting on the
// first failing predicate. The kind check is mandatory; predicates over
// missing optional fields are skipped rather than failed.
func (f *Filter) Evaluate(evt *event.AssetEvent) Result {
	var matched []string

	if evt == nil {
		return Result{Passed: false, Reason: "nil event"}
	}

	if len(f.criteria.AllowedKinds) > 0 && !containsKind(f.criteria.AllowedKinds, evt.Kind) {
		return failed(matched, fmt.Sprintf("event kind not allowed: %s", evt.Kind))
	}
	matched = append(matched, "kind")

	if _, denied := f.denyMints[evt.Mint]; denied {
		return failed(matched, "mint deny-listed")
	}
	if len(f.allowMints) > 0 {
		if _, ok := f.allowMints[evt.Mint]; !ok {
			return failed(matched, "mint not on allow list")
		}
		matched = append(matched, "allow_list")
	}

	if evt.FundingAmount > 0 {
		if f.criteria.MinFundingLamports > 0 && evt.FundingAmount < f.criteria.MinFundingLamports {
			return failed(matched, fmt.Sprintf("funding below minimum: %d < %d", evt.FundingAmount, f.criteria.MinFundingLamports))
		}
		if f.criteria.MaxFundingLamports > 0 && evt.FundingAmount > f.criteria.MaxFundingLamports {
			return failed(matched, fmt.Sprintf("funding above maximum: %d > %d", evt.FundingAmount, f.criteria.MaxFundingLamports))
		}
		matched = append(matched, "funding_range")
	}

	if evt.Name != "" {
		if reason, ok := f.checkText(evt.Name, f.criteria.RequiredNameKeywords, f.forbiddenNames, f.criteria.MinNameLength, f.criteria.MaxNameLength, "name"); !ok {
			return failed(matched, reason)
		}
		matched = append(matched, "name")
	}
	if evt.Symbol != "" {
		if reason, ok := f.checkText(evt.Symbol, f.criteria.RequiredSymbolKeywords, f.forbiddenSymbols, f.criteria.MinSymbolLength, f.criteria.MaxSymbolLength, "symbol"); !ok {
			return failed(matched, reason)
		}
		matched = append(matched, "symbol")
	}

	if f.criteria.MaxCreationAge > 0 && !evt.ObservedAt.IsZero() {
		if age := evt.Age(time.Now()); age > f.criteria.MaxCreationAge {
			return failed(matched, fmt.Sprintf("event too old: %s > %s", age, f.criteria.MaxCreationAge))
		}
		matched = append(matched, "age")
	}

	return Result{Passed: true, Reason: "all criteria satisfied", MatchedCriteria: matched}
}

func (f *Filter) checkText(value string, required []string, forbidden []string, minLen, maxLen int, label string) (string, bool) {
	lowered := strings.ToLower(value)
	if minLen > 0 && len(value) < minLen {
		return fmt.Sprintf("%s too short: %d < %d", label, len(value), minLen), false
	}
	if maxLen > 0 && len(value) > maxLen {
		return fmt.Sprintf("%s too long: %d > %d", label, len(value), maxLen), false
	}
	for _, kw := range forbidden {
		if strings.Contains(lowered, kw) {
			return fmt.Sprintf("%s contains forbidden keyword %q", label, kw), false
		}
	}
	for _, kw := range required {
		if !strings.Contains(lowered, strings.ToLower(kw)) {
			return fmt.Sprintf("%s missing required keyword %q", label, kw), false
		}
	}
	return "", true
}

func failed(matched []string, reason string) Result {
	return Result{Passed: false, Reason: reason, MatchedCriteria: matched}
}

func containsKind(kinds []event.Kind, k event.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	return set
}
