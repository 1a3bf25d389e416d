package filter

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solrush/sniper/internal/event"
)

func creationEvent(funding uint64) *event.AssetEvent {
	return &event.AssetEvent{
		Mint:          "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Kind:          event.KindCreation,
		FundingAmount: funding,
		Name:          "Orbit",
		Symbol:        "ORB",
		ObservedAt:    time.Now(),
	}
}

func TestEvaluatePasses(t *testing.T) {
	f := New(DefaultSniperCriteria())
	res := f.Evaluate(creationEvent(2_000_000_000))
	if !res.Passed {
		t.Fatalf("expected pass, got failure: %s", res.Reason)
	}
	if len(res.MatchedCriteria) == 0 {
		t.Fatal("expected matched criteria to be reported")
	}
}

func TestEvaluateKindMismatchIsMandatory(t *testing.T) {
	f := New(DefaultSniperCriteria())
	evt := creationEvent(2_000_000_000)
	evt.Kind = event.KindSell
	res := f.Evaluate(evt)
	if res.Passed {
		t.Fatal("expected kind mismatch to fail")
	}
	if !strings.Contains(res.Reason, "kind") {
		t.Fatalf("expected kind reason, got %q", res.Reason)
	}
}

func TestEvaluateFundingBounds(t *testing.T) {
	f := New(DefaultSniperCriteria())

	res := f.Evaluate(creationEvent(500_000_000))
	if res.Passed || !strings.Contains(res.Reason, "below minimum") {
		t.Fatalf("expected below-minimum failure, got %+v", res)
	}

	res = f.Evaluate(creationEvent(50_000_000_000))
	if res.Passed || !strings.Contains(res.Reason, "above maximum") {
		t.Fatalf("expected above-maximum failure, got %+v", res)
	}
}

func TestEvaluateMissingOptionalFieldsSkipped(t *testing.T) {
	f := New(DefaultSniperCriteria())
	evt := &event.AssetEvent{
		Mint: "MintBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		Kind: event.KindCreation,
	}
	res := f.Evaluate(evt)
	if !res.Passed {
		t.Fatalf("expected event with missing optional fields to pass, got %q", res.Reason)
	}
}

func TestEvaluateForbiddenKeyword(t *testing.T) {
	f := New(DefaultSniperCriteria())
	evt := creationEvent(2_000_000_000)
	evt.Name = "TotallyNotAScamCoin"
	res := f.Evaluate(evt)
	if res.Passed || !strings.Contains(res.Reason, "forbidden keyword") {
		t.Fatalf("expected forbidden keyword failure, got %+v", res)
	}
}

func TestEvaluateDenyList(t *testing.T) {
	criteria := DefaultSniperCriteria()
	criteria.DenyMints = []string{"BadMint"}
	f := New(criteria)
	evt := creationEvent(2_000_000_000)
	evt.Mint = "BadMint"
	if res := f.Evaluate(evt); res.Passed {
		t.Fatal("expected deny-listed mint to fail")
	}
}

func TestEvaluateMaxAge(t *testing.T) {
	criteria := DefaultSniperCriteria()
	criteria.MaxCreationAge = time.Second
	f := New(criteria)
	evt := creationEvent(2_000_000_000)
	evt.ObservedAt = time.Now().Add(-time.Minute)
	res := f.Evaluate(evt)
	if res.Passed || !strings.Contains(res.Reason, "too old") {
		t.Fatalf("expected age failure, got %+v", res)
	}
}

func TestEvaluateConcurrentCallers(t *testing.T) {
	f := New(DefaultSniperCriteria())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if res := f.Evaluate(creationEvent(2_000_000_000)); !res.Passed {
					panic("unexpected failure: " + res.Reason)
				}
			}
		}()
	}
	wg.Wait()
}
