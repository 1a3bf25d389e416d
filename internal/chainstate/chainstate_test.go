package chainstate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	calls atomic.Int64
	slot  atomic.Uint64
	fail  atomic.Bool
}

func (p *fakeProvider) LatestRef(context.Context) (Ref, error) {
	p.calls.Add(1)
	if p.fail.Load() {
		return Ref{}, context.DeadlineExceeded
	}
	return Ref{Blockhash: "hash", Slot: p.slot.Add(1)}, nil
}

func TestCurrentBeforePrime(t *testing.T) {
	c := NewCache(&fakeProvider{}, 0, 0)
	if _, err := c.Current(); err == nil {
		t.Fatal("expected error before priming")
	}
}

func TestStartPrimesAndRefreshes(t *testing.T) {
	p := &fakeProvider{}
	c := NewCache(p, 10*time.Millisecond, time.Second)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ref, err := c.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if ref.Slot == 0 {
		t.Fatal("expected primed slot")
	}

	deadline := time.After(time.Second)
	for {
		cur, err := c.Current()
		if err == nil && cur.Slot > ref.Slot {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cache never refreshed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStaleRefRefused(t *testing.T) {
	c := NewCache(&fakeProvider{}, time.Hour, 10*time.Millisecond)
	c.store(Ref{Blockhash: "hash", Slot: 1, FetchedAt: time.Now().Add(-time.Second)})
	if _, err := c.Current(); err == nil {
		t.Fatal("expected stale error")
	}
}

func TestSlotNeverRegresses(t *testing.T) {
	c := NewCache(&fakeProvider{}, time.Hour, time.Hour)
	c.store(Ref{Blockhash: "new", Slot: 100})
	c.store(Ref{Blockhash: "old", Slot: 50})
	ref, err := c.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if ref.Slot != 100 {
		t.Fatalf("slot = %d, want 100", ref.Slot)
	}
}

func TestRefreshFailureKeepsLastGood(t *testing.T) {
	p := &fakeProvider{}
	c := NewCache(p, 5*time.Millisecond, time.Second)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	p.fail.Store(true)
	time.Sleep(30 * time.Millisecond)
	if _, err := c.Current(); err != nil {
		t.Fatalf("Current after provider failures: %v", err)
	}
}
