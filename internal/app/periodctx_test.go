package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tailbot/internal/store"
)

func TestPeriodContextFixedModePreSigns(t *testing.T) {
	venue := newFakeVenue()
	venue.feeRate = "200"
	signer := &fakeSigner{}
	cache := NewPeriodContextCache(zap.NewNop(), venue, signer, 0.99)

	strat, ps := liveStrategy()
	strat.AmountMode = store.AmountFixed
	strat.AmountValue = 5

	pc, err := cache.Get(context.Background(), strat, ps, testMarket())
	if err != nil {
		t.Fatal(err)
	}
	if pc.FeeRateBps != "200" {
		t.Errorf("expected fee rate 200, got %q", pc.FeeRateBps)
	}
	if len(pc.PreSigned) != 2 || pc.PreSigned[0] == nil || pc.PreSigned[1] == nil {
		t.Fatalf("expected pre-signed orders for both outcomes, got %d", len(pc.PreSigned))
	}
	if signer.calls != 2 {
		t.Errorf("expected 2 signing calls, got %d", signer.calls)
	}

	// Second access is a cache hit.
	again, err := cache.Get(context.Background(), strat, ps, testMarket())
	if err != nil {
		t.Fatal(err)
	}
	if again != pc {
		t.Error("expected the memoized context")
	}
	if signer.calls != 2 {
		t.Errorf("expected no additional signing on cache hit, got %d calls", signer.calls)
	}
}

func TestPeriodContextRatioModeSkipsPreSigning(t *testing.T) {
	venue := newFakeVenue()
	signer := &fakeSigner{}
	cache := NewPeriodContextCache(zap.NewNop(), venue, signer, 0.99)

	strat, ps := liveStrategy()
	pc, err := cache.Get(context.Background(), strat, ps, testMarket())
	if err != nil {
		t.Fatal(err)
	}
	if pc.PreSigned != nil {
		t.Error("expected no pre-signed orders in ratio mode")
	}
	if signer.calls != 0 {
		t.Errorf("expected no signing calls, got %d", signer.calls)
	}
}

func TestPeriodContextExpiredEntryRebuilt(t *testing.T) {
	venue := newFakeVenue()
	signer := &fakeSigner{}
	cache := NewPeriodContextCache(zap.NewNop(), venue, signer, 0.99)

	strat, _ := liveStrategy()
	strat.AmountMode = store.AmountFixed
	strat.AmountValue = 5

	// A cycle that ended two intervals ago is expired the moment it is
	// built, so every access rebuilds.
	stale := PeriodStart(time.Now(), strat.IntervalSeconds) - 2*strat.IntervalSeconds
	if _, err := cache.Get(context.Background(), strat, stale, testMarket()); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), strat, stale, testMarket()); err != nil {
		t.Fatal(err)
	}
	if signer.calls != 4 {
		t.Errorf("expected expired entries to rebuild (4 signing calls), got %d", signer.calls)
	}
	if cache.Size() != 1 {
		t.Errorf("expected a single cached entry, got %d", cache.Size())
	}
}

func TestOrderSize(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		price  float64
		want   float64
	}{
		{"rounds up to cents", 10, 0.99, 10.11},
		{"floors at one share", 0.5, 0.99, 1},
		{"exact division", 1, 0.5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orderSize(tt.amount, tt.price); got != tt.want {
				t.Errorf("orderSize(%v, %v) = %v, want %v", tt.amount, tt.price, got, tt.want)
			}
		})
	}
}
