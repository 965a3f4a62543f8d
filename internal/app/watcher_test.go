package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tailbot/clients/gamma"
	"tailbot/config"
	"tailbot/internal/store"
)

func testWatcherConfig() config.WatcherConfig {
	return config.WatcherConfig{
		ReconnectBackoff: 10 * time.Millisecond,
		ResubscribeSlack: time.Millisecond,
		ResolveTimeout:   time.Second,
	}
}

// fakeSink records candidate invocations.
type fakeSink struct {
	mu    sync.Mutex
	calls []candidateCall
}

type candidateCall struct {
	strategyID   string
	periodStart  int64
	outcomeIndex int
	bestBid      float64
}

func (f *fakeSink) OnCandidatePrice(_ context.Context, strat *store.Strategy, periodStart int64, _ *gamma.Market, outcomeIndex int, bestBid float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, candidateCall{
		strategyID:   strat.ID,
		periodStart:  periodStart,
		outcomeIndex: outcomeIndex,
		bestBid:      bestBid,
	})
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) waitCalls(t *testing.T, n int) []candidateCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.calls) >= n {
			out := append([]candidateCall(nil), f.calls...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d candidate calls", n)
	return nil
}

func newTestWatcher(strategies *fakeStrategyStore, resolver *fakeResolver, stream *fakeStream, sink candidateSink) *Watcher {
	return NewWatcher(zap.NewNop(), testWatcherConfig(), stream, resolver, strategies, sink)
}

// registerCycleMarket maps the strategy's current cycle slug to a market.
func registerCycleMarket(resolver *fakeResolver, strat *store.Strategy, prefix string) int64 {
	ps := PeriodStart(time.Now(), strat.IntervalSeconds)
	resolver.markets[CycleSlug(strat.SlugTemplate, ps)] = &gamma.Market{
		Slug:        CycleSlug(strat.SlugTemplate, ps),
		Title:       strat.Name,
		ConditionID: "0xcond-" + strat.ID,
		TokenIDs:    []string{prefix + "-up", prefix + "-down"},
	}
	return ps
}

func TestWatcherRebuildSubscriptions(t *testing.T) {
	strat, _ := liveStrategy()
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*strat}}
	resolver := newFakeResolver()
	registerCycleMarket(resolver, strat, "tok")

	w := newTestWatcher(strategies, resolver, newFakeStream(), &fakeSink{})
	subs, err := w.rebuildSubscriptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribed tokens, got %d", len(subs))
	}
	up := subs["tok-up"]
	if len(up) != 1 || up[0].outcomeIndex != 0 || up[0].strategy.ID != strat.ID {
		t.Errorf("unexpected entry for tok-up: %+v", up)
	}
	down := subs["tok-down"]
	if len(down) != 1 || down[0].outcomeIndex != 1 {
		t.Errorf("unexpected entry for tok-down: %+v", down)
	}
}

func TestWatcherRebuildSkipsEndedWindow(t *testing.T) {
	strat, _ := liveStrategy()
	strat.WindowStartSeconds = 0
	strat.WindowEndSeconds = 0 // window always over for the current cycle
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*strat}}
	resolver := newFakeResolver()
	registerCycleMarket(resolver, strat, "tok")

	w := newTestWatcher(strategies, resolver, newFakeStream(), &fakeSink{})
	subs, err := w.rebuildSubscriptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions past window end, got %d", len(subs))
	}
	if len(resolver.calls) != 0 {
		t.Error("expected no resolve calls for an ended window")
	}
}

func TestWatcherDisabledStrategyExcluded(t *testing.T) {
	stratA, _ := liveStrategy()
	stratB, _ := liveStrategy()
	stratB.ID = "strat-2"
	stratB.SlugTemplate = "ethereum-up-or-down-5m"
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*stratA, *stratB}}

	resolver := newFakeResolver()
	registerCycleMarket(resolver, stratA, "btc")
	registerCycleMarket(resolver, stratB, "eth")

	w := newTestWatcher(strategies, resolver, newFakeStream(), &fakeSink{})
	subs, err := w.rebuildSubscriptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 4 {
		t.Fatalf("expected 4 tokens with both strategies, got %d", len(subs))
	}

	// Disable the second strategy; its tokens must disappear.
	updated := []store.Strategy{*stratA, *stratB}
	updated[1].Enabled = false
	if err := strategies.ReplaceStrategies(context.Background(), updated); err != nil {
		t.Fatal(err)
	}

	subs, err = w.rebuildSubscriptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 tokens after disabling, got %d", len(subs))
	}
	if _, ok := subs["eth-up"]; ok {
		t.Error("expected disabled strategy's tokens to be removed")
	}
}

func TestWatcherRebuildSurvivesResolveFailure(t *testing.T) {
	stratA, _ := liveStrategy()
	stratB, _ := liveStrategy()
	stratB.ID = "strat-2"
	stratB.SlugTemplate = "ethereum-up-or-down-5m"
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*stratA, *stratB}}

	// Only the first strategy's market resolves.
	resolver := newFakeResolver()
	registerCycleMarket(resolver, stratA, "btc")

	w := newTestWatcher(strategies, resolver, newFakeStream(), &fakeSink{})
	subs, err := w.rebuildSubscriptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected the resolvable strategy to survive, got %d tokens", len(subs))
	}
}

func TestWatcherDispatchInWindow(t *testing.T) {
	strat, ps := liveStrategy()
	sink := &fakeSink{}
	w := newTestWatcher(&fakeStrategyStore{}, newFakeResolver(), newFakeStream(), sink)

	market := testMarket()
	subs := subMap{
		"tok-up": {{strategy: *strat, periodStart: ps, market: *market, outcomeIndex: 0}},
	}

	msg := json.RawMessage(`{"event_type":"book","asset_id":"tok-up","bids":[{"price":"0.55","size":"10"},{"price":"0.52","size":"3"}]}`)
	if rolled := w.dispatch(context.Background(), subs, msg); rolled {
		t.Error("expected no rollover for the live cycle")
	}

	calls := sink.waitCalls(t, 1)
	if calls[0].strategyID != strat.ID || calls[0].outcomeIndex != 0 {
		t.Errorf("unexpected candidate call: %+v", calls[0])
	}
	if calls[0].bestBid != 0.55 {
		t.Errorf("expected the max bid 0.55, got %v", calls[0].bestBid)
	}
}

func TestWatcherDispatchSkipsOutsideWindow(t *testing.T) {
	strat, ps := liveStrategy()
	// A narrow window that has already passed within the current cycle.
	elapsed := time.Now().Unix() - ps
	strat.WindowStartSeconds = 0
	strat.WindowEndSeconds = elapsed - 1
	if strat.WindowEndSeconds < 0 {
		strat.WindowEndSeconds = 0
	}

	sink := &fakeSink{}
	w := newTestWatcher(&fakeStrategyStore{}, newFakeResolver(), newFakeStream(), sink)
	subs := subMap{
		"tok-up": {{strategy: *strat, periodStart: ps, market: *testMarket(), outcomeIndex: 0}},
	}

	msg := json.RawMessage(`{"event_type":"book","asset_id":"tok-up","bids":[{"price":"0.55","size":"10"}]}`)
	w.dispatch(context.Background(), subs, msg)

	time.Sleep(50 * time.Millisecond)
	if sink.callCount() != 0 {
		t.Error("expected no candidate calls outside the trade window")
	}
}

func TestWatcherDispatchDetectsRollover(t *testing.T) {
	strat, ps := liveStrategy()
	stale := ps - strat.IntervalSeconds

	w := newTestWatcher(&fakeStrategyStore{}, newFakeResolver(), newFakeStream(), &fakeSink{})
	subs := subMap{
		"tok-up": {{strategy: *strat, periodStart: stale, market: *testMarket(), outcomeIndex: 0}},
	}

	msg := json.RawMessage(`{"event_type":"book","asset_id":"tok-up","bids":[{"price":"0.55","size":"10"}]}`)
	if rolled := w.dispatch(context.Background(), subs, msg); !rolled {
		t.Error("expected rollover detection for a stale cycle")
	}
}

func TestWatcherRunResubscribesOnStrategyChange(t *testing.T) {
	strat, _ := liveStrategy()
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*strat}}
	resolver := newFakeResolver()
	registerCycleMarket(resolver, strat, "tok")
	stream := newFakeStream()

	w := newTestWatcher(strategies, resolver, stream, &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.connects) >= 1
	})

	w.NotifyStrategiesChanged()
	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.connects) >= 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcherIdleWakesOnStrategyChange(t *testing.T) {
	// Start with a strategy whose window is already over, keeping the
	// watcher idle with nothing to subscribe.
	closed, _ := liveStrategy()
	closed.WindowStartSeconds = 0
	closed.WindowEndSeconds = 0
	strategies := &fakeStrategyStore{strategies: []store.Strategy{*closed}}
	resolver := newFakeResolver()
	stream := newFakeStream()

	w := newTestWatcher(strategies, resolver, stream, &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Give the watcher time to enter its idle wait.
	time.Sleep(50 * time.Millisecond)
	stream.mu.Lock()
	connects := len(stream.connects)
	stream.mu.Unlock()
	if connects != 0 {
		t.Fatalf("expected no connects while idle, got %d", connects)
	}

	// Opening a window via reload must wake the idle watcher immediately,
	// well before the next cycle boundary.
	live, _ := liveStrategy()
	registerCycleMarket(resolver, live, "tok")
	if err := strategies.ReplaceStrategies(context.Background(), []store.Strategy{*live}); err != nil {
		t.Fatal(err)
	}
	w.NotifyStrategiesChanged()

	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.connects) >= 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
