package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"tailbot/clients/clob"
	"tailbot/clients/clobevents"
	"tailbot/clients/gamma"
	"tailbot/clients/notifier"
	"tailbot/internal/store"
)

// fakeTriggerStore is an in-memory store.TriggerStore keyed the same way
// the SQLite store is.
type fakeTriggerStore struct {
	mu       sync.Mutex
	byKey    map[string]*store.Trigger
	existErr error
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{byKey: make(map[string]*store.Trigger)}
}

func (f *fakeTriggerStore) InsertTrigger(_ context.Context, t *store.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cycleKey(t.StrategyID, t.PeriodStart)
	if _, ok := f.byKey[key]; ok {
		return store.ErrDuplicateTrigger
	}
	cp := *t
	f.byKey[key] = &cp
	return nil
}

func (f *fakeTriggerStore) TriggerExists(_ context.Context, strategyID string, periodStart int64) (bool, error) {
	if f.existErr != nil {
		return false, f.existErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byKey[cycleKey(strategyID, periodStart)]
	return ok, nil
}

func (f *fakeTriggerStore) UnresolvedTriggers(context.Context) ([]store.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Trigger
	for _, t := range f.byKey {
		if t.Status == store.TriggerSuccess && !t.Resolved {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTriggerStore) SetConditionID(_ context.Context, triggerID, conditionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byKey {
		if t.ID == triggerID && t.ConditionID == "" {
			t.ConditionID = conditionID
		}
	}
	return nil
}

func (f *fakeTriggerStore) ResolveTrigger(_ context.Context, triggerID string, winnerIndex int, realizedPnL float64, settledAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byKey {
		if t.ID == triggerID {
			if t.Resolved {
				return false, nil
			}
			t.Resolved = true
			t.WinnerIndex = winnerIndex
			t.RealizedPnL = realizedPnL
			t.SettledAt = settledAt
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTriggerStore) all() []store.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Trigger
	for _, t := range f.byKey {
		out = append(out, *t)
	}
	return out
}

func (f *fakeTriggerStore) get(strategyID string, periodStart int64) *store.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byKey[cycleKey(strategyID, periodStart)]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// fakeStrategyStore serves a fixed strategy set.
type fakeStrategyStore struct {
	mu         sync.Mutex
	strategies []store.Strategy
}

func (f *fakeStrategyStore) EnabledStrategies(context.Context) ([]store.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Strategy
	for _, s := range f.strategies {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStrategyStore) ReplaceStrategies(_ context.Context, strategies []store.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies = strategies
	return nil
}

// fakeVenue is a controllable orderVenue.
type fakeVenue struct {
	mu           sync.Mutex
	balance      float64
	balanceErr   error
	feeRate      string
	submitFails  int // fail this many submissions before succeeding
	submitErr    error
	submitCalls  int
	placed       *clob.PlacedOrder
	fill         *clob.OrderFill
	nilFill      bool
	getOrderErr  error
	credsErr     error
	lastTokenID  string
	lastOrderTyp string
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		balance: 100,
		feeRate: "0",
		placed:  &clob.PlacedOrder{OrderID: "order-1", Status: "matched"},
	}
}

func (f *fakeVenue) EnsureCreds(context.Context) error { return f.credsErr }

func (f *fakeVenue) TokenFeeRate(context.Context, string) (string, error) {
	return f.feeRate, nil
}

func (f *fakeVenue) Balance(context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeVenue) SubmitOrder(_ context.Context, _ *gomodel.SignedOrder, tokenID, orderType string) (*clob.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastTokenID = tokenID
	f.lastOrderTyp = orderType
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitFails > 0 {
		f.submitFails--
		return nil, errors.New("venue unavailable")
	}
	return f.placed, nil
}

func (f *fakeVenue) GetOrder(_ context.Context, orderID string) (*clob.OrderFill, error) {
	if f.getOrderErr != nil {
		return nil, f.getOrderErr
	}
	if f.nilFill {
		return nil, nil
	}
	if f.fill != nil {
		return f.fill, nil
	}
	return &clob.OrderFill{OrderID: orderID}, nil
}

func (f *fakeVenue) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// fakeSigner builds empty signed orders and counts calls.
type fakeSigner struct {
	mu       sync.Mutex
	calls    int
	buildErr error
}

func (f *fakeSigner) BuildOrder(string, float64, float64, string) (*gomodel.SignedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &gomodel.SignedOrder{}, nil
}

// fakeResolver serves markets by slug.
type fakeResolver struct {
	mu      sync.Mutex
	markets map[string]*gamma.Market
	err     error
	calls   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{markets: make(map[string]*gamma.Market)}
}

func (f *fakeResolver) Resolve(_ context.Context, slug string) (*gamma.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slug)
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.markets[slug]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no market for slug %s", slug)
}

// fakeKlines returns a fixed spot move and base spread pair.
type fakeKlines struct {
	mu        sync.Mutex
	move      float64
	err       error
	calls     int
	baseUp    float64
	baseDown  float64
	baseErr   error
	baseCalls int
}

func (f *fakeKlines) CycleMove(context.Context, string, int64, int64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.move, f.err
}

func (f *fakeKlines) AutoBaseSpread(context.Context, string, int64, int64) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseCalls++
	return f.baseUp, f.baseDown, f.baseErr
}

func (f *fakeKlines) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeKlines) baseCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseCalls
}

// fakePayouts answers payout vector queries per condition ID.
type fakePayouts struct {
	vectors map[string][]uint64
	err     error
}

func (f *fakePayouts) PayoutVector(_ context.Context, conditionID string) ([]uint64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[conditionID]; ok {
		return v, nil
	}
	return nil, errors.New("unknown condition")
}

// fakeStream is a scriptable eventStream.
type fakeStream struct {
	mu         sync.Mutex
	msgCh      chan json.RawMessage
	errCh      chan error
	connects   [][]string
	connectErr error
	closed     int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		msgCh: make(chan json.RawMessage, 16),
		errCh: make(chan error, 16),
	}
}

func (f *fakeStream) Connect(_ context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	cp := append([]string(nil), assetIDs...)
	f.connects = append(f.connects, cp)
	return nil
}

func (f *fakeStream) Messages() <-chan json.RawMessage { return f.msgCh }
func (f *fakeStream) Errors() <-chan error             { return f.errCh }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) Stats() clobevents.Stats { return clobevents.Stats{} }

func (f *fakeStream) lastConnect() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return nil
	}
	return f.connects[len(f.connects)-1]
}

// fakeNotifier records sent events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (f *fakeNotifier) Send(event notifier.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) Close() error { return nil }

func (f *fakeNotifier) sent() []notifier.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Event(nil), f.events...)
}
