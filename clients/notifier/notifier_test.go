package notifier

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockNotifier is a test helper that implements the Notifier interface.
type mockNotifier struct {
	events      []Event
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) Send(event Event) {
	m.events = append(m.events, event)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, nil, mock2, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestMultiNotifier_Send(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}
	mn := NewMultiNotifier(mock1, mock2)

	event := Event{
		Kind:        EventTriggerSuccess,
		StrategyID:  "btc-5m",
		PeriodStart: 1700000100,
		MarketTitle: "Bitcoin Up or Down",
		Price:       0.97,
		AmountUSDC:  10,
		OrderID:     "0xabc",
		Timestamp:   time.Now(),
	}
	mn.Send(event)

	if len(mock1.events) != 1 || len(mock2.events) != 1 {
		t.Fatalf("events = %d/%d, want 1/1", len(mock1.events), len(mock2.events))
	}
	if mock1.events[0].OrderID != "0xabc" {
		t.Errorf("OrderID = %s", mock1.events[0].OrderID)
	}
}

func TestMultiNotifier_Close(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{closeErr: errors.New("boom")}
	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()
	if err == nil {
		t.Error("expected error from failing notifier")
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("all notifiers must be closed")
	}
}

func TestLogNotifier(t *testing.T) {
	// Must not panic for any kind, with or without a logger.
	for _, n := range []*LogNotifier{NewLogNotifier(nil), NewLogNotifier(zap.NewNop())} {
		n.Send(Event{Kind: EventTriggerSuccess})
		n.Send(Event{Kind: EventTriggerFail, FailReason: "insufficient amount"})
		n.Send(Event{Kind: EventSettled, Won: true, RealizedPnL: 1.0})
		n.Send(Event{Kind: "other"})
		if err := n.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
}
