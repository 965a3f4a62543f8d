// Package notifier defines the outbound alert contract. Delivery channels
// live behind the Notifier interface; the default implementation writes
// structured log lines.
package notifier

import (
	"time"

	"go.uber.org/zap"
)

// EventKind indicates what happened.
type EventKind string

const (
	EventTriggerSuccess EventKind = "trigger_success"
	EventTriggerFail    EventKind = "trigger_fail"
	EventSettled        EventKind = "settled"
)

// Event carries the data for one alert.
type Event struct {
	Kind EventKind

	StrategyID   string
	StrategyName string
	PeriodStart  int64
	MarketTitle  string
	OutcomeIndex int

	// Trigger fields
	Price      float64
	AmountUSDC float64
	OrderID    string
	FailReason string

	// Settlement fields
	Won         bool
	RealizedPnL float64

	Timestamp time.Time
}

// Notifier is the interface for delivering alerts.
type Notifier interface {
	Send(event Event)
	Close() error
}

// MultiNotifier broadcasts events to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier, skipping nil entries.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

func (m *MultiNotifier) Send(event Event) {
	for _, n := range m.notifiers {
		n.Send(event)
	}
}

func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// LogNotifier writes events as structured log lines.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(event Event) {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("strategy", event.StrategyID),
		zap.Int64("periodStart", event.PeriodStart),
		zap.String("market", event.MarketTitle),
		zap.Int("outcome", event.OutcomeIndex),
	}

	switch event.Kind {
	case EventTriggerSuccess:
		fields = append(fields,
			zap.Float64("price", event.Price),
			zap.Float64("amountUsdc", event.AmountUSDC),
			zap.String("orderId", event.OrderID),
		)
		l.logger.Info("trigger placed", fields...)
	case EventTriggerFail:
		fields = append(fields, zap.String("reason", event.FailReason))
		l.logger.Warn("trigger failed", fields...)
	case EventSettled:
		fields = append(fields,
			zap.Bool("won", event.Won),
			zap.Float64("realizedPnl", event.RealizedPnL),
		)
		l.logger.Info("trigger settled", fields...)
	default:
		l.logger.Info("notification", fields...)
	}
}

func (l *LogNotifier) Close() error {
	return nil
}
