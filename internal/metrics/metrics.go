// Package metrics provides Prometheus instrumentation for the watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PriceEventsTotal counts inbound best-bid events by message type.
	PriceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailbot_price_events_total",
		Help: "Inbound order-book price events",
	}, []string{"type"})

	// TriggersTotal counts persisted triggers by status.
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailbot_triggers_total",
		Help: "Trigger rows written",
	}, []string{"status"})

	// TriggerLatency tracks time from candidate event to persisted trigger.
	TriggerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tailbot_trigger_latency_seconds",
		Help:    "Candidate event to persisted trigger latency",
		Buckets: prometheus.DefBuckets,
	})

	// SubscribedTokens tracks the size of the current subscription set.
	SubscribedTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tailbot_subscribed_tokens",
		Help: "Token IDs in the active stream subscription",
	})

	// Reconnects counts stream reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailbot_stream_reconnects_total",
		Help: "Order-book stream reconnects",
	})

	// Resubscribes counts subscription map rebuilds.
	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailbot_stream_resubscribes_total",
		Help: "Subscription map rebuilds",
	})

	// OrderSubmitAttempts counts order submission attempts by outcome.
	OrderSubmitAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailbot_order_submit_attempts_total",
		Help: "Order submission attempts",
	}, []string{"result"})

	// SettlementsTotal counts settled triggers by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailbot_settlements_total",
		Help: "Triggers resolved by the settlement sweep",
	}, []string{"result"})

	// RealizedPnL accumulates realized profit and loss in USDC.
	RealizedPnL = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailbot_realized_pnl_usdc_total",
		Help: "Cumulative realized P&L in USDC (wins only; see losses counter)",
	})

	// RealizedLoss accumulates realized losses in USDC as a positive number.
	RealizedLoss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailbot_realized_loss_usdc_total",
		Help: "Cumulative realized losses in USDC",
	})

	// UnresolvedTriggers tracks the settlement backlog size.
	UnresolvedTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tailbot_unresolved_triggers",
		Help: "Successful triggers awaiting on-chain resolution",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
