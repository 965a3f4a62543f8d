package store

import (
	"context"
	"errors"
	"time"
)

// AmountMode controls how the invested amount for a trigger is computed.
type AmountMode string

const (
	// AmountRatio invests a fraction of the account's available balance.
	AmountRatio AmountMode = "RATIO"
	// AmountFixed invests a fixed USDC amount.
	AmountFixed AmountMode = "FIXED"
)

// SpreadMode controls the optional minimum-spread gate on trigger candidates.
type SpreadMode string

const (
	SpreadNone  SpreadMode = "NONE"
	SpreadFixed SpreadMode = "FIXED"
	SpreadAuto  SpreadMode = "AUTO"
)

// TriggerStatus is the terminal outcome of one trigger attempt.
type TriggerStatus string

const (
	TriggerSuccess TriggerStatus = "success"
	TriggerFail    TriggerStatus = "fail"
)

// Strategy is a recurring trading rule over a cyclic market family.
// Strategies are loaded from configuration and are read-only to the
// watcher; the current cycle is always derived from wall-clock time,
// never stored.
type Strategy struct {
	ID                 string
	Account            string // funder wallet address
	Name               string
	SlugTemplate       string // per-cycle slug is template + "-" + periodStart
	IntervalSeconds    int64
	WindowStartSeconds int64
	WindowEndSeconds   int64
	MinPrice           float64
	MaxPrice           float64
	AmountMode         AmountMode
	AmountValue        float64
	SpreadMode         SpreadMode
	SpreadValue        float64
	Symbol             string // underlying spot symbol for the spread gate, e.g. BTCUSDT
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Trigger is the durable record of one attempted trade for one cycle.
// At most one row exists per (StrategyID, PeriodStart). Rows are written
// once by the execution engine; only the resolution fields are updated
// later, exactly once, by the settlement sweep.
type Trigger struct {
	ID           string
	StrategyID   string
	PeriodStart  int64
	MarketTitle  string
	OutcomeIndex int
	Price        float64 // actual fill price when known, else the computed target
	AmountUSDC   float64
	OrderID      string // empty on failed submissions
	Status       TriggerStatus
	FailReason   string
	ConditionID  string // cached on first settlement lookup

	Resolved    bool
	WinnerIndex int     // valid only when Resolved
	RealizedPnL float64 // valid only when Resolved
	SettledAt   time.Time
	CreatedAt   time.Time
}

// ErrDuplicateTrigger is returned by InsertTrigger when a row already
// exists for the same (strategy, period start) key.
var ErrDuplicateTrigger = errors.New("trigger already exists for cycle")

// StrategyStore is the read side the watcher consumes plus the replace
// operation the config reload path uses.
type StrategyStore interface {
	EnabledStrategies(ctx context.Context) ([]Strategy, error)
	ReplaceStrategies(ctx context.Context, strategies []Strategy) error
}

// TriggerStore persists trigger rows with insert-if-absent semantics on
// (StrategyID, PeriodStart) and a one-time resolution update by ID.
type TriggerStore interface {
	InsertTrigger(ctx context.Context, t *Trigger) error
	TriggerExists(ctx context.Context, strategyID string, periodStart int64) (bool, error)
	UnresolvedTriggers(ctx context.Context) ([]Trigger, error)
	SetConditionID(ctx context.Context, triggerID, conditionID string) error
	ResolveTrigger(ctx context.Context, triggerID string, winnerIndex int, realizedPnL float64, settledAt time.Time) (bool, error)
}
