package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tailbot/clients/chain"
	"tailbot/clients/clob"
	"tailbot/clients/notifier"
	"tailbot/config"
	"tailbot/internal/metrics"
	"tailbot/internal/store"
)

// payoutReader answers on-chain resolution queries.
type payoutReader interface {
	PayoutVector(ctx context.Context, conditionID string) ([]uint64, error)
}

// fillReader looks up the actual fill of a submitted order.
type fillReader interface {
	GetOrder(ctx context.Context, orderID string) (*clob.OrderFill, error)
}

// Settler periodically sweeps unresolved successful triggers, determines
// the winning outcome from the on-chain payout vector, and writes realized
// P&L exactly once per trigger.
type Settler struct {
	logger     *zap.Logger
	cfg        config.SettlementConfig
	triggers   store.TriggerStore
	strategies store.StrategyStore
	resolver   marketResolver
	payouts    payoutReader
	fills      fillReader
	notify     notifier.Notifier

	settledCount atomic.Int64
}

func NewSettler(
	logger *zap.Logger,
	cfg config.SettlementConfig,
	triggers store.TriggerStore,
	strategies store.StrategyStore,
	resolver marketResolver,
	payouts payoutReader,
	fills fillReader,
	notify notifier.Notifier,
) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{
		logger:     logger,
		cfg:        cfg,
		triggers:   triggers,
		strategies: strategies,
		resolver:   resolver,
		payouts:    payouts,
		fills:      fills,
		notify:     notify,
	}
}

// Run sweeps on a fixed period until ctx is canceled.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep settles every trigger it can and defers the rest to the next
// sweep. A failure on one trigger never blocks the others.
func (s *Settler) Sweep(ctx context.Context) {
	triggers, err := s.triggers.UnresolvedTriggers(ctx)
	if err != nil {
		s.logger.Warn("unresolved trigger fetch failed", zap.Error(err))
		return
	}
	metrics.UnresolvedTriggers.Set(float64(len(triggers)))
	if len(triggers) == 0 {
		return
	}

	templates := s.slugTemplates(ctx)
	for i := range triggers {
		if ctx.Err() != nil {
			return
		}
		if err := s.settleOne(ctx, &triggers[i], templates); err != nil {
			s.logger.Warn("settlement deferred to next sweep",
				zap.String("triggerID", shortID(triggers[i].ID)),
				zap.String("market", triggers[i].MarketTitle),
				zap.Error(err),
			)
		}
	}
}

func (s *Settler) settleOne(ctx context.Context, t *store.Trigger, templates map[string]string) error {
	conditionID, err := s.conditionID(ctx, t, templates)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	payouts, err := s.payouts.PayoutVector(callCtx, conditionID)
	cancel()
	if errors.Is(err, chain.ErrUnresolved) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("payout vector: %w", err)
	}

	winner, err := chain.WinnerIndex(payouts)
	if err != nil {
		return fmt.Errorf("winner index: %w", err)
	}

	price, size := s.fillOrFallback(ctx, t)
	won := winner == t.OutcomeIndex
	var pnl float64
	if won {
		pnl = size - size*price
	} else {
		pnl = -size * price
	}

	updated, err := s.triggers.ResolveTrigger(ctx, t.ID, winner, pnl, time.Now())
	if err != nil {
		return fmt.Errorf("resolve trigger: %w", err)
	}
	if !updated {
		// Already resolved by an earlier sweep.
		return nil
	}

	s.settledCount.Add(1)
	if won {
		metrics.SettlementsTotal.WithLabelValues("won").Inc()
		metrics.RealizedPnL.Add(pnl)
	} else {
		metrics.SettlementsTotal.WithLabelValues("lost").Inc()
		metrics.RealizedLoss.Add(-pnl)
	}

	s.logger.Info("trigger settled",
		zap.String("triggerID", shortID(t.ID)),
		zap.String("market", t.MarketTitle),
		zap.Bool("won", won),
		zap.Float64("realizedPnL", pnl),
	)

	if s.notify != nil {
		s.notify.Send(notifier.Event{
			Kind:         notifier.EventSettled,
			StrategyID:   t.StrategyID,
			PeriodStart:  t.PeriodStart,
			MarketTitle:  t.MarketTitle,
			OutcomeIndex: t.OutcomeIndex,
			Price:        price,
			AmountUSDC:   t.AmountUSDC,
			OrderID:      t.OrderID,
			Won:          won,
			RealizedPnL:  pnl,
			Timestamp:    time.Now(),
		})
	}
	return nil
}

// conditionID returns the trigger's cached condition identifier, resolving
// and caching it on first need.
func (s *Settler) conditionID(ctx context.Context, t *store.Trigger, templates map[string]string) (string, error) {
	if t.ConditionID != "" {
		return t.ConditionID, nil
	}

	template, ok := templates[t.StrategyID]
	if !ok {
		return "", fmt.Errorf("no strategy %s for condition lookup", t.StrategyID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	market, err := s.resolver.Resolve(callCtx, CycleSlug(template, t.PeriodStart))
	cancel()
	if err != nil {
		return "", fmt.Errorf("resolve condition: %w", err)
	}
	if market.ConditionID == "" {
		return "", fmt.Errorf("market %s has no condition id", market.Slug)
	}

	if err := s.triggers.SetConditionID(ctx, t.ID, market.ConditionID); err != nil {
		s.logger.Warn("condition id cache write failed", zap.Error(err))
	}
	return market.ConditionID, nil
}

// fillOrFallback prefers the order's actual fill; when the fill is
// unavailable or degenerate it falls back to the values recorded on the
// trigger at execution time.
func (s *Settler) fillOrFallback(ctx context.Context, t *store.Trigger) (price, size float64) {
	price = t.Price
	if t.Price > 0 {
		size = t.AmountUSDC / t.Price
	}

	if t.OrderID == "" {
		return price, size
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	fill, err := s.fills.GetOrder(callCtx, t.OrderID)
	cancel()
	if err != nil || fill == nil || fill.Price <= 0 || fill.SizeMatched <= 0 {
		return price, size
	}
	return fill.Price, fill.SizeMatched
}

// slugTemplates snapshots strategy slug templates for condition lookups.
func (s *Settler) slugTemplates(ctx context.Context) map[string]string {
	strategies, err := s.strategies.EnabledStrategies(ctx)
	if err != nil {
		s.logger.Warn("strategy snapshot failed", zap.Error(err))
		return nil
	}
	templates := make(map[string]string, len(strategies))
	for i := range strategies {
		templates[strategies[i].ID] = strategies[i].SlugTemplate
	}
	return templates
}

// SettledCount returns the number of triggers resolved since process start.
func (s *Settler) SettledCount() int64 {
	return s.settledCount.Load()
}
