package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"

	"tailbot/clients/clob"
	"tailbot/clients/gamma"
	"tailbot/clients/notifier"
	"tailbot/config"
	"tailbot/internal/metrics"
	"tailbot/internal/store"
)

// orderVenue is the slice of the trading venue the engine exercises.
type orderVenue interface {
	contextBuilder
	Balance(ctx context.Context) (float64, error)
	SubmitOrder(ctx context.Context, signed *gomodel.SignedOrder, tokenID, orderType string) (*clob.PlacedOrder, error)
	GetOrder(ctx context.Context, orderID string) (*clob.OrderFill, error)
}

// Executor turns qualifying price events into at most one submitted order
// and one persisted trigger row per cycle.
type Executor struct {
	logger   *zap.Logger
	cfg      config.EngineConfig
	triggers store.TriggerStore
	venue    orderVenue
	signer   orderSigner
	contexts *PeriodContextCache
	spread   *SpreadGate
	notify   notifier.Notifier

	// locks holds one mutex per (strategy, period start). Entries are
	// never removed; cycles are bounded in number per process lifetime.
	locks sync.Map

	successCount atomic.Int64
	failCount    atomic.Int64
}

func NewExecutor(
	logger *zap.Logger,
	cfg config.EngineConfig,
	triggers store.TriggerStore,
	venue orderVenue,
	signer orderSigner,
	contexts *PeriodContextCache,
	spread *SpreadGate,
	notify notifier.Notifier,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:   logger,
		cfg:      cfg,
		triggers: triggers,
		venue:    venue,
		signer:   signer,
		contexts: contexts,
		spread:   spread,
		notify:   notify,
	}
}

// OnCandidatePrice evaluates one best-bid observation for one outcome of
// one cycle. Out-of-band, out-of-window, and already-triggered cycles are
// silent no-ops. Everything past those gates ends in exactly one trigger
// row, success or fail; no error escapes to the caller's goroutine.
func (e *Executor) OnCandidatePrice(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market, outcomeIndex int, bestBid float64) {
	if outcomeIndex < 0 || outcomeIndex >= len(market.TokenIDs) {
		return
	}
	if bestBid < strat.MinPrice || bestBid > strat.MaxPrice {
		return
	}
	if !InWindow(strat, periodStart, time.Now()) {
		return
	}

	started := time.Now()

	lock := e.cycleLock(strat.ID, periodStart)
	lock.Lock()
	defer lock.Unlock()

	// The window may have closed while this candidate waited on the lock.
	if !InWindow(strat, periodStart, time.Now()) {
		return
	}

	// The durable check under the lock is what makes the at-most-once
	// guarantee hold across concurrent candidate paths.
	exists, err := e.triggers.TriggerExists(ctx, strat.ID, periodStart)
	if err != nil {
		e.logger.Warn("trigger existence check failed",
			zap.String("strategyID", strat.ID),
			zap.Int64("periodStart", periodStart),
			zap.Error(err),
		)
		return
	}
	if exists {
		return
	}

	if e.spread != nil {
		allowed, err := e.spread.Allows(ctx, strat, periodStart, outcomeIndex, time.Now())
		if err != nil {
			e.logger.Warn("spread gate check failed",
				zap.String("strategyID", strat.ID),
				zap.Error(err),
			)
			return
		}
		if !allowed {
			return
		}
	}

	e.execute(ctx, strat, periodStart, market, outcomeIndex, bestBid, started)
}

func (e *Executor) execute(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market, outcomeIndex int, bestBid float64, started time.Time) {
	logger := e.logger.With(
		zap.String("strategyID", strat.ID),
		zap.String("strategy", strat.Name),
		zap.Int64("periodStart", periodStart),
		zap.Int("outcome", outcomeIndex),
		zap.Float64("bestBid", bestBid),
	)

	amount, err := e.investedAmount(ctx, strat)
	if err != nil {
		logger.Warn("sizing failed", zap.Error(err))
		e.persistFail(ctx, strat, periodStart, market, outcomeIndex, bestBid, 0, "sizing failed: "+err.Error())
		return
	}
	if amount < e.cfg.MinAmountUSDC {
		logger.Info("amount below minimum, not trading", zap.Float64("amount", amount))
		e.persistFail(ctx, strat, periodStart, market, outcomeIndex, bestBid, amount, "insufficient amount")
		return
	}

	pcCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	pc, err := e.contexts.Get(pcCtx, strat, periodStart, market)
	cancel()
	if err != nil {
		logger.Warn("period context build failed", zap.Error(err))
		e.persistFail(ctx, strat, periodStart, market, outcomeIndex, bestBid, amount, "context build failed: "+err.Error())
		return
	}

	size := orderSize(amount, e.cfg.TargetPrice)
	signed, err := e.signedOrder(pc, strat, market, outcomeIndex, size)
	if err != nil {
		logger.Warn("order signing failed", zap.Error(err))
		e.persistFail(ctx, strat, periodStart, market, outcomeIndex, bestBid, amount, "signing failed: "+err.Error())
		return
	}

	placed, err := e.submitWithRetry(ctx, signed, market.TokenIDs[outcomeIndex], logger)
	if err != nil {
		e.persistFail(ctx, strat, periodStart, market, outcomeIndex, bestBid, amount, "submit failed: "+err.Error())
		return
	}

	// Prefer the actual fill over the computed values when available.
	price, filledAmount := e.cfg.TargetPrice, amount
	if fill := e.queryFill(ctx, placed.OrderID, logger); fill != nil {
		price = fill.Price
		filledAmount = fill.Price * fill.SizeMatched
	}

	t := &store.Trigger{
		ID:           uuid.NewString(),
		StrategyID:   strat.ID,
		PeriodStart:  periodStart,
		MarketTitle:  market.Title,
		OutcomeIndex: outcomeIndex,
		Price:        price,
		AmountUSDC:   filledAmount,
		OrderID:      placed.OrderID,
		Status:       store.TriggerSuccess,
		ConditionID:  market.ConditionID,
		CreatedAt:    time.Now(),
	}
	if err := e.triggers.InsertTrigger(ctx, t); err != nil {
		if err == store.ErrDuplicateTrigger {
			logger.Warn("duplicate trigger suppressed at store")
			return
		}
		logger.Error("persist trigger failed", zap.Error(err))
		return
	}

	e.successCount.Add(1)
	metrics.TriggersTotal.WithLabelValues(string(store.TriggerSuccess)).Inc()
	metrics.TriggerLatency.Observe(time.Since(started).Seconds())

	logger.Info("trigger executed",
		zap.String("orderID", shortID(placed.OrderID)),
		zap.Float64("price", price),
		zap.Float64("amountUSDC", filledAmount),
	)

	if e.notify != nil {
		e.notify.Send(notifier.Event{
			Kind:         notifier.EventTriggerSuccess,
			StrategyID:   strat.ID,
			StrategyName: strat.Name,
			PeriodStart:  periodStart,
			MarketTitle:  market.Title,
			OutcomeIndex: outcomeIndex,
			Price:        price,
			AmountUSDC:   filledAmount,
			OrderID:      placed.OrderID,
			Timestamp:    time.Now(),
		})
	}
}

// investedAmount computes the USDC to commit for this trigger.
func (e *Executor) investedAmount(ctx context.Context, strat *store.Strategy) (float64, error) {
	if strat.AmountMode == store.AmountFixed {
		return strat.AmountValue, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	balance, err := e.venue.Balance(callCtx)
	if err != nil {
		return 0, err
	}
	return balance * strat.AmountValue, nil
}

// signedOrder returns the pre-signed payload for fixed-amount strategies
// and signs fresh for ratio mode, where size is only known now.
func (e *Executor) signedOrder(pc *PeriodContext, strat *store.Strategy, market *gamma.Market, outcomeIndex int, size float64) (*gomodel.SignedOrder, error) {
	if strat.AmountMode == store.AmountFixed && outcomeIndex < len(pc.PreSigned) && pc.PreSigned[outcomeIndex] != nil {
		return pc.PreSigned[outcomeIndex], nil
	}
	return e.signer.BuildOrder(market.TokenIDs[outcomeIndex], e.cfg.TargetPrice, size, pc.FeeRateBps)
}

func (e *Executor) submitWithRetry(ctx context.Context, signed *gomodel.SignedOrder, tokenID string, logger *zap.Logger) (*clob.PlacedOrder, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.SubmitAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, e.cfg.SubmitRetryDelay) {
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		placed, err := e.venue.SubmitOrder(callCtx, signed, tokenID, clob.OrderTypeFAK)
		cancel()
		if err == nil {
			metrics.OrderSubmitAttempts.WithLabelValues("ok").Inc()
			return placed, nil
		}

		lastErr = err
		metrics.OrderSubmitAttempts.WithLabelValues("error").Inc()
		logger.Warn("order submission attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// queryFill waits briefly for the venue to settle the order state, then
// asks for the actual fill. Returns nil on failure or a degenerate fill;
// the caller falls back to the computed values.
func (e *Executor) queryFill(ctx context.Context, orderID string, logger *zap.Logger) *clob.OrderFill {
	if !sleepCtx(ctx, e.cfg.FillQueryDelay) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	fill, err := e.venue.GetOrder(callCtx, orderID)
	if err != nil {
		logger.Warn("fill query failed, using computed values", zap.Error(err))
		return nil
	}
	if fill == nil || fill.Price <= 0 || fill.SizeMatched <= 0 {
		return nil
	}
	return fill
}

func (e *Executor) persistFail(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market, outcomeIndex int, bestBid, amount float64, reason string) {
	t := &store.Trigger{
		ID:           uuid.NewString(),
		StrategyID:   strat.ID,
		PeriodStart:  periodStart,
		MarketTitle:  market.Title,
		OutcomeIndex: outcomeIndex,
		Price:        bestBid,
		AmountUSDC:   amount,
		Status:       store.TriggerFail,
		FailReason:   reason,
		ConditionID:  market.ConditionID,
		CreatedAt:    time.Now(),
	}
	if err := e.triggers.InsertTrigger(ctx, t); err != nil && err != store.ErrDuplicateTrigger {
		e.logger.Error("persist failed trigger",
			zap.String("strategyID", strat.ID),
			zap.Int64("periodStart", periodStart),
			zap.Error(err),
		)
		return
	}

	e.failCount.Add(1)
	metrics.TriggersTotal.WithLabelValues(string(store.TriggerFail)).Inc()

	if e.notify != nil {
		e.notify.Send(notifier.Event{
			Kind:         notifier.EventTriggerFail,
			StrategyID:   strat.ID,
			StrategyName: strat.Name,
			PeriodStart:  periodStart,
			MarketTitle:  market.Title,
			OutcomeIndex: outcomeIndex,
			Price:        bestBid,
			AmountUSDC:   amount,
			FailReason:   reason,
			Timestamp:    time.Now(),
		})
	}
}

func (e *Executor) cycleLock(strategyID string, periodStart int64) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(cycleKey(strategyID, periodStart), &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// TriggerCounts returns the number of success and fail triggers persisted
// since process start.
func (e *Executor) TriggerCounts() (success, fail int64) {
	return e.successCount.Load(), e.failCount.Load()
}

// sleepCtx sleeps for d unless ctx is canceled first. Reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
