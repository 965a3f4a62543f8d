package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"

	"tailbot/clients/gamma"
	"tailbot/internal/store"
)

// PeriodContext is the per-cycle bundle of everything an order submission
// needs besides the live price: venue credentials are warmed, the fee rate
// is looked up once, and for fixed-amount strategies the orders for both
// outcomes are signed ahead of time so the trigger path does no signing.
type PeriodContext struct {
	Strategy    store.Strategy
	PeriodStart int64
	Market      gamma.Market
	FeeRateBps  string

	// PreSigned holds one signed order per outcome index. Nil for ratio
	// mode, where size depends on a balance fetched at trigger time.
	PreSigned []*gomodel.SignedOrder

	expiresAt int64
}

// expired reports whether the cycle this context belongs to has ended.
func (pc *PeriodContext) expired(now time.Time) bool {
	return now.Unix() >= pc.expiresAt
}

// contextBuilder is the slice of venue and signing behavior the cache needs.
type contextBuilder interface {
	EnsureCreds(ctx context.Context) error
	TokenFeeRate(ctx context.Context, conditionID string) (string, error)
}

type orderSigner interface {
	BuildOrder(tokenID string, price, size float64, feeRateBps string) (*gomodel.SignedOrder, error)
}

// PeriodContextCache builds and memoizes PeriodContexts keyed by
// (strategy, period start). Construction races build twice and keep one
// copy; that is harmless because submission itself is gated elsewhere.
type PeriodContextCache struct {
	logger      *zap.Logger
	venue       contextBuilder
	signer      orderSigner
	targetPrice float64

	mu      sync.Mutex
	entries map[string]*PeriodContext
}

func NewPeriodContextCache(logger *zap.Logger, venue contextBuilder, signer orderSigner, targetPrice float64) *PeriodContextCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodContextCache{
		logger:      logger,
		venue:       venue,
		signer:      signer,
		targetPrice: targetPrice,
		entries:     make(map[string]*PeriodContext),
	}
}

// Get returns the context for the cycle, building it on first need.
// Expired entries are evicted lazily on access.
func (c *PeriodContextCache) Get(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market) (*PeriodContext, error) {
	key := cycleKey(strat.ID, periodStart)

	c.mu.Lock()
	if pc, ok := c.entries[key]; ok && !pc.expired(time.Now()) {
		c.mu.Unlock()
		return pc, nil
	}
	delete(c.entries, key)
	c.mu.Unlock()

	pc, err := c.build(ctx, strat, periodStart, market)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && !existing.expired(time.Now()) {
		return existing, nil
	}
	c.entries[key] = pc
	return pc, nil
}

func (c *PeriodContextCache) build(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market) (*PeriodContext, error) {
	if err := c.venue.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("ensure venue credentials: %w", err)
	}

	feeRate, err := c.venue.TokenFeeRate(ctx, market.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("fetch fee rate: %w", err)
	}

	pc := &PeriodContext{
		Strategy:    *strat,
		PeriodStart: periodStart,
		Market:      *market,
		FeeRateBps:  feeRate,
		expiresAt:   periodStart + strat.IntervalSeconds,
	}

	if strat.AmountMode == store.AmountFixed {
		size := orderSize(strat.AmountValue, c.targetPrice)
		pc.PreSigned = make([]*gomodel.SignedOrder, len(market.TokenIDs))
		for i, tokenID := range market.TokenIDs {
			signed, err := c.signer.BuildOrder(tokenID, c.targetPrice, size, feeRate)
			if err != nil {
				return nil, fmt.Errorf("pre-sign order for outcome %d: %w", i, err)
			}
			pc.PreSigned[i] = signed
		}
		c.logger.Debug("pre-signed cycle orders",
			zap.String("strategyID", strat.ID),
			zap.Int64("periodStart", periodStart),
			zap.Int("outcomes", len(market.TokenIDs)),
			zap.Float64("size", size),
		)
	}

	return pc, nil
}

// Size returns the number of cached contexts, expired or not.
func (c *PeriodContextCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// orderSize converts a USDC amount to a share count at the target price,
// rounded up to the venue's two-decimal size precision, never below one.
func orderSize(amountUSDC, targetPrice float64) float64 {
	size := math.Ceil(amountUSDC/targetPrice*100) / 100
	if size < 1 {
		size = 1
	}
	return size
}

// cycleKey identifies one cycle of one strategy.
func cycleKey(strategyID string, periodStart int64) string {
	return fmt.Sprintf("%s:%d", strategyID, periodStart)
}
