package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tailbot/internal/store"
)

// moveCacheTTL bounds how often the gate refetches the live candle for
// the same cycle. Candidate events can arrive many times per second.
const moveCacheTTL = 2 * time.Second

// baseCacheMaxAge bounds how long a computed base spread stays around
// after its cycle has passed.
const baseCacheMaxAge = time.Hour

// klineSource reports spot moves for a symbol: the live move since cycle
// start and the per-direction base spread derived from the candles that
// closed before the cycle.
type klineSource interface {
	CycleMove(ctx context.Context, symbol string, intervalSeconds, periodStart int64) (float64, error)
	AutoBaseSpread(ctx context.Context, symbol string, intervalSeconds, periodStart int64) (up, down float64, err error)
}

// SpreadGate optionally blocks triggers until the underlying spot price
// has moved far enough within the cycle. A large early move makes the
// leading outcome much more likely to hold to cycle end.
type SpreadGate struct {
	logger *zap.Logger
	klines klineSource

	mu    sync.Mutex
	moves map[string]cachedMove
	bases map[string]cachedBase
}

type cachedMove struct {
	move      float64
	fetchedAt time.Time
}

type cachedBase struct {
	up        float64
	down      float64
	fetchedAt time.Time
}

func NewSpreadGate(logger *zap.Logger, klines klineSource) *SpreadGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpreadGate{
		logger: logger,
		klines: klines,
		moves:  make(map[string]cachedMove),
		bases:  make(map[string]cachedBase),
	}
}

// Allows reports whether the strategy's spread requirement is met at now
// for the given outcome. Mode NONE always passes. FIXED compares the
// cycle's live move against the configured value. AUTO compares it
// against the outcome direction's computed base spread scaled by the
// window-progress coefficient; an unavailable base passes rather than
// silently disabling the strategy. Errors fetching the live move fail
// closed: the candidate is skipped and a later event retries.
func (g *SpreadGate) Allows(ctx context.Context, strat *store.Strategy, periodStart int64, outcomeIndex int, now time.Time) (bool, error) {
	if strat.SpreadMode == store.SpreadNone || strat.SpreadMode == "" {
		return true, nil
	}

	move, err := g.cycleMove(ctx, strat.Symbol, strat.IntervalSeconds, periodStart)
	if err != nil {
		return false, err
	}

	var required float64
	switch strat.SpreadMode {
	case store.SpreadFixed:
		if strat.SpreadValue <= 0 {
			return true, nil
		}
		required = strat.SpreadValue
	case store.SpreadAuto:
		base := g.autoBase(ctx, strat, periodStart, outcomeIndex)
		if base <= 0 {
			return true, nil
		}
		required = base * autoCoefficient(strat, periodStart, now)
		if required <= 0 {
			return true, nil
		}
	default:
		return true, nil
	}

	if move < required {
		g.logger.Debug("spread gate blocked candidate",
			zap.String("strategyID", strat.ID),
			zap.String("symbol", strat.Symbol),
			zap.Int("outcome", outcomeIndex),
			zap.Float64("move", move),
			zap.Float64("required", required),
		)
		return false, nil
	}
	return true, nil
}

func (g *SpreadGate) cycleMove(ctx context.Context, symbol string, intervalSeconds, periodStart int64) (float64, error) {
	key := cycleKey(symbol, periodStart)

	g.mu.Lock()
	if cached, ok := g.moves[key]; ok && time.Since(cached.fetchedAt) < moveCacheTTL {
		g.mu.Unlock()
		return cached.move, nil
	}
	g.mu.Unlock()

	move, err := g.klines.CycleMove(ctx, symbol, intervalSeconds, periodStart)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	g.moves[key] = cachedMove{move: move, fetchedAt: time.Now()}
	if len(g.moves) > 64 {
		for k := range g.moves {
			if time.Since(g.moves[k].fetchedAt) >= moveCacheTTL {
				delete(g.moves, k)
			}
		}
	}
	g.mu.Unlock()

	return move, nil
}

// autoBase returns the outcome direction's base spread for the cycle,
// computing and caching the (up, down) pair on first use. Returns 0 when
// the base cannot be computed; the caller treats that as no requirement.
func (g *SpreadGate) autoBase(ctx context.Context, strat *store.Strategy, periodStart int64, outcomeIndex int) float64 {
	key := fmt.Sprintf("%s:%d:%d", strat.Symbol, strat.IntervalSeconds, periodStart)

	g.mu.Lock()
	if cached, ok := g.bases[key]; ok {
		g.mu.Unlock()
		return baseForOutcome(cached, outcomeIndex)
	}
	g.mu.Unlock()

	up, down, err := g.klines.AutoBaseSpread(ctx, strat.Symbol, strat.IntervalSeconds, periodStart)
	if err != nil {
		g.logger.Warn("base spread unavailable",
			zap.String("strategyID", strat.ID),
			zap.String("symbol", strat.Symbol),
			zap.Int64("periodStart", periodStart),
			zap.Error(err),
		)
		return 0
	}

	base := cachedBase{up: up, down: down, fetchedAt: time.Now()}
	g.mu.Lock()
	g.bases[key] = base
	if len(g.bases) > 64 {
		for k := range g.bases {
			if time.Since(g.bases[k].fetchedAt) >= baseCacheMaxAge {
				delete(g.bases, k)
			}
		}
	}
	g.mu.Unlock()

	return baseForOutcome(base, outcomeIndex)
}

func baseForOutcome(b cachedBase, outcomeIndex int) float64 {
	if outcomeIndex == 0 {
		return b.up
	}
	return b.down
}

// autoCoefficient relaxes the AUTO-mode requirement as the trade window
// progresses: a smaller remaining cycle needs a smaller lead to hold.
// It decays linearly from 1.0 at window start to 0.5 at window end.
func autoCoefficient(strat *store.Strategy, periodStart int64, now time.Time) float64 {
	start := WindowStart(strat, periodStart)
	end := WindowEnd(strat, periodStart)
	if end <= start {
		return 1.0
	}
	progress := float64(now.Unix()-start) / float64(end-start)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return 1.0 - 0.5*progress
}
