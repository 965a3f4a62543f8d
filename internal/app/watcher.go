package app

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tailbot/clients/clobevents"
	"tailbot/clients/gamma"
	"tailbot/config"
	"tailbot/internal/metrics"
	"tailbot/internal/store"
)

// eventStream is the duplex order-book stream the watcher consumes.
type eventStream interface {
	Connect(ctx context.Context, assetIDs []string) error
	Messages() <-chan json.RawMessage
	Errors() <-chan error
	Close() error
	Stats() clobevents.Stats
}

// marketResolver looks up the concrete per-cycle market by slug.
type marketResolver interface {
	Resolve(ctx context.Context, slug string) (*gamma.Market, error)
}

// candidateSink receives qualifying best-bid observations.
type candidateSink interface {
	OnCandidatePrice(ctx context.Context, strat *store.Strategy, periodStart int64, market *gamma.Market, outcomeIndex int, bestBid float64)
}

// subEntry maps one subscribed token to the cycle outcome it represents.
type subEntry struct {
	strategy     store.Strategy
	periodStart  int64
	market       gamma.Market
	outcomeIndex int
}

type subMap map[string][]subEntry

// session end reasons.
type sessionResult int

const (
	sessionShutdown sessionResult = iota
	sessionRollover
	sessionError
)

// Watcher keeps one live order-book stream subscribed to the token set of
// every enabled strategy's current cycle and routes price events to the
// execution engine. It reconnects forever on a fixed backoff.
type Watcher struct {
	logger     *zap.Logger
	cfg        config.WatcherConfig
	stream     eventStream
	resolver   marketResolver
	strategies store.StrategyStore
	sink       candidateSink

	subs     atomic.Pointer[subMap]
	changeCh chan struct{}
}

func NewWatcher(
	logger *zap.Logger,
	cfg config.WatcherConfig,
	stream eventStream,
	resolver marketResolver,
	strategies store.StrategyStore,
	sink candidateSink,
) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		logger:     logger,
		cfg:        cfg,
		stream:     stream,
		resolver:   resolver,
		strategies: strategies,
		sink:       sink,
		changeCh:   make(chan struct{}, 1),
	}
	empty := make(subMap)
	w.subs.Store(&empty)
	return w
}

// NotifyStrategiesChanged schedules an immediate resubscribe. Safe to call
// from any goroutine; redundant calls coalesce.
func (w *Watcher) NotifyStrategiesChanged() {
	select {
	case w.changeCh <- struct{}{}:
	default:
	}
}

// Run owns the connect/consume/reconnect loop until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		subs, err := w.rebuildSubscriptions(ctx)
		if err != nil {
			w.logger.Warn("subscription rebuild failed", zap.Error(err))
			sleepCtx(ctx, w.cfg.ReconnectBackoff)
			continue
		}

		tokens := tokenSet(subs)
		if len(tokens) == 0 {
			if !w.idleWait(ctx) {
				return
			}
			continue
		}

		if err := w.stream.Connect(ctx, tokens); err != nil {
			w.logger.Warn("order book stream connect failed", zap.Error(err))
			metrics.Reconnects.Inc()
			sleepCtx(ctx, w.cfg.ReconnectBackoff)
			continue
		}
		w.logger.Info("order book stream connected", zap.Int("tokens", len(tokens)))

		result := w.consume(ctx, subs)
		_ = w.stream.Close()

		switch result {
		case sessionShutdown:
			return
		case sessionRollover:
			// Resubscribe immediately; the old market just ended or the
			// strategy set changed.
		case sessionError:
			metrics.Reconnects.Inc()
			sleepCtx(ctx, w.cfg.ReconnectBackoff)
		}
	}
}

// consume reads the stream until shutdown, a stream error, or a reason to
// rebuild the subscription map.
func (w *Watcher) consume(ctx context.Context, subs subMap) sessionResult {
	timer := time.NewTimer(w.proactiveDelay(subs))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return sessionShutdown

		case <-w.changeCh:
			w.logger.Info("strategy set changed, rebuilding subscriptions")
			return sessionRollover

		case <-timer.C:
			w.logger.Debug("cycle ended, rebuilding subscriptions")
			return sessionRollover

		case err := <-w.stream.Errors():
			w.logger.Warn("order book stream error", zap.Error(err))
			return sessionError

		case msg := <-w.stream.Messages():
			if w.dispatch(ctx, subs, msg) {
				return sessionRollover
			}
		}
	}
}

// dispatch routes one raw frame to every mapped cycle outcome whose trade
// window contains the present. Reports whether any subscribed cycle has
// rolled over, which forces an immediate resubscribe.
func (w *Watcher) dispatch(ctx context.Context, subs subMap, msg json.RawMessage) bool {
	events := clobevents.ParsePriceEvents(msg)
	if len(events) == 0 {
		return false
	}

	now := time.Now()
	rolled := false
	for _, ev := range events {
		metrics.PriceEventsTotal.WithLabelValues(ev.Kind).Inc()

		for _, entry := range subs[ev.AssetID] {
			if PeriodStart(now, entry.strategy.IntervalSeconds) != entry.periodStart {
				rolled = true
			}
			if !InWindow(&entry.strategy, entry.periodStart, now) {
				continue
			}

			strat := entry.strategy
			market := entry.market
			go w.sink.OnCandidatePrice(ctx, &strat, entry.periodStart, &market, entry.outcomeIndex, ev.BestBid)
		}
	}
	return rolled
}

// rebuildSubscriptions resolves the current cycle of every enabled
// strategy whose trade window has not yet ended and swaps in the new map
// wholesale. Idempotent; safe to call redundantly.
func (w *Watcher) rebuildSubscriptions(ctx context.Context) (subMap, error) {
	strategies, err := w.strategies.EnabledStrategies(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	subs := make(subMap)
	for i := range strategies {
		strat := strategies[i]
		periodStart := PeriodStart(now, strat.IntervalSeconds)
		if now.Unix() >= WindowEnd(&strat, periodStart) {
			continue
		}

		slug := CycleSlug(strat.SlugTemplate, periodStart)
		resolveCtx, cancel := context.WithTimeout(ctx, w.cfg.ResolveTimeout)
		market, err := w.resolver.Resolve(resolveCtx, slug)
		cancel()
		if err != nil {
			w.logger.Warn("cycle market resolve failed",
				zap.String("strategyID", strat.ID),
				zap.String("slug", slug),
				zap.Error(err),
			)
			continue
		}

		for idx, tokenID := range market.TokenIDs {
			subs[tokenID] = append(subs[tokenID], subEntry{
				strategy:     strat,
				periodStart:  periodStart,
				market:       *market,
				outcomeIndex: idx,
			})
		}
	}

	prev := tokenSet(*w.subs.Load())
	next := tokenSet(subs)
	w.subs.Store(&subs)

	metrics.Resubscribes.Inc()
	metrics.SubscribedTokens.Set(float64(len(next)))
	w.logger.Info("subscription map rebuilt",
		zap.Int("tokens", len(next)),
		zap.Int("added", len(difference(next, prev))),
		zap.Int("removed", len(difference(prev, next))),
	)

	return subs, nil
}

// proactiveDelay schedules the rollover resubscribe slightly past the
// soonest known cycle end so the next market exists upstream by then.
func (w *Watcher) proactiveDelay(subs subMap) time.Duration {
	var soonest int64
	for _, entries := range subs {
		for _, entry := range entries {
			end := CycleEnd(&entry.strategy, entry.periodStart)
			if soonest == 0 || end < soonest {
				soonest = end
			}
		}
	}
	if soonest == 0 {
		return w.cfg.ReconnectBackoff
	}

	delay := time.Until(time.Unix(soonest, 0)) + w.cfg.ResubscribeSlack
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

// idleWait blocks while nothing is subscribable, until the next cycle
// could open a window or a strategy change arrives. Reports whether Run
// should keep going.
func (w *Watcher) idleWait(ctx context.Context) bool {
	timer := time.NewTimer(w.idleDelay(ctx))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.changeCh:
		w.logger.Info("strategy set changed while idle, rebuilding subscriptions")
		return true
	case <-timer.C:
		return true
	}
}

// idleDelay is how long to wait when nothing is subscribable right now,
// typically because every strategy's window has ended for this cycle.
func (w *Watcher) idleDelay(ctx context.Context) time.Duration {
	strategies, err := w.strategies.EnabledStrategies(ctx)
	if err != nil || len(strategies) == 0 {
		return w.cfg.ReconnectBackoff
	}

	now := time.Now()
	var soonest int64
	for i := range strategies {
		next := PeriodStart(now, strategies[i].IntervalSeconds) + strategies[i].IntervalSeconds
		if soonest == 0 || next < soonest {
			soonest = next
		}
	}

	delay := time.Until(time.Unix(soonest, 0)) + w.cfg.ResubscribeSlack
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

// SubscribedTokens returns the token IDs in the active subscription map,
// sorted for stable output.
func (w *Watcher) SubscribedTokens() []string {
	tokens := tokenSet(*w.subs.Load())
	sort.Strings(tokens)
	return tokens
}

// StreamStats exposes the underlying stream's counters.
func (w *Watcher) StreamStats() clobevents.Stats {
	return w.stream.Stats()
}

func tokenSet(subs subMap) []string {
	tokens := make([]string, 0, len(subs))
	for tokenID := range subs {
		tokens = append(tokens, tokenID)
	}
	return tokens
}
