package app

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	clts "tailbot/clients"
	"tailbot/config"
	"tailbot/internal/store"
)

// ensure Runner implements StrategiesObserver
var _ config.StrategiesObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the watcher, execution engine, and settlement sweep
// together and owns their lifecycles.
type Runner struct {
	clients    *clts.Clients
	cfg        *config.Config
	strategies *config.LiveStrategies
	db         *store.SQLiteStore

	contexts *PeriodContextCache
	spread   *SpreadGate
	executor *Executor
	watcher  *Watcher
	settler  *Settler

	healthServer *statsServer
	startTime    time.Time
}

func NewRunner(clients *clts.Clients, cfg *config.Config, strategies *config.LiveStrategies, db *store.SQLiteStore) *Runner {
	return &Runner{
		clients:    clients,
		cfg:        cfg,
		strategies: strategies,
		db:         db,
	}
}

// OnStrategiesUpdate replaces the stored strategy set and tells the
// watcher to rebuild its subscriptions.
// Implements config.StrategiesObserver.
func (r *Runner) OnStrategiesUpdate(specs []config.StrategySpec) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	strategies := specsToStrategies(specs)
	if err := r.db.ReplaceStrategies(ctx, strategies); err != nil {
		r.clients.Logger.Error("strategy replace failed", zap.Error(err))
		return
	}
	r.clients.Logger.Info("strategy set updated", zap.Int("strategies", len(strategies)))

	if r.watcher != nil {
		r.watcher.NotifyStrategiesChanged()
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger

	// Seed the store from the strategies file, then follow reloads.
	r.OnStrategiesUpdate(r.strategies.Get())
	r.strategies.AddObserver(r)

	r.contexts = NewPeriodContextCache(logger, r.clients.Clob, r.clients.Signer, r.cfg.Engine.TargetPrice)
	r.spread = NewSpreadGate(logger, r.clients.Binance)
	r.executor = NewExecutor(
		logger,
		r.cfg.Engine,
		r.db,
		r.clients.Clob,
		r.clients.Signer,
		r.contexts,
		r.spread,
		r.clients.Notifier,
	)
	r.watcher = NewWatcher(
		logger,
		r.cfg.Watcher,
		r.clients.Events,
		r.clients.Gamma,
		r.db,
		r.executor,
	)
	r.settler = NewSettler(
		logger,
		r.cfg.Settlement,
		r.db,
		r.db,
		r.clients.Gamma,
		r.clients.Chain,
		r.clients.Clob,
		r.clients.Notifier,
	)

	if r.cfg.HealthServer.Enabled {
		r.healthServer = newStatsServer(logger, r)
		r.healthServer.Start(r.cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", r.cfg.HealthServer.Port))
	}

	go r.watcher.Run(ctx)
	go r.settler.Run(ctx)

	logger.Info("watcher started",
		zap.Int("strategies", len(r.strategies.Get())),
		zap.Duration("settlementSweep", r.cfg.Settlement.SweepInterval),
		zap.Float64("targetPrice", r.cfg.Engine.TargetPrice),
	)

	<-ctx.Done()
	logger.Info("runner shutting down")

	_ = r.clients.Events.Close()

	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if r.clients.Notifier != nil {
		_ = r.clients.Notifier.Close()
	}

	return nil
}

// specsToStrategies converts file entries to store rows. Disabled entries
// are kept with their flag; the watcher only reads enabled ones.
func specsToStrategies(specs []config.StrategySpec) []store.Strategy {
	now := time.Now()
	strategies := make([]store.Strategy, 0, len(specs))
	for i := range specs {
		spec := &specs[i]
		strategies = append(strategies, store.Strategy{
			ID:                 spec.ID,
			Account:            spec.Account,
			Name:               spec.Name,
			SlugTemplate:       spec.SlugTemplate,
			IntervalSeconds:    spec.IntervalSeconds,
			WindowStartSeconds: spec.WindowStartSeconds,
			WindowEndSeconds:   spec.WindowEndSeconds,
			MinPrice:           spec.MinPrice,
			MaxPrice:           spec.MaxPrice,
			AmountMode:         store.AmountMode(spec.AmountMode),
			AmountValue:        spec.AmountValue,
			SpreadMode:         store.SpreadMode(spec.MinSpreadMode),
			SpreadValue:        spec.MinSpreadValue,
			Symbol:             spec.Symbol,
			Enabled:            spec.IsEnabled(),
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	return strategies
}

// ServiceStats is the snapshot served by the stats endpoint.
type ServiceStats struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Stream struct {
		MessageCount     uint64 `json:"message_count"`
		LastMessageAt    string `json:"last_message_at,omitempty"`
		LastMessageAgo   string `json:"last_message_ago,omitempty"`
		SubscribedTokens int    `json:"subscribed_tokens"`
	} `json:"stream"`

	Strategies struct {
		Configured int `json:"configured"`
	} `json:"strategies"`

	Triggers struct {
		Success int64 `json:"success"`
		Fail    int64 `json:"fail"`
	} `json:"triggers"`

	Settlement struct {
		Settled int64 `json:"settled"`
	} `json:"settlement"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

// GetStats assembles a point-in-time stats snapshot.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	uptime := time.Since(r.startTime)
	stats.StartTime = r.startTime.Format(time.RFC3339)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	if r.watcher != nil {
		streamStats := r.watcher.StreamStats()
		stats.Stream.MessageCount = streamStats.MessageCount
		if !streamStats.LastMessageAt.IsZero() {
			stats.Stream.LastMessageAt = streamStats.LastMessageAt.Format(time.RFC3339)
			stats.Stream.LastMessageAgo = time.Since(streamStats.LastMessageAt).Round(time.Second).String()
		}
		stats.Stream.SubscribedTokens = len(r.watcher.SubscribedTokens())
	}

	stats.Strategies.Configured = len(r.strategies.Get())

	if r.executor != nil {
		stats.Triggers.Success, stats.Triggers.Fail = r.executor.TriggerCounts()
	}
	if r.settler != nil {
		stats.Settlement.Settled = r.settler.SettledCount()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = mem.HeapAlloc
	stats.Runtime.NumGC = mem.NumGC
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}
