package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/api"
	"autotrader/internal/audit"
	"autotrader/internal/balance"
	"autotrader/internal/cronrunner"
	"autotrader/internal/engine"
	"autotrader/internal/events"
	"autotrader/internal/indicators"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/internal/monitor"
	"autotrader/internal/notify"
	"autotrader/internal/order"
	"autotrader/internal/persistence"
	"autotrader/internal/reconciliation"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"autotrader/internal/strategy"
	"autotrader/pkg/config"
	"autotrader/pkg/db"
	exspot "autotrader/pkg/exchanges/binance/spot"
	"autotrader/pkg/exchanges/common"
	"autotrader/pkg/logger"
	marketbinance "autotrader/pkg/market/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("runner exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Info("starting strategy runner",
		zap.String("version", buildVersion),
		zap.String("mode", cfg.TradingMode),
		zap.String("db", cfg.DBPath),
		zap.Bool("mock_feed", cfg.UseMockFeed))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	store := database.Queries()

	// Core services
	bus := events.NewBus()
	bus.OnDrop(func(e events.Event, payload any) {
		if a, ok := payload.(events.Alert); ok && a.Level == events.LevelCritical {
			log.Error("critical alert dropped by a full subscriber",
				zap.String("type", string(e)),
				zap.String("title", a.Title),
				zap.String("message", a.Message))
		}
	})
	marks := market.NewMarks()
	history := indicators.NewHistory(cfg.BarLookback)
	metrics := monitor.NewMetrics()
	(&monitor.Monitor{Bus: bus, Metrics: metrics, Log: log.Named("monitor")}).Start(ctx)

	// Alert journal and notification channels
	journal := persistence.NewBatchWriter[db.Alert](store.InsertAlerts, 50, 2*time.Second, log.Named("journal"))
	defer func() { _ = journal.Close() }()
	dispatcher, err := buildDispatcher(cfg, journal, log)
	if err != nil {
		return err
	}
	dispatcher.Run(ctx, bus, 256)

	// Market data
	var feed market.Gateway
	if cfg.UseMockFeed {
		feed = market.NewMockGateway(100, 0.002, time.Now().UnixNano())
	} else {
		feed = market.NewBinanceGateway(marketbinance.NewClient(cfg.BinanceTestnet, cfg.MarketRateLimit))
	}

	// Venues
	venues := map[order.Mode]common.Venue{
		order.ModePaper: order.NewPaperBroker(marks, order.PaperConfig{
			StartingCash: cfg.PaperInitialEquity,
			SlippageBps:  cfg.PaperSlippageBps,
			FeeRate:      cfg.PaperFeeRate,
		}),
	}
	if cfg.LiveTradingConfigured() {
		venues[order.ModeLive] = exspot.New(exspot.Config{
			APIKey:            cfg.BinanceAPIKey,
			APISecret:         cfg.BinanceAPISecret,
			Testnet:           cfg.BinanceTestnet,
			Prices:            marks.Get,
			RequestsPerSecond: cfg.MarketRateLimit,
		})
	}
	mode, err := order.ParseMode(cfg.TradingMode)
	if err != nil {
		return err
	}
	executor, err := order.NewExecutor(store, venues, mode, cfg.OrderTimeout, log)
	if err != nil {
		return fmt.Errorf("order executor: %w", err)
	}
	executor.SetObserver(metrics)

	balances := balance.NewManager(executor, 30*time.Second, log)
	balances.Start(ctx, 30*time.Second)

	// Positions and risk
	positions := ledger.New(store, log)
	if err := positions.Load(ctx); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	daily := risk.NewDailyGuard(cfg.DailyLossThreshold, store, bus, log)
	if err := daily.Load(ctx); err != nil {
		return fmt.Errorf("load daily risk state: %w", err)
	}
	gate := risk.NewGatekeeper(daily, risk.NewPortfolioLimiter(risk.Config{
		DailyLossThreshold:    cfg.DailyLossThreshold,
		MaxPortfolioHeat:      cfg.MaxPortfolioHeat,
		MaxCorrelatedExposure: cfg.MaxCorrelatedExposure,
		CorrelationThreshold:  cfg.CorrelationThreshold,
	}, positions, marks, history), log)

	auditLog := audit.NewLog(store, bus, log)

	// Scheduler
	sched, err := scheduler.New(scheduler.Config{
		Interval:          cfg.TickInterval,
		Lookback:          cfg.BarLookback,
		PositionFraction:  cfg.PositionFraction,
		StopATRMultiplier: cfg.StopATRMultiplier,
		ATRPeriod:         cfg.ATRPeriod,
		LotStep:           cfg.LotStep,
	}, scheduler.Deps{
		Store:   store,
		Market:  feed,
		Marks:   marks,
		History: history,
		Ledger:  positions,
		Risk:    gate,
		Daily:   daily,
		Orders:  executor,
		Equity:  balances,
		Audit:   auditLog,
		Bus:     bus,
		Metrics: metrics,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	active, err := sched.Load(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	seeded, err := seedStrategies(ctx, cfg.StrategiesFile, sched, log)
	if err != nil {
		return err
	}
	active = dedupe(append(active, seeded...))

	// Periodic risk jobs
	jobs := cronrunner.RiskJobs{Daily: daily, Equity: balances, Log: log.Named("risk-jobs")}
	jobs.CheckEquity(ctx)
	cron := cronrunner.New(log, ctx)
	if err := jobs.Register(cron, cfg.DailyResetCron, cfg.RiskCheckCron); err != nil {
		return err
	}
	recon := reconciliation.NewService(executor, positions, bus, log)
	recon.Run(ctx)
	if _, err := cron.Add("reconcile", cfg.ReconcileCron, recon.Run); err != nil {
		return err
	}
	if _, err := cron.Add("metrics_sample", "*/15 * * * * *", func(ctx context.Context) {
		sampleGauges(ctx, metrics, balances, gate, positions, daily)
	}); err != nil {
		return err
	}
	cron.Start()

	if cfg.ResumeOnBoot && len(active) > 0 {
		log.Info("resuming active strategies", zap.Strings("ids", active))
		sched.Resume(ctx, active)
	}

	// Engine and API
	eng, err := engine.NewImpl(engine.Config{
		Scheduler:          sched,
		Ledger:             positions,
		Daily:              daily,
		Gatekeeper:         gate,
		Executor:           executor,
		Balance:            balances,
		Audit:              auditLog,
		Marks:              marks,
		Bus:                bus,
		Notifier:           dispatcher,
		LiquidationTimeout: cfg.LiquidationTimeout,
		Meta:               engine.SystemStatus{UseMockFeed: cfg.UseMockFeed, Version: buildVersion},
		Log:                log,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	server := api.NewServer(api.Options{Engine: eng, Bus: bus, Metrics: metrics.Handler(), Log: log})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		log.Error("api server failed", zap.Error(err))
	}

	// Shutdown order: stop taking requests, stop jobs and strategy loops,
	// then drain notifications and the journal. ACTIVE statuses stay
	// persisted so the next boot resumes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	cron.Stop()
	sched.Shutdown()
	stop()
	dispatcher.Wait()
	if err := journal.Flush(shutdownCtx); err != nil {
		log.Warn("journal flush", zap.Error(err))
	}
	sent, failed := dispatcher.Stats()
	log.Info("stopped", zap.Uint64("alerts_sent", sent), zap.Uint64("alerts_failed", failed))
	return nil
}

func buildDispatcher(cfg *config.Config, journal notify.Journal, log *zap.Logger) (*notify.Dispatcher, error) {
	minLevel, err := events.ParseLevel(cfg.NotifyMinLevel)
	if err != nil {
		return nil, err
	}
	d := notify.NewDispatcher(10*time.Second, journal, log)
	d.Add(notify.NewConsole(log), events.LevelInfo)

	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		d.Add(slack, minLevel)
	}
	discord, err := notify.NewDiscord(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
	if err != nil {
		return nil, fmt.Errorf("discord notifier: %w", err)
	}
	if discord != nil {
		d.Add(discord, minLevel)
	}
	telegram, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	if telegram != nil {
		d.Add(telegram, minLevel)
	}
	log.Info("notification channels", zap.Strings("channels", d.Channels()), zap.String("min_level", string(minLevel)))
	return d, nil
}

// seedStrategies upserts the YAML definitions and returns the ids marked
// active there.
func seedStrategies(ctx context.Context, path string, sched *scheduler.Scheduler, log *zap.Logger) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	entries, err := strategy.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("strategies file %s: %w", path, err)
	}
	var active []string
	for _, e := range entries {
		def, err := e.Definition()
		if err != nil {
			return nil, err
		}
		if err := sched.Seed(ctx, def); err != nil {
			return nil, fmt.Errorf("seed %s: %w", def.ID, err)
		}
		if e.Active {
			active = append(active, def.ID)
		}
	}
	log.Info("strategies seeded", zap.String("file", path), zap.Int("count", len(entries)))
	return active, nil
}

func sampleGauges(ctx context.Context, m *monitor.Metrics, balances *balance.Manager, gate *risk.Gatekeeper, positions *ledger.Ledger, daily *risk.DailyGuard) {
	m.SetOpenPositions(positions.Len())
	m.SetHalted(daily.Halted())
	equity, err := balances.Equity(ctx)
	if err != nil {
		return
	}
	m.SetEquity(equity)
	m.SetHeat(gate.Heat(equity).Heat)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
