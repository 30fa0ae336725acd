package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/config"
	"github.com/berghain-agent/berghain/internal/controller"
	"github.com/berghain-agent/berghain/internal/eventlog"
	"github.com/berghain-agent/berghain/internal/gameserver"
	"github.com/berghain-agent/berghain/internal/history"
	"github.com/berghain-agent/berghain/internal/metrics"
	"github.com/berghain-agent/berghain/internal/natsreport"
	"github.com/berghain-agent/berghain/internal/scenario"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "berghain:", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := false
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancelled = true
		cancel()
	}()

	client := gameserver.NewHTTPClient(cfg.BaseURL, cfg.Timeout)

	logPath := cfg.ResumeFromLog
	if logPath == "" {
		logPath = fmt.Sprintf("berghain-%d.ndjson", time.Now().UnixNano())
	}
	eventLog, err := eventlog.Open(logPath)
	if err != nil {
		logger.Error("failed to open event log", "err", err)
		return 1
	}

	mcs, metricsServer := startMetrics(cfg.MetricsPort, logger)
	if metricsServer != nil {
		defer shutdownHTTP(metricsServer)
	}

	natsClient := connectNATS(cfg.NATSURL, logger)
	if natsClient != nil {
		defer natsClient.Close()
	}

	historyStore := connectHistory(ctx, cfg.HistoryDB, logger)
	if historyStore != nil {
		defer historyStore.Close()
	}

	start := time.Now()
	var (
		ctrl    *controller.Controller
		pending *gameserver.PersonAttributes
	)
	// The closure reads ctrl when it is called, which only happens inside
	// Run, after ctrl has been assigned below; accounting/metrics/NATS
	// never touch each other directly, only this already-computed snapshot.
	onSnapshot := func(snap accounting.Snapshot) {
		if mcs != nil {
			mcs.Update(ctrl.Scenario(), snap)
		}
		if natsClient != nil {
			natsClient.PublishProgress(ctrl.GameID(), snap)
		}
	}
	onResync := func() {
		if mcs != nil {
			mcs.IncResync()
		}
	}
	backoff := controller.DefaultBackoff()
	backoff.MaxRetries = cfg.Retries
	runCfg := controller.Config{
		PlayerID:         cfg.PlayerID,
		ProgressInterval: cfg.ProgressInterval,
		Backoff:          backoff,
		Logger:           logger,
		OnSnapshot:       onSnapshot,
		OnResync:         onResync,
	}

	if cfg.ResumeFromLog != "" {
		ctrl, pending, err = controller.Resume(ctx, client, eventLog, cfg.ResumeFromLog, cfg.GameID, cfg.StartIndex, runCfg)
	} else {
		var override *scenario.Scenario
		if cfg.ScenarioPath != "" {
			sc, loadErr := scenario.LoadFile(cfg.ScenarioPath)
			if loadErr != nil {
				logger.Error("failed to load scenario override", "err", loadErr)
				return 1
			}
			override = &sc
		}
		ctrl, pending, err = controller.New(ctx, client, eventLog, cfg.Policy, cfg.Params, cfg.Capacity, override, runCfg)
	}
	if err != nil {
		logger.Error("failed to start game", "err", err)
		return 1
	}

	outcome := ctrl.Run(ctx, pending)

	if historyStore != nil {
		recordHistory(ctx, historyStore, ctrl.Scenario(), cfg, outcome, time.Since(start), logger)
	}

	switch {
	case cancelled:
		return 2
	case outcome.State == controller.StateCompleted:
		return 0
	default:
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("game failed",
			"gameId", ctrl.GameID(), "admitted", outcome.Admitted, "rejected", outcome.Rejected, "err", outcome.Err)
		return 1
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func startMetrics(port int, logger *slog.Logger) (*metrics.Collectors, *http.Server) {
	if port == 0 {
		return nil, nil
	}
	mcs := metrics.New()
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mcs.NewRouter()}
	go func() {
		logger.Info("metrics server starting", "port", port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return mcs, server
}

func shutdownHTTP(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func connectNATS(url string, logger *slog.Logger) *natsreport.Client {
	if url == "" {
		return nil
	}
	nc, err := natsreport.Connect(url, logger)
	if err != nil {
		logger.Warn("failed to connect to nats, running without progress broadcast", "err", err)
		return nil
	}
	logger.Info("connected to nats", "url", url)
	return nc
}

func connectHistory(ctx context.Context, dsn string, logger *slog.Logger) *history.Store {
	if dsn == "" {
		return nil
	}
	hs, err := history.Open(ctx, dsn)
	if err != nil {
		logger.Warn("failed to connect to history database, running without it", "err", err)
		return nil
	}
	logger.Info("connected to history database")
	return hs
}

func recordHistory(ctx context.Context, store *history.Store, sc scenario.Scenario, cfg *config.Config, outcome controller.Outcome, duration time.Duration, logger *slog.Logger) {
	sum := history.Summary{
		GameID:          sc.GameID,
		Policy:          cfg.Policy,
		Params:          cfg.Params,
		Capacity:        cfg.Capacity,
		Admitted:        outcome.Admitted,
		Rejected:        outcome.Rejected,
		ConstraintsMet:  outcome.State == controller.StateCompleted,
		Duration:        duration,
		CompletionState: string(outcome.State),
		Reason:          outcome.Reason,
	}
	if err := store.RecordGame(ctx, sc, sum); err != nil {
		logger.Warn("failed to record game history", "err", err)
	}
}
