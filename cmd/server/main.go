package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"funding-arb/internal/api"
	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/execution"
	"funding-arb/internal/marketdata"
	"funding-arb/internal/monitoring"
	"funding-arb/internal/orchestrator"
	"funding-arb/internal/repository"
	"funding-arb/internal/risk"
	"funding-arb/internal/signal"
	"funding-arb/internal/universe"
	"funding-arb/internal/websocket"
	"funding-arb/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	db, err := initDatabase(cfg)
	if err != nil {
		utils.Errorf("connecting to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
	err = repository.EnsureSchema(schemaCtx, db)
	cancelSchema()
	if err != nil {
		utils.Errorf("ensuring schema: %v", err)
		os.Exit(1)
	}
	utils.Infof("server: connected to %s, schema ready", cfg.Database.DSNWithoutPassword())

	router, err := buildRouter(cfg)
	if err != nil {
		utils.Errorf("building venue router: %v", err)
		os.Exit(1)
	}
	defer router.Close()

	market := buildMarketData(cfg, router)
	uni := universe.NewProvider(universe.Config{
		UniverseSize:             cfg.Strategy.UniverseSize,
		StaticSymbols:            cfg.Strategy.StaticSymbols,
		FRDiffMin:                cfg.Strategy.FRDiffMin,
		WeightSpread:             cfg.Strategy.UniverseWeightSpread,
		WeightCoverage:           cfg.Strategy.UniverseWeightCoverage,
		WeightRate:               cfg.Strategy.UniverseWeightRate,
		AllowSingleExchangePairs: cfg.Strategy.AllowSingleExchangePairs,
	})
	signals := signal.NewService(signal.Config{
		FRDiffMin:               cfg.Strategy.FRDiffMin,
		MinPersistenceWindows:   cfg.Strategy.MinPersistenceWindows,
		MinPairScore:            cfg.Strategy.MinPairScore,
		ExpectedEdgeMinBps:      cfg.Strategy.ExpectedEdgeMinBps,
		FeeBpsPerLeg:            cfg.Strategy.FeeBpsPerLeg,
		MaxNewPositionsPerCycle: cfg.Strategy.MaxNewPositionsPerCycle,
		MaxNotionalPerPairUSD:   cfg.Strategy.MaxNotionalPerPairUSD,
		CapitalFraction:         cfg.Strategy.CapitalFraction,
		MinOrderUSD:             cfg.Strategy.MinOrderUSD,
		NormalLeverageCap:       cfg.Strategy.NormalLeverageCap,
		ReduceLeverageCap:       cfg.Strategy.ReduceLeverageCap,
		MaxLeverage:             cfg.Strategy.MaxLeverage,
	})
	riskSvc := risk.NewService(risk.Config{
		MaxTotalNotionalUSD:     cfg.Strategy.MaxTotalNotionalUSD,
		MaxNotionalPerSymbolUSD: cfg.Strategy.MaxNotionalPerSymbolUSD,
		MaxNotionalPerVenueUSD:  cfg.Strategy.MaxNotionalPerVenueUSD,
		NormalLeverageCap:       cfg.Strategy.NormalLeverageCap,
		ReduceLeverageCap:       cfg.Strategy.ReduceLeverageCap,
		RebalanceThresholdPct:   cfg.Strategy.RebalanceThresholdPct,
		MarginBuffer:            1.1,
	}, router)
	repo := repository.NewStateRepository(db)
	execSvc := execution.NewService(execution.Config{
		LegFillTimeout: cfg.Strategy.LegFillTimeout,
		PartialFillTol: cfg.Strategy.PartialFillTolerance,
		MaxRetries:     cfg.Strategy.MaxRetries,
		IntentDeadline: cfg.Strategy.PerIntentDeadline,
	}, router, repo)

	hub := websocket.NewHub()
	go hub.Run()

	notifier := monitoring.NewNotifier(cfg.Monitoring.WebhookURL, hub, utils.L().Sugar())

	orch := orchestrator.New(
		cfg.Strategy, cfg.Monitoring, instanceIdentity(),
		market, uni, signals, riskSvc, execSvc, repo, notifier, hub,
	)

	httpRouter := api.SetupRoutes(&api.Dependencies{
		Orchestrator: orch,
		Hub:          hub,
		APIKeyHash:   cfg.Security.APIKeyHash,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, stopCycle := context.WithCancel(context.Background())
	cycleErrCh := make(chan error, 1)
	go func() { cycleErrCh <- orch.Run(runCtx) }()

	go func() {
		utils.Infof("server: listening on %s", server.Addr)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			utils.Errorf("server: http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	os.Exit(waitAndShutdown(quit, stopCycle, cycleErrCh, server))
}

// waitAndShutdown blocks for a termination signal or an orchestrator
// error, then shuts everything down in order: cycle loop, then HTTP
// server. Exit codes follow the documented convention: 0 clean, 3 the
// instance lock is held by another process, 2 any other orchestrator
// exit or a forced shutdown.
func waitAndShutdown(quit chan os.Signal, stopCycle context.CancelFunc, cycleErrCh chan error, server *http.Server) int {
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
		utils.Infof("server: shutdown signal received")
	case err := <-cycleErrCh:
		if err != nil {
			utils.Errorf("server: orchestrator exited: %v", err)
			exitCode = 2
			if errors.Is(err, repository.ErrLockHeld) {
				exitCode = 3
			}
		}
	}

	stopCycle()
	if exitCode == 0 {
		<-cycleErrCh
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		utils.Errorf("server: forced shutdown: %v", err)
		if exitCode == 0 {
			exitCode = 2
		}
	}

	utils.Infof("server: exited")
	return exitCode
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func buildRouter(cfg *config.Config) (*exchange.Router, error) {
	creds := make(map[string]exchange.Credential, len(cfg.Venues))
	for name, c := range cfg.Venues {
		creds[name] = exchange.Credential{
			Enabled:    c.Enabled,
			APIKey:     c.APIKey,
			Secret:     c.Secret,
			Passphrase: c.Passphrase,
			Testnet:    c.Testnet,
		}
	}
	return exchange.BuildRouter(creds)
}

func buildMarketData(cfg *config.Config, router *exchange.Router) marketdata.Service {
	if cfg.Strategy.AggregatorURL == "" {
		return marketdata.NewVenueOnlyService(router)
	}
	aggCfg := marketdata.DefaultAggregatorClientConfig(cfg.Strategy.AggregatorURL)
	aggCfg.CacheTTL = cfg.Strategy.AggregatorCacheTTL
	aggCfg.DefaultOI = cfg.Strategy.MinOpenInterestUSD
	agg := marketdata.NewAggregatorClient(aggCfg)
	return marketdata.NewHybridService(agg, router)
}

func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
