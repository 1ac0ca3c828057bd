package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"polyCopyBot/config"
	"polyCopyBot/internal/adapters/chainrpc"
	"polyCopyBot/internal/adapters/clob"
	"polyCopyBot/internal/adapters/dataapi"
	applogger "polyCopyBot/internal/adapters/logger"
	"polyCopyBot/internal/adapters/sqlite"
	"polyCopyBot/internal/dedup"
	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/engine"
	"polyCopyBot/internal/health"
	"polyCopyBot/internal/monitor"
	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/positions"
	"polyCopyBot/internal/ratelimit"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := applogger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository (durable dedup store; optional)
	var repo ports.ProcessedRepository
	if cfg.DBPath != "" {
		sqliteRepo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize dedup store")
			log.Fatalf("FATAL: Failed to initialize dedup store: %v", err)
		}
		defer func() {
			if err := sqliteRepo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing dedup store")
			}
		}()
		repo = sqliteRepo
	} else {
		appLogger.Warn(ctx, "DB_PATH empty, dedup is in-memory only and resets on restart")
	}

	// 4. Rate limiters, one per endpoint class
	feedLimiter, err := ratelimit.New(200*time.Millisecond, 4)
	if err != nil {
		log.Fatalf("FATAL: Failed to build feed rate limiter: %v", err)
	}
	venueLimiter, err := ratelimit.New(100*time.Millisecond, 4)
	if err != nil {
		log.Fatalf("FATAL: Failed to build venue rate limiter: %v", err)
	}
	chainLimiter, err := ratelimit.New(50*time.Millisecond, 8)
	if err != nil {
		log.Fatalf("FATAL: Failed to build chain rate limiter: %v", err)
	}

	// 5. Initialize Adapters
	chainClient, err := chainrpc.New(chainrpc.Config{
		HTTPURL:              cfg.RPCHTTPURL,
		WSURL:                cfg.RPCWSURL,
		Limiter:              chainLimiter,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize chain client")
		log.Fatalf("FATAL: Failed to initialize chain client: %v", err)
	}

	feedClient, err := dataapi.New(dataapi.Config{
		BaseURL: cfg.DataAPIURL,
		Limiter: feedLimiter,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize activity feed client")
		log.Fatalf("FATAL: Failed to initialize activity feed client: %v", err)
	}

	venueClient, err := clob.New(clob.Config{
		BaseURL: cfg.CLOBAPIURL,
		APIKey:  cfg.CLOBAPIKey,
		Limiter: venueLimiter,
		Logger:  appLogger,
		NonceFetch: func(ctx context.Context) (uint64, error) {
			return chainClient.PendingNonce(ctx, cfg.WalletAddress)
		},
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize venue client")
		log.Fatalf("FATAL: Failed to initialize venue client: %v", err)
	}
	appLogger.Info(ctx, "Adapters initialized")

	// 6. Core components
	ledger, err := dedup.NewLedger(dedup.Config{
		Store:  repo,
		Logger: appLogger,
		TTL:    cfg.DedupTTL,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize dedup ledger")
		log.Fatalf("FATAL: Failed to initialize dedup ledger: %v", err)
	}

	tracker, err := positions.NewTracker(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position tracker")
		log.Fatalf("FATAL: Failed to initialize position tracker: %v", err)
	}

	tradingWallet := cfg.ProxyWallet
	if tradingWallet == "" {
		tradingWallet = cfg.WalletAddress
	}
	eng, err := engine.New(engine.Config{
		Mode:               cfg.Mode,
		Multiplier:         cfg.TradeMultiplier,
		FrontrunRatio:      cfg.FrontrunRatio,
		GasPriceMultiplier: cfg.GasPriceMultiplier,
		RetryLimit:         cfg.RetryLimit,
		SlippageTolerance:  cfg.SlippageTolerance,
		TotalExposureCap:   cfg.TotalExposureCap,
		MarketExposureCap:  cfg.MarketExposureCap,
		MinGasReserve:      cfg.MinGasReserve,
		WalletAddress:      tradingWallet,
		QuoteToken:         cfg.USDCContract,
	}, appLogger, venueClient, chainClient, tracker)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	// 7. Health endpoint
	healthServer, err := health.NewServer(cfg.HealthPort, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize health server")
		log.Fatalf("FATAL: Failed to initialize health server: %v", err)
	}
	healthServer.Start(ctx)

	// 8. Wallet balances: logged once at startup, refreshed into the
	// metrics endpoint after every executed trade.
	refreshBalances := func(ctx context.Context) (float64, float64, error) {
		quote, err := chainClient.TokenBalance(ctx, cfg.USDCContract, tradingWallet)
		if err != nil {
			return 0, 0, err
		}
		native, err := chainClient.NativeBalance(ctx, cfg.WalletAddress)
		if err != nil {
			return 0, 0, err
		}
		healthServer.SetBalances(quote, native)
		return quote, native, nil
	}
	if quote, native, err := refreshBalances(ctx); err != nil {
		appLogger.Warn(ctx, "Startup balance check failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		appLogger.Info(ctx, "Wallet balances", map[string]interface{}{
			"quoteUSD": quote,
			"native":   native,
		})
	}

	// 9. Signal source: every signal goes straight into the engine.
	onSignal := func(ctx context.Context, signal *domain.TradeSignal) {
		res, err := eng.Execute(ctx, signal)
		if err != nil {
			healthServer.RecordTrade(false)
			healthServer.RecordError(err)
			appLogger.Error(ctx, err, "Signal execution failed", map[string]interface{}{
				"marketID": signal.MarketID,
				"txHash":   signal.TxHash,
			})
			return
		}
		if res.Skipped {
			appLogger.Info(ctx, "Signal skipped", map[string]interface{}{
				"marketID": signal.MarketID,
				"reason":   res.SkipReason,
			})
			return
		}
		healthServer.RecordTrade(true)
		if _, _, err := refreshBalances(ctx); err != nil {
			appLogger.Warn(ctx, "Balance refresh after trade failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	source, err := monitor.New(monitor.Config{
		Traders:         cfg.TargetTraders,
		MarketContracts: cfg.MarketContracts,
		PollInterval:    cfg.PollInterval,
		CutoffWindow:    cfg.CutoffWindow,
		MinTradeSizeUSD: cfg.MinTradeSizeUSD,
		Mode:            cfg.Mode,
	}, appLogger, feedClient, chainClient, ledger, onSignal)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}

	if err := source.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start signal source")
		log.Fatalf("FATAL: Failed to start signal source: %v", err)
	}
	appLogger.Info(ctx, "Bot running", map[string]interface{}{
		"mode":    string(cfg.Mode),
		"traders": len(cfg.TargetTraders),
	})

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received, stopping")

	source.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		appLogger.Error(context.Background(), err, "Health server shutdown failed")
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
