package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"traderHive/config"
	"traderHive/internal/adapters/binanceprice"
	"traderHive/internal/adapters/decision"
	"traderHive/internal/adapters/fees"
	"traderHive/internal/adapters/logger"
	"traderHive/internal/adapters/sqlite"
	"traderHive/internal/ledger"
	"traderHive/internal/monitor"
	"traderHive/internal/ports"
	"traderHive/internal/pricecache"
	"traderHive/internal/queue"
	"traderHive/internal/scheduler"
	"traderHive/internal/triggers"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zapLogger, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize logger: %v", err)
		}
		defer zapLogger.Sync()
		appLogger = zapLogger
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Price Provider (Binance Adapter) and Cache
	priceClient, err := binanceprice.New(binanceprice.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance price client")
		log.Fatalf("FATAL: Failed to initialize Binance price client: %v", err)
	}

	priceCache, err := pricecache.New(pricecache.Config{
		Provider: priceClient,
		Logger:   appLogger,
		TTL:      cfg.PriceCacheTTL,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price cache")
		log.Fatalf("FATAL: Failed to initialize price cache: %v", err)
	}
	appLogger.Info(ctx, "Price cache initialized", map[string]interface{}{"ttl": cfg.PriceCacheTTL.String()})

	// 5. Initialize Ledger
	book, err := ledger.New(ledger.Config{
		Traders:   repo,
		Positions: repo,
		Fees:      fees.NewSchedule(),
		Prices:    priceCache,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	// 6. Initialize Decision Engine
	engine, err := decision.NewTextEngine(decision.NopBackend{}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize decision engine")
		log.Fatalf("FATAL: Failed to initialize decision engine: %v", err)
	}

	// 7. Initialize Runtime Settings, Triggers and Queue
	settings := scheduler.NewSettings()
	settings.SetTickInterval(cfg.TickInterval)
	settings.SetMaxConcurrentTasks(cfg.MaxConcurrentTasks)
	settings.SetTaskTimeout(cfg.TaskTimeout)
	settings.SetDrainTimeout(cfg.DrainTimeout)
	settings.SetTimeTriggerEnabled(cfg.TimeTriggerEnabled)
	settings.SetPriceTriggerEnabled(cfg.PriceTriggerEnabled)
	settings.SetPriceThreshold(cfg.PriceTriggerThreshold)
	settings.SetOptimizeEnabled(cfg.OptimizeEnabled)
	settings.SetOptimizeMinCount(cfg.OptimizeMinPositions)
	settings.SetOptimizeInterval(cfg.OptimizeInterval)

	triggerManager, err := triggers.NewManager(triggers.ManagerConfig{
		Triggers: []triggers.Trigger{
			triggers.NewTimeTrigger(nil),
			triggers.NewDynamicPriceTrigger(settings.PriceThreshold),
		},
		Logger: appLogger,
		Enabled: func(t triggers.Type) bool {
			switch t {
			case triggers.TypeTime:
				return settings.TimeTriggerEnabled()
			case triggers.TypePrice:
				return settings.PriceTriggerEnabled()
			}
			return false
		},
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trigger manager")
		log.Fatalf("FATAL: Failed to initialize trigger manager: %v", err)
	}

	taskQueue := queue.New()

	// 8. Initialize Scheduler
	sched, err := scheduler.New(scheduler.Config{
		Traders:   repo,
		Positions: repo,
		Prices:    priceCache,
		Triggers:  triggerManager,
		Engine:    engine,
		Applier:   scheduler.NewExecutor(book, repo, priceCache, appLogger),
		Queue:     taskQueue,
		Settings:  settings,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize scheduler")
		log.Fatalf("FATAL: Failed to initialize scheduler: %v", err)
	}

	// 9. Initialize Liquidation Monitor
	liqMonitor, err := monitor.New(monitor.Config{
		Positions: repo,
		Ledger:    book,
		Prices:    priceCache,
		Logger:    appLogger,
		Interval:  cfg.LiquidationInterval,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize liquidation monitor")
		log.Fatalf("FATAL: Failed to initialize liquidation monitor: %v", err)
	}

	// 10. Start everything and wait for shutdown
	liqMonitor.Start(ctx)
	if err := sched.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start scheduler")
		log.Fatalf("FATAL: Failed to start scheduler: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	sched.Stop()
	liqMonitor.Stop()
	appLogger.Info(ctx, "Application finished gracefully.")
}
