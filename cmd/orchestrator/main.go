package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/database"
	"autotrader/internal/logger"
	"autotrader/internal/market"
	"autotrader/internal/marketdata"
	"autotrader/internal/notify"
	"autotrader/internal/pipeline"
	"autotrader/internal/prediction"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := database.NewStore(db)
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Register configured brokers and connect each one
	brokers := broker.NewManager(log)
	for _, bc := range cfg.Brokers {
		adapter := broker.NewRestAdapter(bc, log)
		if err := adapter.Connect(ctx); err != nil {
			log.Warn("Broker connection failed, registering anyway",
				zap.String("broker", bc.Name), zap.Error(err))
		}
		brokers.Add(adapter, bc.Default)
	}

	// Market calendar
	calendar, err := market.NewCalendar(cfg.Markets)
	if err != nil {
		log.Fatal("Invalid market calendar configuration", zap.Error(err))
	}

	// External collaborators
	quotes := marketdata.NewClient(cfg.MarketData, log)
	predictor := prediction.NewClient(cfg.Prediction, log)

	var assessor risk.Assessor
	if cfg.Risk.BaseURL != "" {
		assessor = risk.NewRemoteAssessor(cfg.Risk, log)
	} else {
		log.Warn("No risk manager configured, using built-in assessor")
		assessor = risk.HeuristicAssessor{}
	}

	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify, log)
	} else {
		notifier = notify.NopNotifier{}
	}

	// Decision pipeline and orchestrator
	signals := pipeline.NewPipeline(quotes, predictor, cfg.Modes, log)
	orchestrator := scheduler.NewOrchestrator(
		log, cfg.Scheduler, cfg.Plans, cfg.Risk.MaxScore,
		store, brokers, signals, assessor, notifier, calendar,
	)

	// Operational status server
	api := scheduler.NewAPIServer(orchestrator, brokers, cfg.Server.Port, log)
	api.Start()
	defer api.Stop(context.Background())

	orchestrator.Run(ctx)

	log.Info("Orchestrator has been shut down.")
}
