package main

import (
	"fmt"
	"net/http"
	"os"

	"autotrader/internal/config"
	"autotrader/internal/database"
	"autotrader/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := database.NewStore(db)

	// Setup HTTP server
	mux := http.NewServeMux()
	apiHandler := NewAPIHandler(log, store)

	// API endpoints
	mux.HandleFunc("/api/records", apiHandler.RecordsHandler)
	mux.HandleFunc("/api/tenants", apiHandler.TenantsHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting records UI server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Records UI server failed", zap.Error(err))
	}
}
