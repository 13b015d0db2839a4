package main

import (
	"log"

	"go.uber.org/zap"

	"search-market-agent/internal/config"
	"search-market-agent/internal/database"
	"search-market-agent/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	// Connect to database
	db, err := database.Connect(cfg, zl)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	if err := database.AutoMigrate(db, zl); err != nil {
		zl.Fatal("failed to apply migrations", zap.Error(err))
	}
}
