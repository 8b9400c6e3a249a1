package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/bootstrap"
	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/database"
)

// migrate applies (or rolls back) the embedded schema and checks that the
// database answers queries afterwards.
func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	logger, err := bootstrap.Logger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	var state database.MigrationState
	if *down > 0 {
		state, err = database.RollbackMigrations(cfg.DatabaseURL, *down, logger)
	} else {
		state, err = database.RunMigrations(cfg.DatabaseURL, logger)
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	if state.Dirty {
		logger.Fatal("schema is dirty, fix it manually", zap.Uint("version", state.Version))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var tables int
	err = db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name IN ('users', 'crops', 'crop_diseases', 'disease_treatments', 'diagnoses')`,
	).Scan(&tables)
	if err != nil {
		logger.Fatal("failed to inspect schema", zap.Error(err))
	}
	logger.Info("schema ready", zap.Uint("version", state.Version), zap.Int("tables", tables))
}
