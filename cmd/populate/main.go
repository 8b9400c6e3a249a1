package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/bootstrap"
	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/database"
	"github.com/cropdoc/api/internal/seed"
	"github.com/cropdoc/api/internal/store"
)

// populate replaces the disease catalog with the contents of a reference CSV.
func main() {
	csvPath := flag.String("csv", "data.csv", "reference sheet with Disease,Symptoms,Prevention,Treatment columns")
	flag.Parse()

	logger, err := bootstrap.Logger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f, err := os.Open(*csvPath)
	if err != nil {
		logger.Fatal("failed to open reference sheet", zap.String("path", *csvPath), zap.Error(err))
	}
	sheet, err := seed.ParseCSV(f)
	f.Close()
	if err != nil {
		logger.Fatal("failed to parse reference sheet", zap.String("path", *csvPath), zap.Error(err))
	}
	for _, name := range sheet.Skipped {
		logger.Warn("skipping unknown disease", zap.String("disease", name))
	}
	logger.Info("reference sheet loaded", zap.Int("rows", len(sheet.Entries)+len(sheet.Skipped)))

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	report, err := store.New(db.Pool()).ReplaceCatalog(ctx, seed.CropName, sheet.Entries)
	if err != nil {
		logger.Fatal("failed to populate catalog", zap.Error(err))
	}

	logger.Info("catalog populated",
		zap.String("crop", seed.CropName),
		zap.Bool("crop_created", report.CropCreated),
		zap.Int64("treatments_deleted", report.TreatmentsDeleted),
		zap.Int64("diseases_deleted", report.DiseasesDeleted),
		zap.Int("diseases_inserted", report.DiseasesInserted),
		zap.Int("treatments_inserted", report.TreatmentsInserted),
	)
}
