package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SeedDisease is one disease row to load, with an optional treatment.
type SeedDisease struct {
	Name       string
	Symptoms   string
	Prevention string
	DrugName   string
	Treatment  string
}

// SeedReport counts what ReplaceCatalog removed and inserted.
type SeedReport struct {
	CropID             int
	CropCreated        bool
	TreatmentsDeleted  int64
	DiseasesDeleted    int64
	DiseasesInserted   int
	TreatmentsInserted int
}

// ReplaceCatalog deletes every disease and treatment, makes sure cropName
// exists and inserts entries under it, all in one transaction.
func (s *Store) ReplaceCatalog(ctx context.Context, cropName string, entries []SeedDisease) (*SeedReport, error) {
	var report SeedReport
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM disease_treatments`)
		if err != nil {
			return fmt.Errorf("delete treatments: %w", err)
		}
		report.TreatmentsDeleted = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM crop_diseases`)
		if err != nil {
			return fmt.Errorf("delete diseases: %w", err)
		}
		report.DiseasesDeleted = tag.RowsAffected()

		err = tx.QueryRow(ctx, `SELECT id FROM crops WHERE name = $1`, cropName).Scan(&report.CropID)
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.QueryRow(ctx, `INSERT INTO crops (name) VALUES ($1) RETURNING id`, cropName).Scan(&report.CropID)
			report.CropCreated = true
		}
		if err != nil {
			return fmt.Errorf("ensure crop %q: %w", cropName, err)
		}

		for _, e := range entries {
			var diseaseID int
			err := tx.QueryRow(ctx, `
				INSERT INTO crop_diseases (crop_id, name, symptoms, prevention)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, '')) RETURNING id`,
				report.CropID, e.Name, e.Symptoms, e.Prevention,
			).Scan(&diseaseID)
			if err != nil {
				return fmt.Errorf("insert disease %q: %w", e.Name, err)
			}
			report.DiseasesInserted++

			if e.Treatment == "" {
				continue
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO disease_treatments (disease_id, crop_id, drug_name, administration_instructions)
				VALUES ($1, $2, $3, $4)`,
				diseaseID, report.CropID, e.DrugName, e.Treatment)
			if err != nil {
				return fmt.Errorf("insert treatment for %q: %w", e.Name, err)
			}
			report.TreatmentsInserted++
		}
		return nil
	})
	if err != nil {
		return nil, translate("replace catalog", err)
	}
	return &report, nil
}
