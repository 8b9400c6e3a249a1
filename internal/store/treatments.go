package store

import (
	"context"

	"github.com/cropdoc/api/internal/models"
	"github.com/jackc/pgx/v5"
)

const treatmentColumns = `id, disease_id, crop_id, drug_name, administration_instructions`

func scanTreatment(row pgx.Row) (*models.DiseaseTreatment, error) {
	var t models.DiseaseTreatment
	if err := row.Scan(&t.ID, &t.DiseaseID, &t.CropID, &t.DrugName, &t.AdministrationInstructions); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) queryTreatments(ctx context.Context, op, query string, args ...any) ([]models.DiseaseTreatment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	treatments := []models.DiseaseTreatment{}
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, translate("scan treatment", err)
		}
		treatments = append(treatments, *t)
	}
	return treatments, translate(op, rows.Err())
}

// ListTreatments returns every treatment.
func (s *Store) ListTreatments(ctx context.Context) ([]models.DiseaseTreatment, error) {
	return s.queryTreatments(ctx, "list treatments",
		`SELECT `+treatmentColumns+` FROM disease_treatments ORDER BY disease_id, id`)
}

// TreatmentsByDisease returns the treatments recorded for one disease.
func (s *Store) TreatmentsByDisease(ctx context.Context, diseaseID int) ([]models.DiseaseTreatment, error) {
	return s.queryTreatments(ctx, "list disease treatments",
		`SELECT `+treatmentColumns+` FROM disease_treatments WHERE disease_id = $1 ORDER BY id`, diseaseID)
}

// GetTreatment fetches one treatment.
func (s *Store) GetTreatment(ctx context.Context, id int) (*models.DiseaseTreatment, error) {
	t, err := scanTreatment(s.pool.QueryRow(ctx,
		`SELECT `+treatmentColumns+` FROM disease_treatments WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get treatment", err)
	}
	return t, nil
}

// CreateTreatment inserts a treatment.
func (s *Store) CreateTreatment(ctx context.Context, in models.DiseaseTreatmentInput) (*models.DiseaseTreatment, error) {
	t, err := scanTreatment(s.pool.QueryRow(ctx, `
		INSERT INTO disease_treatments (disease_id, crop_id, drug_name, administration_instructions)
		VALUES ($1, $2, $3, $4)
		RETURNING `+treatmentColumns,
		in.DiseaseID, in.CropID, in.DrugName, in.AdministrationInstructions))
	if err != nil {
		return nil, translate("create treatment", err)
	}
	return t, nil
}

// UpdateTreatment replaces a treatment's fields.
func (s *Store) UpdateTreatment(ctx context.Context, id int, in models.DiseaseTreatmentInput) (*models.DiseaseTreatment, error) {
	t, err := scanTreatment(s.pool.QueryRow(ctx, `
		UPDATE disease_treatments
		SET disease_id = $2, crop_id = $3, drug_name = $4, administration_instructions = $5
		WHERE id = $1
		RETURNING `+treatmentColumns,
		id, in.DiseaseID, in.CropID, in.DrugName, in.AdministrationInstructions))
	if err != nil {
		return nil, translate("update treatment", err)
	}
	return t, nil
}

// DeleteTreatment removes a treatment.
func (s *Store) DeleteTreatment(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM disease_treatments WHERE id = $1`, id)
	return affected("delete treatment", tag, err)
}
