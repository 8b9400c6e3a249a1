package store

import (
	"context"

	"github.com/cropdoc/api/internal/models"
	"github.com/google/uuid"
)

// CreateDiagnosis stores a prediction outcome. ID and CreatedAt are filled
// in when zero.
func (s *Store) CreateDiagnosis(ctx context.Context, d *models.Diagnosis) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO diagnoses (id, user_id, image_path, predicted_class, confidence_percent, explanation_path, degenerate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.UserID, d.ImagePath, d.PredictedClass, d.ConfidencePercent, d.ExplanationPath, d.Degenerate,
	).Scan(&d.CreatedAt)
	return translate("create diagnosis", err)
}

// GetDiagnosis fetches one diagnosis without its treatments.
func (s *Store) GetDiagnosis(ctx context.Context, id uuid.UUID) (*models.Diagnosis, error) {
	var d models.Diagnosis
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, image_path, predicted_class, confidence_percent, explanation_path, degenerate, created_at
		FROM diagnoses WHERE id = $1`, id,
	).Scan(&d.ID, &d.UserID, &d.ImagePath, &d.PredictedClass, &d.ConfidencePercent, &d.ExplanationPath, &d.Degenerate, &d.CreatedAt)
	if err != nil {
		return nil, translate("get diagnosis", err)
	}
	return &d, nil
}
