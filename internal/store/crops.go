package store

import (
	"context"

	"github.com/cropdoc/api/internal/models"
)

// ListCrops returns every crop ordered by name.
func (s *Store) ListCrops(ctx context.Context) ([]models.Crop, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM crops ORDER BY name`)
	if err != nil {
		return nil, translate("list crops", err)
	}
	defer rows.Close()

	crops := []models.Crop{}
	for rows.Next() {
		var c models.Crop
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, translate("scan crop", err)
		}
		crops = append(crops, c)
	}
	return crops, translate("list crops", rows.Err())
}

// GetCrop fetches one crop.
func (s *Store) GetCrop(ctx context.Context, id int) (*models.Crop, error) {
	var c models.Crop
	err := s.pool.QueryRow(ctx, `SELECT id, name, description FROM crops WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if err != nil {
		return nil, translate("get crop", err)
	}
	return &c, nil
}

// CreateCrop inserts a crop.
func (s *Store) CreateCrop(ctx context.Context, in models.CropInput) (*models.Crop, error) {
	c := models.Crop{Name: in.Name, Description: in.Description}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO crops (name, description) VALUES ($1, $2) RETURNING id`,
		in.Name, in.Description,
	).Scan(&c.ID)
	if err != nil {
		return nil, translate("create crop", err)
	}
	return &c, nil
}

// UpdateCrop replaces a crop's fields.
func (s *Store) UpdateCrop(ctx context.Context, id int, in models.CropInput) (*models.Crop, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crops SET name = $2, description = $3 WHERE id = $1`, id, in.Name, in.Description)
	if err := affected("update crop", tag, err); err != nil {
		return nil, err
	}
	return &models.Crop{ID: id, Name: in.Name, Description: in.Description}, nil
}

// DeleteCrop removes a crop together with its diseases and treatments.
func (s *Store) DeleteCrop(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crops WHERE id = $1`, id)
	return affected("delete crop", tag, err)
}
