package store

import (
	"context"

	"github.com/cropdoc/api/internal/models"
	"github.com/jackc/pgx/v5"
)

const diseaseColumns = `d.id, d.crop_id, c.name, d.name, d.symptoms, d.prevention`

func scanDisease(row pgx.Row) (*models.CropDisease, error) {
	var d models.CropDisease
	if err := row.Scan(&d.ID, &d.CropID, &d.CropName, &d.Name, &d.Symptoms, &d.Prevention); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDiseases returns every disease with its crop name in one query.
func (s *Store) ListDiseases(ctx context.Context) ([]models.CropDisease, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+diseaseColumns+`
		FROM crop_diseases d
		JOIN crops c ON c.id = d.crop_id
		ORDER BY c.name, d.name`)
	if err != nil {
		return nil, translate("list diseases", err)
	}
	defer rows.Close()

	diseases := []models.CropDisease{}
	for rows.Next() {
		d, err := scanDisease(rows)
		if err != nil {
			return nil, translate("scan disease", err)
		}
		diseases = append(diseases, *d)
	}
	return diseases, translate("list diseases", rows.Err())
}

// GetDisease fetches one disease by id.
func (s *Store) GetDisease(ctx context.Context, id int) (*models.CropDisease, error) {
	d, err := scanDisease(s.pool.QueryRow(ctx, `
		SELECT `+diseaseColumns+`
		FROM crop_diseases d
		JOIN crops c ON c.id = d.crop_id
		WHERE d.id = $1`, id))
	if err != nil {
		return nil, translate("get disease", err)
	}
	return d, nil
}

// FindDiseaseByName matches a disease name case-insensitively. When several
// crops share a disease name the lowest id wins.
func (s *Store) FindDiseaseByName(ctx context.Context, name string) (*models.CropDisease, error) {
	d, err := scanDisease(s.pool.QueryRow(ctx, `
		SELECT `+diseaseColumns+`
		FROM crop_diseases d
		JOIN crops c ON c.id = d.crop_id
		WHERE LOWER(d.name) = LOWER($1)
		ORDER BY d.id
		LIMIT 1`, name))
	if err != nil {
		return nil, translate("find disease", err)
	}
	return d, nil
}

// CreateDisease inserts a disease.
func (s *Store) CreateDisease(ctx context.Context, in models.CropDiseaseInput) (*models.CropDisease, error) {
	d := models.CropDisease{CropID: in.CropID, Name: in.Name, Symptoms: in.Symptoms, Prevention: in.Prevention}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crop_diseases (crop_id, name, symptoms, prevention)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		in.CropID, in.Name, in.Symptoms, in.Prevention,
	).Scan(&d.ID)
	if err != nil {
		return nil, translate("create disease", err)
	}
	return &d, nil
}

// UpdateDisease replaces a disease's fields.
func (s *Store) UpdateDisease(ctx context.Context, id int, in models.CropDiseaseInput) (*models.CropDisease, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crop_diseases SET crop_id = $2, name = $3, symptoms = $4, prevention = $5
		WHERE id = $1`,
		id, in.CropID, in.Name, in.Symptoms, in.Prevention)
	if err := affected("update disease", tag, err); err != nil {
		return nil, err
	}
	return &models.CropDisease{ID: id, CropID: in.CropID, Name: in.Name, Symptoms: in.Symptoms, Prevention: in.Prevention}, nil
}

// DeleteDisease removes a disease and its treatments.
func (s *Store) DeleteDisease(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crop_diseases WHERE id = $1`, id)
	return affected("delete disease", tag, err)
}
