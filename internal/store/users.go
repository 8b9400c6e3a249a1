package store

import (
	"context"
	"time"

	"github.com/cropdoc/api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, name, country, county, role, consent, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Country, &u.County, &u.Role, &u.Consent, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, translate("list users", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translate("scan user", err)
		}
		users = append(users, *u)
	}
	return users, translate("list users", rows.Err())
}

// GetUser fetches one user.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get user", err)
	}
	return u, nil
}

// CreateUser inserts a user with a fresh id.
func (s *Store) CreateUser(ctx context.Context, in models.UserInput) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, country, county, role, consent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		uuid.New(), in.Name, in.Country, in.County, in.Role, in.Consent, time.Now().UTC(),
	))
	if err != nil {
		return nil, translate("create user", err)
	}
	return u, nil
}

// UpdateUser replaces the writable fields of a user.
func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, in models.UserInput) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users SET name = $2, country = $3, county = $4, role = $5, consent = $6
		WHERE id = $1
		RETURNING `+userColumns,
		id, in.Name, in.Country, in.County, in.Role, in.Consent,
	))
	if err != nil {
		return nil, translate("update user", err)
	}
	return u, nil
}

// DeleteUser removes a user. Their diagnoses are kept with a null owner.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return affected("delete user", tag, err)
}

// UserStats counts users per country and per county. Users without a
// county only appear in the country breakdown.
func (s *Store) UserStats(ctx context.Context) (*models.UserStats, error) {
	stats := &models.UserStats{ByCountry: []models.CountryCount{}, ByCounty: []models.CountyCount{}}

	rows, err := s.pool.Query(ctx, `
		SELECT country, COUNT(*) FROM users GROUP BY country ORDER BY country`)
	if err != nil {
		return nil, translate("count users by country", err)
	}
	for rows.Next() {
		var cc models.CountryCount
		if err := rows.Scan(&cc.Country, &cc.Total); err != nil {
			rows.Close()
			return nil, translate("scan country count", err)
		}
		stats.ByCountry = append(stats.ByCountry, cc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translate("count users by country", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT county, COUNT(*) FROM users WHERE county IS NOT NULL GROUP BY county ORDER BY county`)
	if err != nil {
		return nil, translate("count users by county", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc models.CountyCount
		if err := rows.Scan(&cc.County, &cc.Total); err != nil {
			return nil, translate("scan county count", err)
		}
		stats.ByCounty = append(stats.ByCounty, cc)
	}
	return stats, translate("count users by county", rows.Err())
}
