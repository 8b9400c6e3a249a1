// Package catalog answers "what should I spray" for a diagnosed disease.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cropdoc/api/internal/models"
	"github.com/cropdoc/api/internal/store"
	"go.uber.org/zap"
)

const keyPrefix = "cropdoc:treatments:"

var (
	// ErrDiseaseNotFound is returned when a name lookup matches no disease.
	ErrDiseaseNotFound = errors.New("disease not found")
	// ErrMissingQuery is returned when neither an id nor a name is given.
	ErrMissingQuery = errors.New("provide disease id or name")
)

// Repository is the subset of the store the catalog reads from.
type Repository interface {
	FindDiseaseByName(ctx context.Context, name string) (*models.CropDisease, error)
	TreatmentsByDisease(ctx context.Context, diseaseID int) ([]models.DiseaseTreatment, error)
}

// Service looks up treatments, caching the answers.
type Service struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates a catalog service. cache may be nil to disable caching.
func NewService(repo Repository, cache Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// TreatmentsForDisease returns the treatments for a disease id, or failing
// that for a case-insensitive disease name. An id with no treatments yields
// an empty list; an unknown name yields ErrDiseaseNotFound.
func (s *Service) TreatmentsForDisease(ctx context.Context, id *int, name string) ([]models.DiseaseTreatment, error) {
	name = strings.TrimSpace(name)
	switch {
	case id != nil:
		key := keyPrefix + "id:" + strconv.Itoa(*id)
		return s.cached(ctx, key, func() ([]models.DiseaseTreatment, error) {
			return s.repo.TreatmentsByDisease(ctx, *id)
		})
	case name != "":
		key := keyPrefix + "name:" + strings.ToLower(name)
		return s.cached(ctx, key, func() ([]models.DiseaseTreatment, error) {
			d, err := s.repo.FindDiseaseByName(ctx, name)
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrDiseaseNotFound
			}
			if err != nil {
				return nil, err
			}
			return s.repo.TreatmentsByDisease(ctx, d.ID)
		})
	default:
		return nil, ErrMissingQuery
	}
}

// Invalidate drops every cached answer. Call it after catalog writes.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, keyPrefix); err != nil {
		s.logger.Warn("treatment cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) cached(ctx context.Context, key string, load func() ([]models.DiseaseTreatment, error)) ([]models.DiseaseTreatment, error) {
	if s.cache != nil {
		b, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var out []models.DiseaseTreatment
			if err := json.Unmarshal(b, &out); err == nil {
				return out, nil
			}
			s.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
		case !errors.Is(err, ErrCacheMiss):
			s.logger.Warn("treatment cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	out, err := load()
	if err != nil {
		if errors.Is(err, ErrDiseaseNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load treatments: %w", err)
	}

	if s.cache != nil {
		if b, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				s.logger.Warn("treatment cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return out, nil
}
