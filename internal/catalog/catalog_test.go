package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cropdoc/api/internal/models"
	"github.com/cropdoc/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	diseases   map[string]models.CropDisease
	treatments map[int][]models.DiseaseTreatment
	calls      int
}

func (f *fakeRepo) FindDiseaseByName(_ context.Context, name string) (*models.CropDisease, error) {
	f.calls++
	for k, d := range f.diseases {
		if strings.EqualFold(k, name) {
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRepo) TreatmentsByDisease(_ context.Context, id int) ([]models.DiseaseTreatment, error) {
	f.calls++
	out := f.treatments[id]
	if out == nil {
		out = []models.DiseaseTreatment{}
	}
	return out, nil
}

type mapCache struct {
	data   map[string][]byte
	failed bool
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	if m.failed {
		return nil, errors.New("connection refused")
	}
	b, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.failed {
		return errors.New("connection refused")
	}
	m.data[key] = value
	return nil
}

func (m *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func newFixture() *fakeRepo {
	return &fakeRepo{
		diseases: map[string]models.CropDisease{
			"Common Rust": {ID: 4, CropID: 1, Name: "Common Rust"},
		},
		treatments: map[int][]models.DiseaseTreatment{
			4: {{ID: 9, DiseaseID: 4, CropID: 1, DrugName: "Mancozeb", AdministrationInstructions: "25g per 20L"}},
		},
	}
}

func TestTreatmentsByName(t *testing.T) {
	repo := newFixture()
	svc := NewService(repo, nil, time.Minute, zap.NewNop())

	got, err := svc.TreatmentsForDisease(context.Background(), nil, "  common rust ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mancozeb", got[0].DrugName)
}

func TestTreatmentsUnknownName(t *testing.T) {
	svc := NewService(newFixture(), nil, time.Minute, zap.NewNop())
	_, err := svc.TreatmentsForDisease(context.Background(), nil, "Blight of Nowhere")
	assert.ErrorIs(t, err, ErrDiseaseNotFound)
}

func TestTreatmentsMissingQuery(t *testing.T) {
	svc := NewService(newFixture(), nil, time.Minute, zap.NewNop())
	_, err := svc.TreatmentsForDisease(context.Background(), nil, "   ")
	assert.ErrorIs(t, err, ErrMissingQuery)
}

func TestTreatmentsByIDPreferredAndEmpty(t *testing.T) {
	svc := NewService(newFixture(), nil, time.Minute, zap.NewNop())

	id := 4
	got, err := svc.TreatmentsForDisease(context.Background(), &id, "unknown name is ignored")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	missing := 77
	got, err = svc.TreatmentsForDisease(context.Background(), &missing, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCacheServesRepeatLookups(t *testing.T) {
	repo := newFixture()
	cache := &mapCache{data: map[string][]byte{}}
	svc := NewService(repo, cache, time.Minute, zap.NewNop())
	ctx := context.Background()

	first, err := svc.TreatmentsForDisease(ctx, nil, "Common Rust")
	require.NoError(t, err)
	calls := repo.calls

	second, err := svc.TreatmentsForDisease(ctx, nil, "COMMON RUST")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, repo.calls, "second lookup is served from cache")

	svc.Invalidate(ctx)
	assert.Empty(t, cache.data)
	_, err = svc.TreatmentsForDisease(ctx, nil, "Common Rust")
	require.NoError(t, err)
	assert.Greater(t, repo.calls, calls)
}

func TestCacheFailureFallsBackToStore(t *testing.T) {
	svc := NewService(newFixture(), &mapCache{data: map[string][]byte{}, failed: true}, time.Minute, zap.NewNop())
	got, err := svc.TreatmentsForDisease(context.Background(), nil, "Common Rust")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNotFoundIsNotCached(t *testing.T) {
	cache := &mapCache{data: map[string][]byte{}}
	svc := NewService(newFixture(), cache, time.Minute, zap.NewNop())
	_, err := svc.TreatmentsForDisease(context.Background(), nil, "nothing")
	require.ErrorIs(t, err, ErrDiseaseNotFound)
	assert.Empty(t, cache.data)
}
