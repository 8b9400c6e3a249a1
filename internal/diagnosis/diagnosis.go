// Package diagnosis turns an uploaded leaf photo into a stored diagnosis
// with treatment advice. The HTTP API and the Telegram bot share it.
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cropdoc/api/internal/catalog"
	"github.com/cropdoc/api/internal/eventbus"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline runs inference on a stored image.
type Pipeline interface {
	Predict(ctx context.Context, imagePath, outputDir string) (*inference.Result, error)
}

// Store persists diagnoses.
type Store interface {
	CreateDiagnosis(ctx context.Context, d *models.Diagnosis) error
	GetDiagnosis(ctx context.Context, id uuid.UUID) (*models.Diagnosis, error)
}

// Treatments resolves treatments by disease name.
type Treatments interface {
	TreatmentsForDisease(ctx context.Context, id *int, name string) ([]models.DiseaseTreatment, error)
}

// Dirs are the media locations the service reads and writes.
type Dirs struct {
	MediaRoot    string
	Uploads      string
	Explanations string
}

// Request is one photo to diagnose.
type Request struct {
	Filename string
	Body     io.Reader
	UserID   *uuid.UUID
}

// Outcome is a finished diagnosis. Persisted is false when the database
// write failed; the prediction itself is still valid.
type Outcome struct {
	Diagnosis      models.Diagnosis
	Result         *inference.Result
	ExplanationURL string
	Persisted      bool
}

// Service coordinates upload storage, inference, treatment lookup,
// persistence and event publishing.
type Service struct {
	pipeline   Pipeline
	store      Store
	treatments Treatments
	events     eventbus.Publisher
	dirs       Dirs
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a diagnosis service.
func NewService(p Pipeline, s Store, t Treatments, events eventbus.Publisher, dirs Dirs, logger *zap.Logger) *Service {
	if events == nil {
		events = eventbus.Nop{}
	}
	return &Service{
		pipeline:   p,
		store:      s,
		treatments: t,
		events:     events,
		dirs:       dirs,
		logger:     logger,
		now:        time.Now,
	}
}

// Diagnose stores the upload, runs the pipeline and records the outcome.
// Pipeline errors are returned unchanged so callers can match
// *inference.ImageDecodeError and friends. The upload is removed whenever the
// pipeline fails.
func (s *Service) Diagnose(ctx context.Context, req Request) (*Outcome, error) {
	path, err := s.saveUpload(req)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Predict(ctx, path, s.dirs.Explanations)
	if err != nil {
		// no diagnosis row will reference the upload
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove upload", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}

	out := &Outcome{
		Result:         res,
		ExplanationURL: s.MediaURL(res.ExplanationImagePath),
		Diagnosis: models.Diagnosis{
			ID:                uuid.New(),
			UserID:            req.UserID,
			ImagePath:         path,
			PredictedClass:    res.PredictedClass,
			ConfidencePercent: res.ConfidencePercent,
			ExplanationPath:   res.ExplanationImagePath,
			Degenerate:        res.Degenerate,
			CreatedAt:         s.now().UTC(),
		},
	}
	out.Diagnosis.Treatments = s.lookupTreatments(ctx, res.PredictedClass)

	if err := s.store.CreateDiagnosis(ctx, &out.Diagnosis); err != nil {
		s.logger.Error("failed to store diagnosis", zap.String("diagnosis_id", out.Diagnosis.ID.String()), zap.Error(err))
		return out, nil
	}
	out.Persisted = true

	ev := models.DiagnosisEvent{
		DiagnosisID:       out.Diagnosis.ID,
		UserID:            req.UserID,
		PredictedClass:    res.PredictedClass,
		ConfidencePercent: res.ConfidencePercent,
		Degenerate:        res.Degenerate,
		OccurredAt:        out.Diagnosis.CreatedAt,
	}
	if err := s.events.PublishDiagnosis(ctx, ev); err != nil {
		s.logger.Warn("failed to publish diagnosis event", zap.String("diagnosis_id", ev.DiagnosisID.String()), zap.Error(err))
	}
	return out, nil
}

// Get loads a stored diagnosis and attaches current treatments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Diagnosis, string, error) {
	d, err := s.store.GetDiagnosis(ctx, id)
	if err != nil {
		return nil, "", err
	}
	d.Treatments = s.lookupTreatments(ctx, d.PredictedClass)
	return d, s.MediaURL(d.ExplanationPath), nil
}

// MediaURL maps a file under the media root to its /media/ URL path, or
// returns "" for files outside it.
func (s *Service) MediaURL(path string) string {
	if path == "" || s.dirs.MediaRoot == "" {
		return ""
	}
	rel, err := filepath.Rel(s.dirs.MediaRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/media/" + filepath.ToSlash(rel)
}

func (s *Service) lookupTreatments(ctx context.Context, class string) []models.DiseaseTreatment {
	if s.treatments == nil {
		return []models.DiseaseTreatment{}
	}
	ts, err := s.treatments.TreatmentsForDisease(ctx, nil, class)
	switch {
	case errors.Is(err, catalog.ErrDiseaseNotFound):
		s.logger.Debug("no catalog entry for class", zap.String("class", class))
	case err != nil:
		s.logger.Warn("treatment lookup failed", zap.String("class", class), zap.Error(err))
	}
	if ts == nil {
		ts = []models.DiseaseTreatment{}
	}
	return ts
}

// saveUpload writes the body to <uploads>/<unix-nano>_<sanitized name>.
func (s *Service) saveUpload(req Request) (string, error) {
	if err := os.MkdirAll(s.dirs.Uploads, 0o755); err != nil {
		return "", fmt.Errorf("create uploads directory: %w", err)
	}
	name := strconv.FormatInt(s.now().UnixNano(), 10) + "_" + SanitizeFilename(req.Filename)
	path := filepath.Join(s.dirs.Uploads, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload %s: %w", name, err)
	}
	if _, err := io.Copy(f, req.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload %s: %w", name, err)
	}
	return path, nil
}

// SanitizeFilename keeps the base name of a client-supplied filename and
// replaces anything outside [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
