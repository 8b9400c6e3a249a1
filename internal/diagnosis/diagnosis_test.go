package diagnosis

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cropdoc/api/internal/catalog"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPipeline struct {
	err       error
	gotPath   string
	gotOutDir string
}

func (p *stubPipeline) Predict(_ context.Context, imagePath, outputDir string) (*inference.Result, error) {
	p.gotPath, p.gotOutDir = imagePath, outputDir
	if p.err != nil {
		return nil, p.err
	}
	return &inference.Result{
		PredictedClass:       "Common Rust",
		ConfidencePercent:    91.25,
		ExplanationImagePath: filepath.Join(outputDir, "lime_"+filepath.Base(imagePath)),
	}, nil
}

type memStore struct {
	saved []models.Diagnosis
	err   error
}

func (m *memStore) CreateDiagnosis(_ context.Context, d *models.Diagnosis) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, *d)
	return nil
}

func (m *memStore) GetDiagnosis(_ context.Context, id uuid.UUID) (*models.Diagnosis, error) {
	for _, d := range m.saved {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, errors.New("not found")
}

type stubTreatments map[string][]models.DiseaseTreatment

func (s stubTreatments) TreatmentsForDisease(_ context.Context, _ *int, name string) ([]models.DiseaseTreatment, error) {
	ts, ok := s[name]
	if !ok {
		return nil, catalog.ErrDiseaseNotFound
	}
	return ts, nil
}

type recordingPublisher struct {
	events []models.DiagnosisEvent
	err    error
}

func (r *recordingPublisher) PublishDiagnosis(_ context.Context, ev models.DiagnosisEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func newService(t *testing.T, p Pipeline, s Store, pub *recordingPublisher) (*Service, Dirs) {
	t.Helper()
	root := t.TempDir()
	dirs := Dirs{
		MediaRoot:    root,
		Uploads:      filepath.Join(root, "uploads"),
		Explanations: filepath.Join(root, "explanations"),
	}
	treatments := stubTreatments{"Common Rust": {{ID: 1, DiseaseID: 3, CropID: 1, DrugName: "Propiconazole"}}}
	svc := NewService(p, s, treatments, pub, dirs, zap.NewNop())
	svc.now = func() time.Time { return time.Unix(1700000000, 42) }
	return svc, dirs
}

func TestDiagnoseStoresUploadAndRecordsOutcome(t *testing.T) {
	p := &stubPipeline{}
	st := &memStore{}
	pub := &recordingPublisher{}
	svc, dirs := newService(t, p, st, pub)
	user := uuid.New()

	out, err := svc.Diagnose(context.Background(), Request{
		Filename: "../../etc/leaf photo.jpg",
		Body:     bytes.NewReader([]byte("jpeg bytes")),
		UserID:   &user,
	})
	require.NoError(t, err)

	wantUpload := filepath.Join(dirs.Uploads, "1700000000000000042_leaf_photo.jpg")
	assert.Equal(t, wantUpload, p.gotPath)
	assert.Equal(t, dirs.Explanations, p.gotOutDir)
	data, err := os.ReadFile(wantUpload)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	assert.True(t, out.Persisted)
	assert.Equal(t, "/media/explanations/lime_1700000000000000042_leaf_photo.jpg", out.ExplanationURL)
	require.Len(t, out.Diagnosis.Treatments, 1)
	assert.Equal(t, "Propiconazole", out.Diagnosis.Treatments[0].DrugName)

	require.Len(t, st.saved, 1)
	assert.Equal(t, out.Diagnosis.ID, st.saved[0].ID)
	assert.Equal(t, &user, st.saved[0].UserID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, out.Diagnosis.ID, pub.events[0].DiagnosisID)
	assert.Equal(t, 91.25, pub.events[0].ConfidencePercent)
}

func TestDiagnoseRemovesUploadOnPipelineError(t *testing.T) {
	cases := map[string]error{
		"decode":  &inference.ImageDecodeError{Source: "x.jpg", Err: errors.New("bad magic")},
		"model":   &inference.InferenceFailure{ImageID: "x.jpg", Stage: inference.StagePredict, Err: errors.New("nan logits")},
		"persist": &inference.ArtifactPersistError{Path: "/ro/lime_x.jpg", Err: os.ErrPermission},
	}
	for name, pipelineErr := range cases {
		t.Run(name, func(t *testing.T) {
			st := &memStore{}
			pub := &recordingPublisher{}
			svc, dirs := newService(t, &stubPipeline{err: pipelineErr}, st, pub)

			_, err := svc.Diagnose(context.Background(), Request{Filename: "x.jpg", Body: bytes.NewReader([]byte("x"))})
			assert.ErrorIs(t, err, pipelineErr)

			entries, err := os.ReadDir(dirs.Uploads)
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Empty(t, st.saved)
			assert.Empty(t, pub.events)
		})
	}
}

func TestDiagnoseKeepsResultWhenStoreFails(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(t, &stubPipeline{}, &memStore{err: errors.New("db down")}, pub)

	out, err := svc.Diagnose(context.Background(), Request{Filename: "a.png", Body: bytes.NewReader([]byte{1})})
	require.NoError(t, err)
	assert.False(t, out.Persisted)
	assert.Equal(t, "Common Rust", out.Result.PredictedClass)
	assert.Empty(t, pub.events, "unsaved diagnoses are not announced")
}

func TestDiagnoseIgnoresPublishFailure(t *testing.T) {
	svc, _ := newService(t, &stubPipeline{}, &memStore{}, &recordingPublisher{err: errors.New("nats down")})
	out, err := svc.Diagnose(context.Background(), Request{Filename: "a.png", Body: bytes.NewReader([]byte{1})})
	require.NoError(t, err)
	assert.True(t, out.Persisted)
}

func TestGetAttachesTreatments(t *testing.T) {
	st := &memStore{}
	svc, dirs := newService(t, &stubPipeline{}, st, &recordingPublisher{})
	id := uuid.New()
	st.saved = append(st.saved, models.Diagnosis{
		ID:              id,
		PredictedClass:  "Healthy",
		ExplanationPath: filepath.Join(dirs.Explanations, "lime_a.png"),
	})

	d, url, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "/media/explanations/lime_a.png", url)
	assert.NotNil(t, d.Treatments)
	assert.Empty(t, d.Treatments)
}

func TestMediaURLOutsideRoot(t *testing.T) {
	svc, _ := newService(t, &stubPipeline{}, &memStore{}, &recordingPublisher{})
	assert.Equal(t, "", svc.MediaURL("/somewhere/else.png"))
	assert.Equal(t, "", svc.MediaURL(""))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"leaf.jpg", "leaf.jpg"},
		{"my leaf (1).JPG", "my_leaf__1_.JPG"},
		{`C:\Users\x\rust.png`, "rust.png"},
		{"../../secret", "secret"},
		{".hidden", "hidden"},
		{"", "upload"},
		{"маис.jpg", "____.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
