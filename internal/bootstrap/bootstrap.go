// Package bootstrap wires the long-lived dependencies shared by the
// server and the bot binaries.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/catalog"
	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/database"
	"github.com/cropdoc/api/internal/diagnosis"
	"github.com/cropdoc/api/internal/eventbus"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/inference/explain"
	"github.com/cropdoc/api/internal/inference/loader"
	"github.com/cropdoc/api/internal/inference/segment"
	"github.com/cropdoc/api/internal/store"
)

// Logger builds the production zap logger writing to stdout/stderr.
func Logger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	return zapConfig.Build()
}

// Manifest reads MODEL_MANIFEST when set, otherwise starts from the
// built-in maize manifest. Explicit env settings override either.
func Manifest(cfg *config.Config) (loader.Manifest, error) {
	m := loader.DefaultManifest()
	if cfg.ModelManifest != "" {
		var err error
		if m, err = loader.LoadManifest(cfg.ModelManifest); err != nil {
			return m, err
		}
	} else if cfg.ModelWeights != "" {
		m.Weights = cfg.ModelWeights
	}
	if cfg.ModelBackend != "" {
		m.Backend = cfg.ModelBackend
	}
	if cfg.ModelDevice != "" {
		m.Device = cfg.ModelDevice
	}
	return m, m.Validate()
}

// ExplainConfig overlays the EXPLAIN_* settings on the defaults.
func ExplainConfig(cfg *config.Config) explain.Config {
	ec := explain.DefaultConfig()
	if cfg.ExplainSamples > 0 {
		ec.NumSamples = cfg.ExplainSamples
	}
	if cfg.ExplainFeatures > 0 {
		ec.NumFeatures = cfg.ExplainFeatures
	}
	if cfg.ExplainBatch > 0 {
		ec.BatchSize = cfg.ExplainBatch
	}
	if cfg.ExplainKernelWidth > 0 {
		ec.KernelWidth = cfg.ExplainKernelWidth
	}
	ec.Seed = cfg.ExplainSeed
	return ec
}

// Pipeline loads the model and assembles the inference pipeline. Any
// failure here must stop the process before it serves traffic.
func Pipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...inference.Option) (*inference.Pipeline, *loader.Handle, error) {
	m, err := Manifest(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("model manifest: %w", err)
	}
	h, err := loader.Load(ctx, m, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load model: %w", err)
	}
	seg, err := segment.New(cfg.Segmenter, segment.DefaultOptions())
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	p, err := inference.New(h, seg, ExplainConfig(cfg), logger, opts...)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, h, nil
}

// Services holds the stateful clients behind the diagnosis flow.
type Services struct {
	DB        *database.Postgres
	Redis     *database.Redis
	Bus       *eventbus.Bus
	Store     *store.Store
	Catalog   *catalog.Service
	Diagnosis *diagnosis.Service
}

// Connect opens Postgres (required), Redis and NATS (both optional) and
// builds the catalog and diagnosis services on top.
func Connect(ctx context.Context, cfg *config.Config, p diagnosis.Pipeline, logger *zap.Logger) (*Services, error) {
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Services{DB: db, Store: store.New(db.Pool())}

	var cache catalog.Cache
	if rdb, err := database.NewRedis(ctx, cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, treatment cache disabled", zap.Error(err))
	} else {
		s.Redis = rdb
		cache = catalog.NewRedisCache(rdb.Client())
	}
	s.Catalog = catalog.NewService(s.Store, cache, cfg.TreatmentTTL, logger)

	var events eventbus.Publisher = eventbus.Nop{}
	if bus, err := eventbus.Connect(cfg.NATSURL, logger); err != nil {
		logger.Warn("nats unavailable, diagnosis events disabled", zap.Error(err))
	} else {
		s.Bus = bus
		events = bus
	}

	s.Diagnosis = diagnosis.NewService(p, s.Store, s.Catalog, events, diagnosis.Dirs{
		MediaRoot:    cfg.MediaRoot,
		Uploads:      cfg.UploadsDir,
		Explanations: cfg.ExplanationsDir,
	}, logger)
	return s, nil
}

// Close releases every open client.
func (s *Services) Close() {
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	s.DB.Close()
}
