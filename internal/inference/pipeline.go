// Package inference runs the full diagnosis of one leaf image: predict the
// disease, explain the prediction, persist the overlay.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/inference/artifact"
	"github.com/cropdoc/api/internal/inference/explain"
	"github.com/cropdoc/api/internal/inference/loader"
	"github.com/cropdoc/api/internal/inference/predict"
	"github.com/cropdoc/api/internal/inference/preprocess"
	"github.com/cropdoc/api/internal/inference/segment"
)

const tracerName = "cropdoc/inference"

// Result is the merged outcome of one Predict call.
type Result struct {
	PredictedClass       string             `json:"predicted_class"`
	ConfidencePercent    float64            `json:"confidence_percent"`
	ExplanationImagePath string             `json:"explanation_image_path"`
	ClassIndex           int                `json:"class_index"`
	Probabilities        map[string]float64 `json:"probabilities"`
	Degenerate           bool               `json:"degenerate_explanation"`
}

// Observer receives per-stage timings and outcomes, e.g. for metrics.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
	ObservePrediction(label string, confidence float64, degenerate bool)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver installs o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

// Pipeline is safe for concurrent use; every call owns its buffers and only
// shares the read-only model.
type Pipeline struct {
	predictor *predict.Service
	explainer *explain.Engine
	logger    *zap.Logger
	tracer    trace.Tracer
	observer  Observer
}

// New wires a pipeline around a loaded model handle.
func New(h *loader.Handle, seg segment.Segmenter, cfg explain.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	predictor, err := predict.NewService(h.Model(), h.Labels())
	if err != nil {
		return nil, err
	}
	explainer, err := explain.NewEngine(seg, predictor, cfg, logger)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		predictor: predictor,
		explainer: explainer,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Labels returns the class labels the pipeline predicts.
func (p *Pipeline) Labels() []string { return p.predictor.Labels() }

// Predict diagnoses the image at imagePath and writes the explanation overlay
// into outputDir. Errors are *ImageDecodeError, *ArtifactPersistError or
// *InferenceFailure. Nothing is written when the image cannot be decoded.
func (p *Pipeline) Predict(ctx context.Context, imagePath, outputDir string) (*Result, error) {
	imageID := filepath.Base(imagePath)
	ctx, span := p.tracer.Start(ctx, "inference.Predict", trace.WithAttributes(attribute.String("image.id", imageID)))
	defer span.End()
	start := time.Now()

	var img image.Image
	err := p.stage(ctx, StageDecode, imageID, func(context.Context) error {
		var err error
		img, err = preprocess.Load(imagePath)
		return err
	})
	if err != nil {
		p.fail(span, imageID, err)
		return nil, err
	}

	resized := preprocess.Resize(img)
	var (
		pred  *predict.Prediction
		probs []float64
	)
	err = p.stage(ctx, StagePredict, imageID, func(context.Context) error {
		var err error
		pred, probs, err = p.predictor.Predict(preprocess.Normalize(resized))
		return err
	})
	if err != nil {
		p.fail(span, imageID, err)
		return nil, err
	}

	var ex *explain.Explanation
	err = p.stage(ctx, StageExplain, imageID, func(ctx context.Context) error {
		var err error
		ex, err = p.explainer.Explain(ctx, resized, pred.Index)
		return err
	})
	if err != nil {
		p.fail(span, imageID, err)
		return nil, err
	}

	var outPath string
	err = p.stage(ctx, StagePersist, imageID, func(context.Context) error {
		var err error
		outPath, err = artifact.NewWriter(outputDir).Write(ex.Overlay, imagePath)
		return err
	})
	if err != nil {
		p.fail(span, imageID, err)
		return nil, err
	}

	res := &Result{
		PredictedClass:       pred.Label,
		ConfidencePercent:    roundPercent(pred.Probability),
		ExplanationImagePath: outPath,
		ClassIndex:           pred.Index,
		Probabilities:        make(map[string]float64, len(probs)),
		Degenerate:           ex.Degenerate,
	}
	for i, l := range p.predictor.Labels() {
		res.Probabilities[l] = probs[i]
	}

	span.SetAttributes(
		attribute.String("prediction.class", res.PredictedClass),
		attribute.Float64("prediction.confidence", res.ConfidencePercent),
	)
	if p.observer != nil {
		p.observer.ObservePrediction(res.PredictedClass, res.ConfidencePercent, res.Degenerate)
	}
	p.logger.Info("Image diagnosed",
		zap.String("image_id", imageID),
		zap.String("class", res.PredictedClass),
		zap.Float64("confidence", res.ConfidencePercent),
		zap.Int("features", len(ex.Features)),
		zap.Bool("degenerate", ex.Degenerate),
		zap.Duration("latency", time.Since(start)),
	)
	return res, nil
}

// stage runs fn in its own span, converts panics, and maps every error that
// is not already one of the public types to *InferenceFailure.
func (p *Pipeline) stage(ctx context.Context, name, imageID string, fn func(context.Context) error) (err error) {
	ctx, span := p.tracer.Start(ctx, "inference."+name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		err = classify(name, imageID, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if p.observer != nil {
			p.observer.ObserveStage(name, time.Since(start), err)
		}
	}()
	return fn(ctx)
}

func classify(stage, imageID string, err error) error {
	if err == nil {
		return nil
	}
	var de *ImageDecodeError
	var pe *ArtifactPersistError
	var inf *InferenceFailure
	if errors.As(err, &de) || errors.As(err, &pe) || errors.As(err, &inf) {
		return err
	}
	return &InferenceFailure{ImageID: imageID, Stage: stage, Err: err}
}

func (p *Pipeline) fail(span trace.Span, imageID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Warn("Diagnosis failed", zap.String("image_id", imageID), zap.Error(err))
}

// roundPercent turns a probability into a percentage with two decimals.
func roundPercent(prob float64) float64 {
	return math.Round(prob*100*100) / 100
}
