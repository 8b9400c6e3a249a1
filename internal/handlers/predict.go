package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cropdoc/api/internal/diagnosis"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/middleware"
	"github.com/cropdoc/api/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Diagnoser runs and retrieves diagnoses.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnosis.Request) (*diagnosis.Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Diagnosis, string, error)
}

// PredictHandler serves POST /predict and GET /diagnoses/:id.
type PredictHandler struct {
	diagnoser      Diagnoser
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewPredictHandler(d Diagnoser, maxUploadBytes int64, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{diagnoser: d, maxUploadBytes: maxUploadBytes, logger: logger}
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	PredictedClass       string                    `json:"predicted_class"`
	ConfidencePercent    float64                   `json:"confidence_percent"`
	ExplanationImagePath string                    `json:"explanation_image_path"`
	ExplanationURL       string                    `json:"explanation_url,omitempty"`
	Degenerate           bool                      `json:"degenerate_explanation"`
	Treatments           []models.DiseaseTreatment `json:"treatments"`
	DiagnosisID          *uuid.UUID                `json:"diagnosis_id,omitempty"`
}

// Predict diagnoses the multipart "image" field.
func (h *PredictHandler) Predict(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondError(c, http.StatusRequestEntityTooLarge, middleware.ErrCodeBadRequest, "Image is too large")
			return
		}
		middleware.BadRequest(c, "No image uploaded")
		return
	}

	var userID *uuid.UUID
	if raw := c.PostForm("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.BadRequest(c, "user_id must be a UUID")
			return
		}
		userID = &id
	}

	f, err := fh.Open()
	if err != nil {
		middleware.BadRequest(c, "Could not read uploaded image")
		return
	}
	defer f.Close()

	out, err := h.diagnoser.Diagnose(c.Request.Context(), diagnosis.Request{
		Filename: fh.Filename,
		Body:     f,
		UserID:   userID,
	})
	if err != nil {
		h.respondInferenceError(c, err)
		return
	}

	resp := PredictResponse{
		PredictedClass:       out.Result.PredictedClass,
		ConfidencePercent:    out.Result.ConfidencePercent,
		ExplanationImagePath: out.Result.ExplanationImagePath,
		ExplanationURL:       out.ExplanationURL,
		Degenerate:           out.Result.Degenerate,
		Treatments:           out.Diagnosis.Treatments,
	}
	if out.Persisted {
		resp.DiagnosisID = &out.Diagnosis.ID
	}
	c.JSON(http.StatusOK, resp)
}

// GetDiagnosis returns a stored diagnosis with current treatments.
func (h *PredictHandler) GetDiagnosis(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	d, url, err := h.diagnoser.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, h.logger, "diagnosis", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diagnosis": d, "explanation_url": url})
}

func (h *PredictHandler) respondInferenceError(c *gin.Context, err error) {
	var (
		decodeErr  *inference.ImageDecodeError
		persistErr *inference.ArtifactPersistError
		failure    *inference.InferenceFailure
	)
	switch {
	case errors.As(err, &decodeErr):
		middleware.RespondErrorWithDetails(c, http.StatusUnprocessableEntity, middleware.ErrCodeImageDecode,
			"Uploaded file is not a readable image", decodeErr.Err.Error())
	case errors.As(err, &persistErr):
		h.logger.Error("explanation could not be saved", zap.String("path", persistErr.Path), zap.Error(persistErr.Err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeArtifactPersist,
			"Explanation image could not be saved")
	case errors.As(err, &failure):
		h.logger.Error("inference failed",
			zap.String("image_id", failure.ImageID),
			zap.String("stage", failure.Stage),
			zap.Error(failure.Err),
		)
		middleware.RespondErrorWithDetails(c, http.StatusInternalServerError, middleware.ErrCodeInferenceFailure,
			"Diagnosis failed", failure.Stage)
	default:
		h.logger.Error("diagnosis failed", zap.Error(err))
		middleware.InternalError(c, "Diagnosis failed")
	}
}
