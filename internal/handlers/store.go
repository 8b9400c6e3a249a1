package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cropdoc/api/internal/middleware"
	"github.com/cropdoc/api/internal/models"
	"github.com/cropdoc/api/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserStore persists users.
type UserStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, in models.UserInput) (*models.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, in models.UserInput) (*models.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	UserStats(ctx context.Context) (*models.UserStats, error)
}

// CropStore persists crops.
type CropStore interface {
	ListCrops(ctx context.Context) ([]models.Crop, error)
	GetCrop(ctx context.Context, id int) (*models.Crop, error)
	CreateCrop(ctx context.Context, in models.CropInput) (*models.Crop, error)
	UpdateCrop(ctx context.Context, id int, in models.CropInput) (*models.Crop, error)
	DeleteCrop(ctx context.Context, id int) error
}

// DiseaseStore persists crop diseases.
type DiseaseStore interface {
	ListDiseases(ctx context.Context) ([]models.CropDisease, error)
	GetDisease(ctx context.Context, id int) (*models.CropDisease, error)
	CreateDisease(ctx context.Context, in models.CropDiseaseInput) (*models.CropDisease, error)
	UpdateDisease(ctx context.Context, id int, in models.CropDiseaseInput) (*models.CropDisease, error)
	DeleteDisease(ctx context.Context, id int) error
}

// TreatmentStore persists disease treatments.
type TreatmentStore interface {
	ListTreatments(ctx context.Context) ([]models.DiseaseTreatment, error)
	GetTreatment(ctx context.Context, id int) (*models.DiseaseTreatment, error)
	CreateTreatment(ctx context.Context, in models.DiseaseTreatmentInput) (*models.DiseaseTreatment, error)
	UpdateTreatment(ctx context.Context, id int, in models.DiseaseTreatmentInput) (*models.DiseaseTreatment, error)
	DeleteTreatment(ctx context.Context, id int) error
}

// DiagnosisStore persists prediction outcomes.
type DiagnosisStore interface {
	CreateDiagnosis(ctx context.Context, d *models.Diagnosis) error
	GetDiagnosis(ctx context.Context, id uuid.UUID) (*models.Diagnosis, error)
}

// TreatmentFinder resolves treatments for a disease id or name.
type TreatmentFinder interface {
	TreatmentsForDisease(ctx context.Context, id *int, name string) ([]models.DiseaseTreatment, error)
	Invalidate(ctx context.Context)
}

// respondStoreError maps store sentinels onto the error envelope.
func respondStoreError(c *gin.Context, logger *zap.Logger, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.NotFound(c, what+" not found")
	case errors.Is(err, store.ErrInvalidReference):
		middleware.BadRequest(c, "referenced crop or disease does not exist")
	case errors.Is(err, store.ErrConflict):
		middleware.RespondError(c, http.StatusConflict, middleware.ErrCodeConflict, what+" already exists")
	default:
		logger.Error("database operation failed", zap.String("resource", what), zap.Error(err))
		middleware.DatabaseError(c)
	}
}

func intParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		middleware.BadRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func uuidParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}
