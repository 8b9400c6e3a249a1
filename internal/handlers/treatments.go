package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cropdoc/api/internal/catalog"
	"github.com/cropdoc/api/internal/middleware"
	"github.com/cropdoc/api/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TreatmentHandler serves /treatments and /get-treatment.
type TreatmentHandler struct {
	store   TreatmentStore
	catalog TreatmentFinder
	logger  *zap.Logger
}

func NewTreatmentHandler(s TreatmentStore, catalog TreatmentFinder, logger *zap.Logger) *TreatmentHandler {
	return &TreatmentHandler{store: s, catalog: catalog, logger: logger}
}

func (h *TreatmentHandler) List(c *gin.Context) {
	ts, err := h.store.ListTreatments(c.Request.Context())
	if err != nil {
		respondStoreError(c, h.logger, "treatment", err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *TreatmentHandler) Get(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	t, err := h.store.GetTreatment(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, h.logger, "treatment", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TreatmentHandler) Create(c *gin.Context) {
	var in models.DiseaseTreatmentInput
	if !bindJSON(c, &in) {
		return
	}
	t, err := h.store.CreateTreatment(c.Request.Context(), in)
	if err != nil {
		respondStoreError(c, h.logger, "treatment", err)
		return
	}
	invalidate(c, h.catalog)
	c.JSON(http.StatusCreated, t)
}

func (h *TreatmentHandler) Update(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	var in models.DiseaseTreatmentInput
	if !bindJSON(c, &in) {
		return
	}
	t, err := h.store.UpdateTreatment(c.Request.Context(), id, in)
	if err != nil {
		respondStoreError(c, h.logger, "treatment", err)
		return
	}
	invalidate(c, h.catalog)
	c.JSON(http.StatusOK, t)
}

func (h *TreatmentHandler) Delete(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteTreatment(c.Request.Context(), id); err != nil {
		respondStoreError(c, h.logger, "treatment", err)
		return
	}
	invalidate(c, h.catalog)
	c.Status(http.StatusNoContent)
}

// Lookup answers GET /get-treatment?id=N or ?name=Common%20Rust.
func (h *TreatmentHandler) Lookup(c *gin.Context) {
	var id *int
	if raw := c.Query("id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.BadRequest(c, "id must be an integer")
			return
		}
		id = &n
	}

	ts, err := h.catalog.TreatmentsForDisease(c.Request.Context(), id, c.Query("name"))
	switch {
	case errors.Is(err, catalog.ErrMissingQuery):
		middleware.BadRequest(c, "Provide disease ID or name")
	case errors.Is(err, catalog.ErrDiseaseNotFound):
		middleware.BadRequest(c, "Disease not found")
	case err != nil:
		respondStoreError(c, h.logger, "treatment", err)
	default:
		c.JSON(http.StatusOK, ts)
	}
}

func invalidate(c *gin.Context, f TreatmentFinder) {
	if f != nil {
		f.Invalidate(c.Request.Context())
	}
}
