package handlers

import (
	"net/http"

	"github.com/cropdoc/api/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CropHandler serves /crops. Writes drop cached treatment lookups since a
// crop delete cascades to its diseases.
type CropHandler struct {
	store   CropStore
	catalog TreatmentFinder
	logger  *zap.Logger
}

func NewCropHandler(s CropStore, catalog TreatmentFinder, logger *zap.Logger) *CropHandler {
	return &CropHandler{store: s, catalog: catalog, logger: logger}
}

func (h *CropHandler) List(c *gin.Context) {
	crops, err := h.store.ListCrops(c.Request.Context())
	if err != nil {
		respondStoreError(c, h.logger, "crop", err)
		return
	}
	c.JSON(http.StatusOK, crops)
}

func (h *CropHandler) Get(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	crop, err := h.store.GetCrop(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, h.logger, "crop", err)
		return
	}
	c.JSON(http.StatusOK, crop)
}

func (h *CropHandler) Create(c *gin.Context) {
	var in models.CropInput
	if !bindJSON(c, &in) {
		return
	}
	crop, err := h.store.CreateCrop(c.Request.Context(), in)
	if err != nil {
		respondStoreError(c, h.logger, "crop", err)
		return
	}
	c.JSON(http.StatusCreated, crop)
}

func (h *CropHandler) Update(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	var in models.CropInput
	if !bindJSON(c, &in) {
		return
	}
	crop, err := h.store.UpdateCrop(c.Request.Context(), id, in)
	if err != nil {
		respondStoreError(c, h.logger, "crop", err)
		return
	}
	c.JSON(http.StatusOK, crop)
}

func (h *CropHandler) Delete(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteCrop(c.Request.Context(), id); err != nil {
		respondStoreError(c, h.logger, "crop", err)
		return
	}
	invalidate(c, h.catalog)
	c.Status(http.StatusNoContent)
}
