package handlers

import (
	"net/http"

	"github.com/cropdoc/api/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DiseaseHandler serves /diseases.
type DiseaseHandler struct {
	store   DiseaseStore
	catalog TreatmentFinder
	logger  *zap.Logger
}

func NewDiseaseHandler(s DiseaseStore, catalog TreatmentFinder, logger *zap.Logger) *DiseaseHandler {
	return &DiseaseHandler{store: s, catalog: catalog, logger: logger}
}

// List returns every disease with its crop name.
func (h *DiseaseHandler) List(c *gin.Context) {
	diseases, err := h.store.ListDiseases(c.Request.Context())
	if err != nil {
		respondStoreError(c, h.logger, "disease", err)
		return
	}
	c.JSON(http.StatusOK, diseases)
}

func (h *DiseaseHandler) Get(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	d, err := h.store.GetDisease(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, h.logger, "disease", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *DiseaseHandler) Create(c *gin.Context) {
	var in models.CropDiseaseInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.store.CreateDisease(c.Request.Context(), in)
	if err != nil {
		respondStoreError(c, h.logger, "disease", err)
		return
	}
	invalidate(c, h.catalog)
	c.JSON(http.StatusCreated, d)
}

func (h *DiseaseHandler) Update(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	var in models.CropDiseaseInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.store.UpdateDisease(c.Request.Context(), id, in)
	if err != nil {
		respondStoreError(c, h.logger, "disease", err)
		return
	}
	invalidate(c, h.catalog)
	c.JSON(http.StatusOK, d)
}

func (h *DiseaseHandler) Delete(c *gin.Context) {
	id, ok := intParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteDisease(c.Request.Context(), id); err != nil {
		respondStoreError(c, h.logger, "disease", err)
		return
	}
	invalidate(c, h.catalog)
	c.Status(http.StatusNoContent)
}
