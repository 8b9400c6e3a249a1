package handlers

import (
	"net/http"

	"github.com/cropdoc/api/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler serves /users and /user-stats.
type UserHandler struct {
	store  UserStore
	logger *zap.Logger
}

func NewUserHandler(s UserStore, logger *zap.Logger) *UserHandler {
	return &UserHandler{store: s, logger: logger}
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		respondStoreError(c, h.logger, "user", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	u, err := h.store.GetUser(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, h.logger, "user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) Create(c *gin.Context) {
	var in models.UserInput
	if !bindJSON(c, &in) {
		return
	}
	u, err := h.store.CreateUser(c.Request.Context(), in)
	if err != nil {
		respondStoreError(c, h.logger, "user", err)
		return
	}
	h.logger.Info("user registered", zap.String("user_id", u.ID.String()), zap.String("role", string(u.Role)))
	c.JSON(http.StatusCreated, u)
}

func (h *UserHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	var in models.UserInput
	if !bindJSON(c, &in) {
		return
	}
	u, err := h.store.UpdateUser(c.Request.Context(), id, in)
	if err != nil {
		respondStoreError(c, h.logger, "user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), id); err != nil {
		respondStoreError(c, h.logger, "user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats returns user counts by country and by county.
func (h *UserHandler) Stats(c *gin.Context) {
	stats, err := h.store.UserStats(c.Request.Context())
	if err != nil {
		respondStoreError(c, h.logger, "user stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
