package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/http/middleware"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/service"
	"github.com/caseroute/backend/internal/store"
)

type Handler struct {
	Store     store.Store
	Cases     *service.CaseService
	Validator *validator.Validate
	Logger    zerolog.Logger

	// System attributes operator-triggered routing passes.
	System models.Actor
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeServiceError maps service errors onto the error envelope.
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	var (
		verr *apperr.ValidationError
		perr *apperr.PermissionError
	)
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message, gin.H{"field": verr.Field})
	case errors.As(err, &perr):
		writeError(c, http.StatusForbidden, "FORBIDDEN", perr.Message, gin.H{"permission": perr.Permission})
	case errors.Is(err, apperr.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, apperr.ErrConflict):
		writeError(c, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil)
	default:
		h.Logger.Error().Err(err).
			Str("request_id", c.GetString(middleware.RequestIDHeader)).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err.Error())
	}
}

// bind decodes and validates a JSON body, writing the error response itself.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) actor(c *gin.Context) (models.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing actor", nil)
	}
	return a, ok
}
