package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leozw/presence-guardian/internal/admin"
	"github.com/leozw/presence-guardian/internal/presence"
	"github.com/leozw/presence-guardian/internal/storage"
	"go.uber.org/zap"
)

type Handler struct {
	admin  *admin.Service
	store  *storage.Store
	source presence.Source
	logger *zap.Logger
}

// NewHandler builds the HTTP handlers. source may be nil, in which case
// readiness only depends on the store.
func NewHandler(adminSvc *admin.Service, store *storage.Store, source presence.Source, logger *zap.Logger) *Handler {
	return &Handler{
		admin:  adminSvc,
		store:  store,
		source: source,
		logger: logger,
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, admin.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrTenantNotFound),
		errors.Is(err, admin.ErrChannelNotFound),
		errors.Is(err, admin.ErrMemberNotFound),
		errors.Is(err, admin.ErrNotMonitored),
		errors.Is(err, admin.ErrNoChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrAlreadyMonitored):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrNotBot):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("tenant_id", c.GetString("tenant_id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
