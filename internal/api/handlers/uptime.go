package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) TenantUptime(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	uptimes, err := h.admin.TenantUptime(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"accounts":  uptimes,
	})
}

func (h *Handler) AccountUptime(c *gin.Context) {
	uptime, err := h.admin.AccountUptime(c.Request.Context(), c.GetString("tenant_id"), c.Param("account_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, uptime)
}
