package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type setChannelRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
}

type addAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

func (h *Handler) SetChannel(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req setChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.admin.SetChannel(c.Request.Context(), tenantID, req.ChannelID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "channel_id": req.ChannelID})
}

func (h *Handler) RemoveChannel(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	if err := h.admin.RemoveChannel(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListAccounts(c *gin.Context) {
	list, err := h.admin.ListAccounts(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *Handler) AddAccount(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.admin.AddAccount(c.Request.Context(), tenantID, req.AccountID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant_id": tenantID, "account_id": req.AccountID})
}

func (h *Handler) RemoveAccount(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	accountID := c.Param("account_id")

	if err := h.admin.RemoveAccount(c.Request.Context(), tenantID, accountID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
