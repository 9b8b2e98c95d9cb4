package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

var numericID = regexp.MustCompile(`^[0-9]{1,20}$`)

// Tenant validates the :tenant_id path parameter and stores it in the context.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenant_id")
		if !numericID.MatchString(tenantID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id must be numeric"})
			return
		}

		c.Set("tenant_id", tenantID)
		c.Next()
	}
}
