package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	tenantCookie = "lottery_tenant"
	tenantKey    = "tenantID"
)

// TenantMiddleware identifies the browser session by cookie, issuing a new id on first visit.
// Every browser gets its own roster and winners.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := c.Cookie(tenantCookie)
		if err != nil || !validTenantID(tenantID) {
			tenantID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(tenantCookie, tenantID, 0, "/", "", false, true)
		}
		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

func validTenantID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func tenantFrom(c *gin.Context) string {
	return c.GetString(tenantKey)
}
