package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/response"
)

// RequireUUIDParams rejects requests whose named path params are present but
// not UUIDs, before they reach a ::uuid cast in SQL.
func RequireUUIDParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			v := c.Param(name)
			if v == "" {
				continue
			}
			if err := uuid.Validate(v); err != nil {
				response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
				return
			}
		}
		c.Next()
	}
}
