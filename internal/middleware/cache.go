package middleware

import "github.com/gin-gonic/gin"

// NoStore keeps attempt payloads (papers, answers, timers) out of browser and
// proxy caches on shared lab machines.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
