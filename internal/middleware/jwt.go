package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// ContextKeyClaims is the Gin context key for verified JWT claims.
const ContextKeyClaims = "claims"

type tokenVerifier interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireStudentJWT admits student tokens only.
func RequireStudentJWT(auth tokenVerifier) gin.HandlerFunc {
	return requireToken(auth, service.TokenTypeStudent, bearerOrQuery)
}

// RequireStaffJWT admits staff tokens only. Permission checks come after it.
func RequireStaffJWT(auth tokenVerifier) gin.HandlerFunc {
	return requireToken(auth, service.TokenTypeStaff, bearerOrQuery)
}

// RequireStudentWSAuth reads the token from ?token=, since browsers cannot
// set headers on a WebSocket upgrade.
func RequireStudentWSAuth(auth tokenVerifier) gin.HandlerFunc {
	return requireToken(auth, service.TokenTypeStudent, func(c *gin.Context) string {
		return c.Query("token")
	})
}

func requireToken(auth tokenVerifier, want service.TokenType, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extract(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := auth.ValidateToken(tokenStr)
		if err != nil {
			code := response.ErrTokenInvalid
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = response.ErrTokenExpired
			}
			response.AbortFail(c, http.StatusUnauthorized, code)
			return
		}

		if claims.TokenType != want {
			code := response.ErrStudentAccessOnly
			if want == service.TokenTypeStaff {
				code = response.ErrStaffAccessOnly
			}
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func bearerOrQuery(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	// EventSource cannot send headers.
	return c.Query("token")
}
