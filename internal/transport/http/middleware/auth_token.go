package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"postboard/internal/core/auth"
	resp "postboard/internal/transport/http/response"
)

// TokenHeader is the single header carrying the bearer token.
const TokenHeader = "auth-token"

// CtxUserID is the gin context key holding the verified identity claim.
const CtxUserID = "userId"

// AuthToken gates protected routes. Missing or unverifiable tokens abort
// with 401 before any handler work; on success the user id claim is
// attached to the request context.
func AuthToken(j *auth.JWTer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := c.GetHeader(TokenHeader)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Error(resp.CodeUnauthorized, "missing token"))
			return
		}
		claims, err := j.Parse(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Error(resp.CodeUnauthorized, "invalid token"))
			return
		}
		c.Set(CtxUserID, claims.UserID)
		c.Next()
	}
}

// UserID returns the identity claim set by AuthToken.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
