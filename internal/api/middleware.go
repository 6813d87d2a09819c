package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/loader"
)

const claimsKey = "claims"

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// jwtMiddleware проверяет JWT токен в заголовке Authorization.
// Если клиент передал X-Slime-User, он должен совпадать с subject токена.
func jwtMiddleware(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "malformed authorization header")
			return
		}

		claims, err := issuer.Validate(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		if user := c.GetHeader(loader.HeaderUser); user != "" && user != claims.Subject {
			abort(c, http.StatusForbidden, "token does not belong to "+user)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// adminMiddleware проверяет, что пользователь является администратором
func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(claimsKey)
		claims, _ := v.(*auth.Claims)
		if !ok || claims == nil {
			abort(c, http.StatusInternalServerError, "missing user claims")
			return
		}
		if !claims.IsAdmin {
			abort(c, http.StatusForbidden, "admin token required")
			return
		}
		c.Next()
	}
}
