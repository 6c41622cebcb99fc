package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user id.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the gin context key for the authenticated username.
	ContextKeyUsername = "username"
	// ContextKeyIsGuest is the gin context key for guest status.
	ContextKeyIsGuest = "is_guest"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The empty string means the header is absent or malformed.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" {
		return ""
	}
	return token
}

// AuthMiddleware rejects requests without a valid session token and stores
// the token claims in the gin context for downstream handlers.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			logger.Debug().Msg("missing or malformed authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or malformed authorization header"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyIsGuest, claims.IsGuest)
		c.Next()
	}
}

// LoggerMiddleware logs one line per finished HTTP request.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
