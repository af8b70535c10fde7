package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

const (
	ContextUserID   = "user_id"
	ContextUserName = "user_name"
)

func AuthMiddleware(tokens TokenManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, domain.ErrorResponse{
				Error: "authorization header is required",
			})
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			logger.Debug("auth middleware: invalid authorization header format",
				zap.String("path", c.Request.URL.Path),
				zap.Int("parts", len(parts)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, domain.ErrorResponse{
				Error: "invalid authorization header format",
			})
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			logger.Debug("auth middleware: token validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			status := http.StatusUnauthorized
			if errors.Is(err, ErrExpiredToken) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, domain.ErrorResponse{Error: err.Error()})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

// UserID returns the authenticated user set by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
