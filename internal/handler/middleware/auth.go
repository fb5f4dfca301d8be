package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/service"
	"go.uber.org/zap"
)

const (
	authorizationHeader  = "Authorization"
	bearerPrefix         = "Bearer "
	userClaimsContextKey = "userClaims"
)

func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeader)
		if authHeader == "" {
			log.Debug("Authorization header is missing")
			_ = c.Error(fmt.Errorf("%w: authorization header required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, bearerPrefix) {
			log.Debug("Authorization header format is invalid")
			_ = c.Error(fmt.Errorf("%w: invalid authorization header format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		if tokenString == "" {
			log.Debug("Token is missing after Bearer prefix")
			_ = c.Error(fmt.Errorf("%w: token missing", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			log.Warn("Token validation failed", zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(userClaimsContextKey, claims)
		c.Next()
	}
}

func GetUserClaims(c *gin.Context) *service.UserClaims {
	value, exists := c.Get(userClaimsContextKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*service.UserClaims)
	if !ok {
		return nil
	}
	return claims
}
