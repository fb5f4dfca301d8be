package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keymeter/license-meter-api/internal/domain/apikey"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/keys"
	"go.uber.org/zap"
)

const (
	apiKeyHeader     = "X-API-Key"
	apiKeyContextKey = "apiKeyID"
	lastUsedTimeout  = 2 * time.Second
)

// APIKeyAuthMiddleware guards the machine-facing endpoints. The presented key
// is resolved by its prefix and its hash compared in constant time against
// the stored hash.
func APIKeyAuthMiddleware(repo apikey.Repository, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("APIKeyAuthMiddleware")
	return func(c *gin.Context) {
		apiKeyFromHeader := c.GetHeader(apiKeyHeader)
		if apiKeyFromHeader == "" {
			log.Debug("API Key header is missing", zap.String("header", apiKeyHeader))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}

		parts := strings.SplitN(apiKeyFromHeader, "_", 3)
		if len(parts) != 3 {
			log.Debug("API key has unexpected format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		prefix := parts[1]

		key, err := repo.FindByPrefix(c.Request.Context(), prefix)
		if err != nil {
			if errors.Is(err, ierr.ErrAPIKeyNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			log.Error("Failed to look up api key", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "API key verification failed"})
			return
		}

		candidateHash := keys.HashAPIKey(apiKeyFromHeader)
		if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(key.KeyHash)) != 1 {
			log.Debug("API key hash mismatch", zap.String("prefix", prefix))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Set(apiKeyContextKey, key.ID)

		// Last-used tracking is best effort and must not hold up the request.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
			defer cancel()
			if err := repo.UpdateLastUsed(ctx, key.ID, time.Now()); err != nil {
				log.Warn("Failed to update api key last used time", zap.Error(err))
			}
		}()

		c.Next()
	}
}
