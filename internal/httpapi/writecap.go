package httpapi

import (
	"context"
	"net/http"

	"fleet-ledger/internal/tenant"
	"fleet-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter hands out bounded slots per key. utils.ConcurrencyLimiter is the
// Redis-backed implementation.
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// WriteCap bounds in-flight writes per bound scope across all API processes.
// When the limiter itself fails the request proceeds; the audit chain still
// serializes writers.
func WriteCap(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		scope, ok := tenant.FromContext(ctx)
		if !ok {
			c.Next()
			return
		}
		key := "writecap:" + scope.Key()
		log := logger.FromGin(c)

		acquired, err := l.Acquire(ctx, key)
		if err != nil {
			log.Warn("write cap unavailable", zap.String("scope", scope.Key()), zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_writes", "message": "tenant write limit reached"})
			return
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("write cap release failed", zap.String("scope", scope.Key()), zap.Error(err))
			}
		}()
		c.Next()
	}
}
