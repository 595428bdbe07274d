package main

import (
	"database/sql"
	"net/http"
	"time"

	"fleet-ledger/internal/metrics"
	"fleet-ledger/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerPublicRoutes mounts the unauthenticated health checks and the metrics
// endpoint. Keep this file free of business logic.
func registerPublicRoutes(r *gin.Engine, db *sql.DB, rdb *redis.Client, rec *metrics.Recorder) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "postgres"})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(rec.Handler()))
}
