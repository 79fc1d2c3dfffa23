package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jamstream/server/pkg/db"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(pool *pgxpool.Pool, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		pool:  pool,
		redis: redisClient,
	}
}

// Health 存储依赖的健康状态
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	overall := "healthy"
	checks := gin.H{"postgres": "ok", "redis": "ok"}

	if err := db.HealthCheck(ctx, h.pool); err != nil {
		checks["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}
