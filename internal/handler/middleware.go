package handler

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/httputil"
	"github.com/jamstream/server/pkg/jwt"
	"github.com/jamstream/server/pkg/logger"
)

const claimsKey = "claims"

// Auth JWT认证中间件
// WebSocket握手无法带自定义Header，token查询参数作为兜底
func Auth(manager *jwt.Manager, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			httputil.ErrorResponse(c, errors.ErrTokenInvalid.WithMessage("missing credentials"))
			c.Abort()
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			log.WithFields(
				logger.String("request_id", httputil.GetRequestID(c)),
				logger.Error(err),
			).Warn("JWT validation failed")
			httputil.ErrorResponse(c, err)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// GetClaims 从上下文取认证身份
func GetClaims(c *gin.Context) *jwt.Claims {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*jwt.Claims)
	if !ok {
		return nil
	}
	return claims
}

// memberFromClaims 认证身份映射为房间成员
func memberFromClaims(claims *jwt.Claims) domain.Member {
	return domain.Member{
		UserID:      claims.UserID,
		ProviderID:  claims.ProviderUserID,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
		Handle:      claims.Handle,
	}
}

// RateLimiter 滑动窗口速率限制器
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	maxReq  int
	window  time.Duration
}

type clientLimit struct {
	mu       sync.Mutex
	requests []time.Time
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(maxReq int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimit),
		maxReq:  maxReq,
		window:  window,
	}
	go rl.cleanup()
	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientLimit{requests: make([]time.Time, 0, rl.maxReq)}
		rl.clients[clientID] = client
	}
	rl.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := make([]time.Time, 0, len(client.requests))
	for _, reqTime := range client.requests {
		if reqTime.After(cutoff) {
			valid = append(valid, reqTime)
		}
	}
	client.requests = valid

	if len(client.requests) >= rl.maxReq {
		return false
	}
	client.requests = append(client.requests, now)
	return true
}

// cleanup 定期清理不活跃的客户端记录
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-rl.window)
		rl.mu.Lock()
		for id, client := range rl.clients {
			client.mu.Lock()
			stale := len(client.requests) == 0 || !client.requests[len(client.requests)-1].After(cutoff)
			client.mu.Unlock()
			if stale {
				delete(rl.clients, id)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit 速率限制中间件，按用户ID限流，未认证时按客户端IP
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("user_id")
		if clientID == "" {
			clientID = c.ClientIP()
		}
		if !limiter.Allow(clientID) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    errors.ErrCodeTooManyRequests,
				"message": "too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
