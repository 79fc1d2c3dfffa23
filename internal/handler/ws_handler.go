package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamstream/server/internal/ws"
	"github.com/jamstream/server/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 生产环境应该检查Origin
		return true
	},
}

// WSHandler jamming频道WebSocket处理器
type WSHandler struct {
	hub    *ws.Hub
	logger logger.Logger
}

// NewWSHandler 创建WebSocket处理器
func NewWSHandler(hub *ws.Hub, log logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log,
	}
}

// HandleWebSocket 认证后升级连接并接入hub
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	claims := GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.hub.Limiter().Acquire(); err != nil {
		h.logger.Warn("connection limit exceeded",
			logger.String("user_id", claims.UserID))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "connection limit exceeded",
			"available": h.hub.Limiter().Available(),
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", logger.Error(err))
		h.hub.Limiter().Release()
		return
	}

	wsConn := ws.NewConnection(uuid.New().String(), memberFromClaims(claims), claims.ProviderToken, conn, h.hub)
	h.hub.Register(wsConn)

	// 升级后请求ctx随handler返回取消，泵的生命周期由hub管理
	pumpCtx := context.Background()
	go wsConn.ReadPump(pumpCtx)
	go wsConn.WritePump(pumpCtx)

	h.logger.Info("websocket connection established",
		logger.String("conn_id", wsConn.ID),
		logger.String("user_id", claims.UserID))
}

// GetStats hub统计信息
func (h *WSHandler) GetStats(c *gin.Context) {
	stats := h.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"total_registered":    stats.TotalRegistered,
		"total_unregistered":  stats.TotalUnregistered,
		"current_connections": stats.CurrentConnections,
		"max_connections":     h.hub.Limiter().MaxConnections(),
		"available":           h.hub.Limiter().Available(),
	})
}
