package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/logger"
)

const (
	// WriteWait 写入超时时间
	WriteWait = 10 * time.Second
	// PongWait Pong响应等待时间
	PongWait = 60 * time.Second
	// PingPeriod Ping发送周期（必须小于PongWait）
	PingPeriod = 30 * time.Second
	// MaxMessageSize 最大消息大小（64KB）
	MaxMessageSize = 64 * 1024
)

// Connection jamming频道的WebSocket连接
// roomID仅由hub的调度协程读写，连接同一时刻至多绑定一个房间
type Connection struct {
	ID string

	// 认证后的成员身份
	Member      domain.Member
	AccessToken string

	// 当前绑定的房间，空串表示未入房
	roomID string

	conn *websocket.Conn
	send chan []byte

	isActive  int32
	createdAt time.Time

	closeChan chan struct{}
	closeOnce sync.Once

	hub    *Hub
	logger logger.Logger
}

// NewConnection 创建新连接
func NewConnection(id string, member domain.Member, accessToken string, conn *websocket.Conn, hub *Hub) *Connection {
	return &Connection{
		ID:          id,
		Member:      member,
		AccessToken: accessToken,
		conn:        conn,
		send:        make(chan []byte, 256),
		isActive:    1,
		createdAt:   time.Now(),
		closeChan:   make(chan struct{}),
		hub:         hub,
		logger:      hub.logger,
	}
}

// IsActive 检查连接是否活跃
func (c *Connection) IsActive() bool {
	return atomic.LoadInt32(&c.isActive) == 1
}

// Close 关闭连接
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.isActive, 0)
		close(c.closeChan)

		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(WriteWait),
		)
		c.conn.Close()

		c.logger.Debug("connection closed",
			logger.String("conn_id", c.ID),
			logger.String("user_id", c.Member.UserID),
			logger.String("reason", reason),
			logger.Duration("duration", time.Since(c.createdAt)))
	})
}

// ReadPump 读取消息泵
// 每个连接的上行事件按到达顺序交给hub调度
func (c *Connection) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Debug("websocket read error",
						logger.String("user_id", c.Member.UserID),
						logger.Error(err))
				}
				return
			}
			c.handleMessage(message)
		}
	}
}

// WritePump 写入消息泵
func (c *Connection) WritePump(ctx context.Context) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					logger.String("user_id", c.Member.UserID),
					logger.Error(err))
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}
		}
	}
}

// Send 发送消息，通道满时关闭连接
func (c *Connection) Send(message []byte) bool {
	if !c.IsActive() {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("send buffer full, closing connection",
			logger.String("conn_id", c.ID),
			logger.String("user_id", c.Member.UserID))
		c.Close("send buffer full")
		return false
	}
}

// SendEvent 序列化并发送下行事件
func (c *Connection) SendEvent(event *domain.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to marshal event",
			logger.String("type", string(event.Type)),
			logger.Error(err))
		return
	}
	c.Send(data)
}

// sendError 发送错误事件
func (c *Connection) sendError(eventType domain.EventType, code, message string) {
	c.SendEvent(domain.NewServerEvent(eventType, &domain.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

// handleMessage 解析上行事件并交给hub
func (c *Connection) handleMessage(message []byte) {
	var event domain.ClientEvent
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Debug("invalid event payload",
			logger.String("user_id", c.Member.UserID),
			logger.Error(err))
		c.sendError(domain.EventError, "invalid_payload", "event must be valid JSON")
		return
	}

	if event.Type == "" {
		c.sendError(domain.EventError, "missing_type", "event type is required")
		return
	}

	c.hub.Dispatch(c, &event)
}
