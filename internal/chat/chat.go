// Package chat维护每个房间的有界聊天日志。
// 消息只在内存中保留，房间清空时整体丢弃。
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
)

// Log 聊天日志管理器
type Log struct {
	mu      sync.RWMutex
	rooms   map[string][]domain.ChatMessage // roomID -> 最新maxSize条消息
	maxSize int
	now     func() time.Time
}

// NewLog 创建聊天日志管理器
func NewLog(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = domain.MaxChatHistory
	}
	return &Log{
		rooms:   make(map[string][]domain.ChatMessage),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Append 追加一条消息，超出上限时淘汰最旧的
// 消息长度必须在1~500字符之间
func (l *Log) Append(roomID string, sender domain.Member, text string) (*domain.ChatMessage, error) {
	if n := len(strings.TrimSpace(text)); n == 0 || len(text) > domain.MaxChatMessageLen {
		return nil, errors.ErrValidationFailed.WithMessage("Message must be 1-500 characters")
	}

	msg := domain.ChatMessage{
		ID:          uuid.New().String(),
		UserID:      sender.UserID,
		DisplayName: sender.DisplayName,
		AvatarURL:   sender.AvatarURL,
		Text:        text,
		Timestamp:   l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	log := append(l.rooms[roomID], msg)
	if len(log) > l.maxSize {
		log = log[len(log)-l.maxSize:]
	}
	l.rooms[roomID] = log

	return &msg, nil
}

// History 返回房间消息历史的拷贝（从旧到新）
func (l *Log) History(roomID string) []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.rooms[roomID]
	out := make([]domain.ChatMessage, len(log))
	copy(out, log)
	return out
}

// Purge 丢弃房间的全部消息
func (l *Log) Purge(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.rooms, roomID)
}

// Len 房间当前消息数
func (l *Log) Len(roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.rooms[roomID])
}
