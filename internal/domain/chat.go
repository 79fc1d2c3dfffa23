package domain

import "time"

const (
	// MaxChatMessageLen 单条聊天消息最大长度
	MaxChatMessageLen = 500
	// MaxChatHistory 每个房间保留的最大消息数
	MaxChatHistory = 100
)

// ChatMessage 聊天消息（仅内存保留，房间清空时丢弃）
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}
