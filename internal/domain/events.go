package domain

import "time"

// EventType 实时事件类型（jamming频道）
type EventType string

// 上行事件
const (
	EventJoinRoom        EventType = "join_room"
	EventLeaveRoom       EventType = "leave_room"
	EventSendChatMessage EventType = "send_chat_message"
	EventTypingStart     EventType = "typing_start"
	EventTypingStop      EventType = "typing_stop"
	EventHostPlay        EventType = "host_play"
	EventHostPause       EventType = "host_pause"
	EventHostSeek        EventType = "host_seek"
	EventHostTrackChange EventType = "host_track_change"
)

// 下行事件
const (
	EventRoomState     EventType = "room_state"
	EventUserJoined    EventType = "user_joined"
	EventUserLeft      EventType = "user_left"
	EventRoomEnded     EventType = "room_ended"
	EventChatHistory   EventType = "chat_history"
	EventChatMessage   EventType = "chat_message"
	EventChatError     EventType = "chat_error"
	EventUserTyping    EventType = "user_typing"
	EventPlaybackPlay  EventType = "playback_play"
	EventPlaybackPause EventType = "playback_pause"
	EventPlaybackSeek  EventType = "playback_seek"
	EventTrackChanged  EventType = "track_changed"
	EventError         EventType = "error"
)

// ClientEvent 上行事件信封
// 不同事件只填充对应字段，多余字段忽略
type ClientEvent struct {
	Type       EventType `json:"type"`
	RoomID     string    `json:"room_id"`
	Message    string    `json:"message,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	PositionMs int64     `json:"position_ms"`
	Track      *Track    `json:"track,omitempty"`
}

// ServerEvent 下行事件信封
type ServerEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewServerEvent 创建下行事件
func NewServerEvent(eventType EventType, data interface{}) *ServerEvent {
	return &ServerEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// PlaybackEventPayload 播放事件载荷
// ServerTimestamp与PositionMs构成漂移校正基准
type PlaybackEventPayload struct {
	TrackID         string    `json:"track_id,omitempty"`
	PositionMs      int64     `json:"position_ms"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// TrackChangedPayload 换曲事件载荷
type TrackChangedPayload struct {
	Track           *Track    `json:"track"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// TypingPayload 输入状态载荷
type TypingPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
