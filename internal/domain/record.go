package domain

import "time"

const (
	// MaxSongHistory 每个房间持久化的最大历史曲目数
	MaxSongHistory = 100
	// MaxTagsPerRoom 每个房间最多绑定的标签数
	MaxTagsPerRoom = 5
)

// HistoryEntry 房间历史曲目条目
type HistoryEntry struct {
	TrackID     string    `json:"track_id"`
	Name        string    `json:"name"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	AlbumArt    string    `json:"album_art"`
	ExternalURL string    `json:"external_url"`
	DurationMs  int64     `json:"duration_ms"`
	PlayedAt    time.Time `json:"played_at"`
	PlayedBy    string    `json:"played_by"` // 内部用户ID
}

// RoomRecord 房间持久化镜像
// 房间结束后记录保留，作为历史会话可被检索
type RoomRecord struct {
	RoomID         string         `json:"room_id"`
	Name           string         `json:"name"`
	HostID         string         `json:"host_id"`
	HostProviderID string         `json:"host_provider_id"`
	IsPublic       bool           `json:"is_public"`
	Tags           []string       `json:"tags"`
	Participants   []string       `json:"participants"` // 内部用户ID快照
	CurrentTrack   *Track         `json:"current_track,omitempty"`
	SongHistory    []HistoryEntry `json:"song_history"`
	LastActive     time.Time      `json:"last_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// LastPlayedTrack 返回历史中最近播放的曲目，没有则返回nil
func (r *RoomRecord) LastPlayedTrack() *HistoryEntry {
	if len(r.SongHistory) == 0 {
		return nil
	}
	entry := r.SongHistory[len(r.SongHistory)-1]
	return &entry
}

// Tag 共享标签
// 名称全局唯一，已规范化（小写、去空白、≤20字符）
type Tag struct {
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// User 可持久化用户身份（provider_id与内部ID的映射）
type User struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Handle      string    `json:"handle"`
	CreatedAt   time.Time `json:"created_at"`
}
