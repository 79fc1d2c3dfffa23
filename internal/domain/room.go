package domain

import "time"

// Member 房间成员
type Member struct {
	UserID      string `json:"user_id"`      // 内部用户ID
	ProviderID  string `json:"provider_id"`  // 音乐平台用户ID
	DisplayName string `json:"display_name"` // 显示名称
	AvatarURL   string `json:"avatar_url"`   // 头像URL
	Handle      string `json:"handle"`       // 公开昵称
}

// Track 曲目信息
type Track struct {
	ID          string `json:"id"`           // 平台曲目ID
	Name        string `json:"name"`         // 曲名
	Artist      string `json:"artist"`       // 歌手
	Album       string `json:"album"`        // 专辑
	AlbumArt    string `json:"album_art"`    // 封面URL
	ExternalURL string `json:"external_url"` // 平台跳转链接
	DurationMs  int64  `json:"duration_ms"`  // 时长（毫秒）
}

// PlaybackState 播放状态
// 客户端根据 PositionMs + (now - LastUpdated) 推算当前播放位置
type PlaybackState struct {
	IsPlaying   bool      `json:"is_playing"`
	PositionMs  int64     `json:"position_ms"`
	LastUpdated time.Time `json:"last_updated"`
}

// Room 房间实体（内存态）
// 约束: 一个房间有且仅有一个host；房间存在等价于会话活跃
type Room struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	HostID         string        `json:"host_id"`
	HostProviderID string        `json:"host_provider_id"`
	Members        []Member      `json:"members"`
	CurrentTrack   *Track        `json:"current_track,omitempty"`
	Playback       PlaybackState `json:"playback"`
	IsPublic       bool          `json:"is_public"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HasMember 判断用户是否在房间中
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberCount 房间成员数
func (r *Room) MemberCount() int {
	return len(r.Members)
}

// Clone 返回房间的深拷贝，调用方持有的快照不受后续变更影响
func (r *Room) Clone() *Room {
	clone := *r
	clone.Members = make([]Member, len(r.Members))
	copy(clone.Members, r.Members)
	if r.CurrentTrack != nil {
		track := *r.CurrentTrack
		clone.CurrentTrack = &track
	}
	return &clone
}
