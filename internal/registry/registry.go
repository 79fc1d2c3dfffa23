// Package registry维护进程内的房间真值状态。
// 所有活跃房间仅存在于这里；持久化是异步镜像，不参与读路径。
package registry

import (
	"sync"
	"time"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
)

// LeaveResult 离开房间的结果
type LeaveResult struct {
	Room  *domain.Room // 离开后的房间快照；房间已结束时为结束前快照
	Ended bool         // 房间是否因此结束
}

// PlaybackUpdate 播放状态的部分更新
// 为nil的字段保持原值
type PlaybackUpdate struct {
	IsPlaying  *bool
	PositionMs *int64
}

// Registry 房间注册表
// 单一互斥锁保证所有操作原子可见，调用方拿到的都是快照
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*domain.Room // roomID -> room
	hosts   map[string]string       // hostID -> roomID
	members map[string]string       // userID -> roomID（每个用户至多在一个房间）
	now     func() time.Time
}

// New 创建房间注册表
func New() *Registry {
	return &Registry{
		rooms:   make(map[string]*domain.Room),
		hosts:   make(map[string]string),
		members: make(map[string]string),
		now:     time.Now,
	}
}

// CreateRoom 创建房间
// 同一用户不能同时主持两个房间。
// 若创建者已在其他房间，先隐式退出，evicted返回该房间的离开结果。
func (r *Registry) CreateRoom(roomID string, host domain.Member, name string, isPublic bool) (room *domain.Room, evicted *LeaveResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, hosting := r.hosts[host.UserID]; hosting {
		return nil, nil, errors.ErrAlreadyHosting
	}
	if _, exists := r.rooms[roomID]; exists {
		return nil, nil, errors.ErrInvalidRequest.WithMessage("Room ID already in use")
	}

	// 创建前先退出已加入的其他房间
	if prevID, ok := r.members[host.UserID]; ok && prevID != roomID {
		evicted = r.leaveLocked(prevID, host.UserID)
	}

	now := r.now()
	newRoom := &domain.Room{
		ID:             roomID,
		Name:           name,
		HostID:         host.UserID,
		HostProviderID: host.ProviderID,
		Members:        []domain.Member{host},
		Playback: domain.PlaybackState{
			IsPlaying:   false,
			PositionMs:  0,
			LastUpdated: now,
		},
		IsPublic:  isPublic,
		CreatedAt: now,
	}

	r.rooms[roomID] = newRoom
	r.hosts[host.UserID] = roomID
	r.members[host.UserID] = roomID

	return newRoom.Clone(), evicted, nil
}

// GetRoom 查询房间
func (r *Registry) GetRoom(roomID string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errors.ErrRoomNotFound
	}
	return room.Clone(), nil
}

// JoinRoom 加入房间
// 幂等：重复加入同一房间不产生重复成员。
// 若用户已在其他房间，先隐式退出，evicted返回该房间的离开结果。
func (r *Registry) JoinRoom(roomID string, member domain.Member) (room *domain.Room, evicted *LeaveResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.rooms[roomID]
	if !ok {
		return nil, nil, errors.ErrRoomNotFound
	}

	if prevID, joined := r.members[member.UserID]; joined {
		if prevID == roomID {
			// 已在该房间，no-op
			return target.Clone(), nil, nil
		}
		evicted = r.leaveLocked(prevID, member.UserID)
	}

	target.Members = append(target.Members, member)
	r.members[member.UserID] = roomID

	return target.Clone(), evicted, nil
}

// LeaveRoom 离开房间
// host离开或成员清空都会销毁房间
func (r *Registry) LeaveRoom(roomID, userID string) (*LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return nil, errors.ErrRoomNotFound
	}

	result := r.leaveLocked(roomID, userID)
	if result == nil {
		// 用户本就不在房间里
		return &LeaveResult{Room: r.rooms[roomID].Clone(), Ended: false}, nil
	}
	return result, nil
}

// leaveLocked 在持锁状态下执行离开逻辑
func (r *Registry) leaveLocked(roomID, userID string) *LeaveResult {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	idx := -1
	for i, m := range room.Members {
		if m.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	room.Members = append(room.Members[:idx], room.Members[idx+1:]...)
	delete(r.members, userID)

	if userID == room.HostID || len(room.Members) == 0 {
		snapshot := room.Clone()
		r.destroyLocked(room)
		return &LeaveResult{Room: snapshot, Ended: true}
	}

	return &LeaveResult{Room: room.Clone(), Ended: false}
}

// destroyLocked 销毁房间并清理索引
func (r *Registry) destroyLocked(room *domain.Room) {
	delete(r.rooms, room.ID)
	delete(r.hosts, room.HostID)
	for _, m := range room.Members {
		if r.members[m.UserID] == room.ID {
			delete(r.members, m.UserID)
		}
	}
}

// UpdatePlaybackState 合并更新播放状态并刷新LastUpdated
func (r *Registry) UpdatePlaybackState(roomID string, update PlaybackUpdate) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errors.ErrRoomNotFound
	}

	if update.IsPlaying != nil {
		room.Playback.IsPlaying = *update.IsPlaying
	}
	if update.PositionMs != nil {
		room.Playback.PositionMs = *update.PositionMs
	}
	room.Playback.LastUpdated = r.now()

	return room.Clone(), nil
}

// SetCurrentTrack 设置当前曲目
func (r *Registry) SetCurrentTrack(roomID string, track *domain.Track) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errors.ErrRoomNotFound
	}

	if track != nil {
		t := *track
		room.CurrentTrack = &t
	} else {
		room.CurrentTrack = nil
	}

	return room.Clone(), nil
}

// RoomOf 返回用户当前所在的房间ID
func (r *Registry) RoomOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.members[userID]
	return roomID, ok
}

// ListRooms 列出所有活跃房间快照
func (r *Registry) ListRooms() []*domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room.Clone())
	}
	return rooms
}

// IsLive 判断房间是否活跃
func (r *Registry) IsLive(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID]
	return ok
}

// Count 活跃房间数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
