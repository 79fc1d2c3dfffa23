package playback

import (
	"context"
	"time"

	"github.com/jamstream/server/internal/catalog"
	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/registry"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
)

// Rooms 控制器所需的注册表操作子集
type Rooms interface {
	GetRoom(roomID string) (*domain.Room, error)
	UpdatePlaybackState(roomID string, update registry.PlaybackUpdate) (*domain.Room, error)
	SetCurrentTrack(roomID string, track *domain.Track) (*domain.Room, error)
}

// Sink 异步持久化入口
type Sink interface {
	SyncRoom(roomID string, name string, tags []string, isPublic *bool)
	AppendHistory(roomID string, track *domain.Track, playedByProvider string)
}

// Broadcaster 房间广播入口
type Broadcaster interface {
	Broadcast(roomID string, event *domain.ServerEvent)
}

// Issuer 发起指令的连接身份
type Issuer struct {
	UserID      string
	ProviderID  string
	AccessToken string
}

// Controller 播放控制器
// 所有传输指令仅host可发，注册表状态为唯一权威
type Controller struct {
	rooms     Rooms
	catalog   catalog.Client
	sink      Sink
	broadcast Broadcaster
	logger    logger.Logger
}

func New(rooms Rooms, cat catalog.Client, sink Sink, broadcast Broadcaster, log logger.Logger) *Controller {
	return &Controller{
		rooms:     rooms,
		catalog:   cat,
		sink:      sink,
		broadcast: broadcast,
		logger:    log,
	}
}

// Play host开始播放
// trackID非空时先经目录服务补全元数据，补全失败不阻塞指令
func (c *Controller) Play(ctx context.Context, issuer Issuer, roomID, trackID string, positionMs int64) (*domain.Room, error) {
	if positionMs < 0 {
		return nil, errors.ErrValidationFailed.WithMessage("position_ms must be non-negative")
	}
	if _, err := c.hostRoom(roomID, issuer.UserID); err != nil {
		return nil, err
	}

	var resolved *domain.Track
	if trackID != "" {
		track, err := c.catalog.GetTrack(ctx, issuer.AccessToken, trackID)
		if err != nil {
			c.logger.Warn("track enrichment failed",
				logger.String("room_id", roomID),
				logger.String("track_id", trackID),
				logger.Error(err))
			track = &domain.Track{ID: trackID}
		} else {
			resolved = track
		}
		if _, err := c.rooms.SetCurrentTrack(roomID, track); err != nil {
			return nil, err
		}
	}

	isPlaying := true
	room, err := c.rooms.UpdatePlaybackState(roomID, registry.PlaybackUpdate{
		IsPlaying:  &isPlaying,
		PositionMs: &positionMs,
	})
	if err != nil {
		return nil, err
	}

	// 仅补全成功的曲目进入历史，避免记录无元数据的裸ID
	if resolved != nil {
		c.sink.AppendHistory(roomID, resolved, issuer.ProviderID)
	}
	c.sink.SyncRoom(roomID, "", nil, nil)

	c.emit(roomID, domain.EventPlaybackPlay, &domain.PlaybackEventPayload{
		TrackID:         trackID,
		PositionMs:      positionMs,
		ServerTimestamp: room.Playback.LastUpdated,
	})
	c.emitRoomState(room)
	return room, nil
}

// Pause host暂停播放
func (c *Controller) Pause(roomID string, issuer Issuer, positionMs int64) (*domain.Room, error) {
	if positionMs < 0 {
		return nil, errors.ErrValidationFailed.WithMessage("position_ms must be non-negative")
	}
	if _, err := c.hostRoom(roomID, issuer.UserID); err != nil {
		return nil, err
	}

	isPlaying := false
	room, err := c.rooms.UpdatePlaybackState(roomID, registry.PlaybackUpdate{
		IsPlaying:  &isPlaying,
		PositionMs: &positionMs,
	})
	if err != nil {
		return nil, err
	}

	c.emit(roomID, domain.EventPlaybackPause, &domain.PlaybackEventPayload{
		PositionMs:      positionMs,
		ServerTimestamp: room.Playback.LastUpdated,
	})
	c.emitRoomState(room)
	return room, nil
}

// Seek host调整进度，isPlaying保持不变
func (c *Controller) Seek(roomID string, issuer Issuer, positionMs int64) (*domain.Room, error) {
	if positionMs < 0 {
		return nil, errors.ErrValidationFailed.WithMessage("position_ms must be non-negative")
	}
	if _, err := c.hostRoom(roomID, issuer.UserID); err != nil {
		return nil, err
	}

	room, err := c.rooms.UpdatePlaybackState(roomID, registry.PlaybackUpdate{
		PositionMs: &positionMs,
	})
	if err != nil {
		return nil, err
	}

	c.emit(roomID, domain.EventPlaybackSeek, &domain.PlaybackEventPayload{
		PositionMs:      positionMs,
		ServerTimestamp: room.Playback.LastUpdated,
	})
	c.emitRoomState(room)
	return room, nil
}

// TrackChange host换曲，不重置进度
func (c *Controller) TrackChange(roomID string, issuer Issuer, track *domain.Track) (*domain.Room, error) {
	if track == nil || track.ID == "" {
		return nil, errors.ErrValidationFailed.WithMessage("track is required")
	}
	if _, err := c.hostRoom(roomID, issuer.UserID); err != nil {
		return nil, err
	}

	room, err := c.rooms.SetCurrentTrack(roomID, track)
	if err != nil {
		return nil, err
	}

	c.sink.SyncRoom(roomID, "", nil, nil)

	c.emit(roomID, domain.EventTrackChanged, &domain.TrackChangedPayload{
		Track:           track,
		ServerTimestamp: time.Now(),
	})
	return room, nil
}

// hostRoom 校验发起者是房间host
func (c *Controller) hostRoom(roomID, userID string) (*domain.Room, error) {
	room, err := c.rooms.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != userID {
		return nil, errors.ErrNotHost
	}
	return room, nil
}

func (c *Controller) emit(roomID string, eventType domain.EventType, data interface{}) {
	c.broadcast.Broadcast(roomID, domain.NewServerEvent(eventType, data))
}

func (c *Controller) emitRoomState(room *domain.Room) {
	c.broadcast.Broadcast(room.ID, domain.NewServerEvent(domain.EventRoomState, room))
}

// ExtrapolatedPosition 漂移校正：isPlaying时显示进度为
// positionMs + (now - lastUpdated)，收敛至[0, durationMs]
func ExtrapolatedPosition(state domain.PlaybackState, track *domain.Track, now time.Time) int64 {
	pos := state.PositionMs
	if state.IsPlaying {
		pos += now.Sub(state.LastUpdated).Milliseconds()
	}
	if pos < 0 {
		pos = 0
	}
	if track != nil && track.DurationMs > 0 && pos > track.DurationMs {
		pos = track.DurationMs
	}
	return pos
}
