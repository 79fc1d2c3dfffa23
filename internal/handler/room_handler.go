package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jamstream/server/internal/catalog"
	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/registry"
	"github.com/jamstream/server/internal/store"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/httputil"
	"github.com/jamstream/server/pkg/logger"
)

// Synchronizer 异步持久化入口
type Synchronizer interface {
	SyncRoom(roomID string, name string, tags []string, isPublic *bool)
	CleanupRoom(roomID string)
}

// Realtime 实时频道入口
type Realtime interface {
	Broadcast(roomID string, event *domain.ServerEvent)
	DropRoom(roomID string)
}

// RoomHandler 房间处理器
type RoomHandler struct {
	registry *registry.Registry
	records  store.RoomRecordRepository
	catalog  catalog.Client
	sync     Synchronizer
	realtime Realtime
	logger   logger.Logger
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(reg *registry.Registry, records store.RoomRecordRepository,
	cat catalog.Client, sync Synchronizer, realtime Realtime, log logger.Logger) *RoomHandler {
	return &RoomHandler{
		registry: reg,
		records:  records,
		catalog:  cat,
		sync:     sync,
		realtime: realtime,
		logger:   log,
	}
}

// CreateRoom 创建房间
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	claims := GetClaims(c)

	var req struct {
		RoomID   string   `json:"room_id"`
		Name     string   `json:"name" binding:"required"`
		IsPublic bool     `json:"is_public"`
		Tags     []string `json:"tags"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.New().String()
	}

	room, evicted, err := h.registry.CreateRoom(roomID, memberFromClaims(claims), req.Name, req.IsPublic)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	h.afterLeave(memberFromClaims(claims), evicted)

	h.sync.SyncRoom(roomID, req.Name, req.Tags, &req.IsPublic)

	h.logger.WithContext(c.Request.Context()).Info("room created",
		logger.String("room_id", roomID),
		logger.String("host_id", claims.UserID))
	httputil.SuccessResponse(c, room)
}

// JoinRoom 加入房间
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	room, evicted, err := h.registry.JoinRoom(roomID, memberFromClaims(claims))
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	h.afterLeave(memberFromClaims(claims), evicted)

	h.realtime.Broadcast(roomID, domain.NewServerEvent(domain.EventUserJoined, memberFromClaims(claims)))
	h.realtime.Broadcast(roomID, domain.NewServerEvent(domain.EventRoomState, room))
	h.sync.SyncRoom(roomID, "", nil, nil)

	httputil.SuccessResponse(c, room)
}

// LeaveRoom 离开房间
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	res, err := h.registry.LeaveRoom(roomID, claims.UserID)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	h.afterLeave(memberFromClaims(claims), res)

	httputil.SuccessResponse(c, gin.H{"ended": res.Ended})
}

// GetRoom 房间详情，在播时返回实时快照，否则返回镜像
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")

	if room, err := h.registry.GetRoom(roomID); err == nil {
		httputil.SuccessResponse(c, gin.H{"live": true, "room": room})
		return
	}

	record, err := h.records.Get(c.Request.Context(), roomID)
	if err != nil {
		if errors.IsError(err, errors.ErrNotFound) {
			err = errors.ErrRoomNotFound
		}
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"live": false, "record": record})
}

// GetHistory 房间历史曲目
func (h *RoomHandler) GetHistory(c *gin.Context) {
	roomID := c.Param("id")

	record, err := h.records.Get(c.Request.Context(), roomID)
	if err != nil {
		if errors.IsError(err, errors.ErrNotFound) {
			err = errors.ErrRoomNotFound
		}
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"room_id": roomID,
		"history": record.SongHistory,
	})
}

// ExportPlaylist 导出历史曲目为外部播放列表
func (h *RoomHandler) ExportPlaylist(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	var req struct {
		Name string `json:"name"`
	}
	// body可省略，默认用房间名
	_ = c.ShouldBindJSON(&req)

	record, err := h.records.Get(c.Request.Context(), roomID)
	if err != nil {
		if errors.IsError(err, errors.ErrNotFound) {
			err = errors.ErrRoomNotFound
		}
		httputil.ErrorResponse(c, err)
		return
	}
	if len(record.SongHistory) == 0 {
		httputil.ErrorResponse(c, errors.ErrValidationFailed.WithMessage("room has no song history"))
		return
	}

	name := req.Name
	if name == "" {
		name = record.Name
	}

	trackIDs := make([]string, 0, len(record.SongHistory))
	for _, entry := range record.SongHistory {
		trackIDs = append(trackIDs, entry.TrackID)
	}

	playlist, err := h.catalog.CreatePlaylist(c.Request.Context(), claims.ProviderToken, claims.ProviderUserID, name, trackIDs)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	h.logger.WithContext(c.Request.Context()).Info("playlist exported",
		logger.String("room_id", roomID),
		logger.String("playlist_id", playlist.ID),
		logger.Int("tracks", len(trackIDs)))
	httputil.SuccessResponse(c, playlist)
}

// afterLeave 离开或逐出后的广播与持久化
func (h *RoomHandler) afterLeave(member domain.Member, res *registry.LeaveResult) {
	if res == nil {
		return
	}
	if res.Ended {
		h.realtime.Broadcast(res.Room.ID, domain.NewServerEvent(domain.EventRoomEnded, nil))
		h.sync.CleanupRoom(res.Room.ID)
		h.realtime.DropRoom(res.Room.ID)
		return
	}
	h.realtime.Broadcast(res.Room.ID, domain.NewServerEvent(domain.EventUserLeft, member))
	h.realtime.Broadcast(res.Room.ID, domain.NewServerEvent(domain.EventRoomState, res.Room))
	h.sync.SyncRoom(res.Room.ID, "", nil, nil)
}
