package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jamstream/server/internal/catalog"
	"github.com/jamstream/server/internal/playback"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/httputil"
	"github.com/jamstream/server/pkg/jwt"
	"github.com/jamstream/server/pkg/logger"
)

// PlaybackHandler 播放处理器
// 房间传输指令走控制器并广播；设备控制指令直达目录服务，
// 失败原样回传给调用者
type PlaybackHandler struct {
	controller *playback.Controller
	catalog    catalog.Client
	logger     logger.Logger
}

// NewPlaybackHandler 创建播放处理器
func NewPlaybackHandler(controller *playback.Controller, cat catalog.Client, log logger.Logger) *PlaybackHandler {
	return &PlaybackHandler{
		controller: controller,
		catalog:    cat,
		logger:     log,
	}
}

func issuerFromClaims(claims *jwt.Claims) playback.Issuer {
	return playback.Issuer{
		UserID:      claims.UserID,
		ProviderID:  claims.ProviderUserID,
		AccessToken: claims.ProviderToken,
	}
}

// Play host开始播放
func (h *PlaybackHandler) Play(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	var req struct {
		TrackID    string `json:"track_id"`
		PositionMs int64  `json:"position_ms"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	room, err := h.controller.Play(c.Request.Context(), issuerFromClaims(claims), roomID, req.TrackID, req.PositionMs)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, room)
}

// Pause host暂停播放
func (h *PlaybackHandler) Pause(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	var req struct {
		PositionMs int64 `json:"position_ms"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	room, err := h.controller.Pause(roomID, issuerFromClaims(claims), req.PositionMs)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, room)
}

// Seek host调整进度
func (h *PlaybackHandler) Seek(c *gin.Context) {
	claims := GetClaims(c)
	roomID := c.Param("id")

	var req struct {
		PositionMs int64 `json:"position_ms"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	room, err := h.controller.Seek(roomID, issuerFromClaims(claims), req.PositionMs)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, room)
}

// SearchTracks 曲目搜索
func (h *PlaybackHandler) SearchTracks(c *gin.Context) {
	claims := GetClaims(c)

	query := c.Query("q")
	if query == "" {
		httputil.ErrorResponse(c, errors.ErrValidationFailed.WithMessage("q is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	tracks, err := h.catalog.SearchTracks(c.Request.Context(), claims.ProviderToken, query, limit)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"tracks": tracks})
}

// ListDevices 可用播放设备
func (h *PlaybackHandler) ListDevices(c *gin.Context) {
	claims := GetClaims(c)

	devices, err := h.catalog.ListDevices(c.Request.Context(), claims.ProviderToken)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"devices": devices})
}

// DevicePlay 指挥调用者自己的设备播放
// 设备控制失败必须回传，指令的主效果未发生
func (h *PlaybackHandler) DevicePlay(c *gin.Context) {
	claims := GetClaims(c)

	var req struct {
		TrackID    string `json:"track_id" binding:"required"`
		PositionMs int64  `json:"position_ms"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	if err := h.catalog.Play(c.Request.Context(), claims.ProviderToken, req.TrackID, req.PositionMs); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"status": "playing"})
}

// DevicePause 暂停调用者的设备
func (h *PlaybackHandler) DevicePause(c *gin.Context) {
	claims := GetClaims(c)

	if err := h.catalog.Pause(c.Request.Context(), claims.ProviderToken); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"status": "paused"})
}

// DeviceSeek 调整调用者设备的进度
func (h *PlaybackHandler) DeviceSeek(c *gin.Context) {
	claims := GetClaims(c)

	var req struct {
		PositionMs int64 `json:"position_ms"`
	}
	if err := httputil.BindAndValidate(c, &req); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}

	if err := h.catalog.Seek(c.Request.Context(), claims.ProviderToken, req.PositionMs); err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"status": "seeked"})
}
