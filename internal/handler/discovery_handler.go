package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jamstream/server/internal/discovery"
	"github.com/jamstream/server/pkg/httputil"
	"github.com/jamstream/server/pkg/logger"
)

// DiscoveryHandler 发现处理器
type DiscoveryHandler struct {
	service *discovery.Service
	logger  logger.Logger
}

// NewDiscoveryHandler 创建发现处理器
func NewDiscoveryHandler(service *discovery.Service, log logger.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		service: service,
		logger:  log,
	}
}

func discoveryQuery(c *gin.Context) discovery.Query {
	q := discovery.Query{
		ViewerID:    c.GetString("user_id"),
		Search:      c.Query("search"),
		FriendsOnly: c.Query("friends") == "true",
	}
	if tags := c.Query("tags"); tags != "" {
		q.Tags = strings.Split(tags, ",")
	}
	return q
}

// LiveRooms 当前在播的公开房间
func (h *DiscoveryHandler) LiveRooms(c *gin.Context) {
	rooms, err := h.service.LiveRooms(c.Request.Context(), discoveryQuery(c))
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"rooms": rooms, "count": len(rooms)})
}

// RecentlyEnded 最近结束的公开房间
func (h *DiscoveryHandler) RecentlyEnded(c *gin.Context) {
	rooms, err := h.service.RecentlyEnded(c.Request.Context(), discoveryQuery(c))
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"rooms": rooms, "count": len(rooms)})
}

// PopularTags 热门标签
func (h *DiscoveryHandler) PopularTags(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	tags, err := h.service.PopularTags(c.Request.Context(), limit)
	if err != nil {
		httputil.ErrorResponse(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"tags": tags})
}
