package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamstream/server/pkg/httputil"
	"github.com/jamstream/server/pkg/jwt"
	"github.com/jamstream/server/pkg/logger"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	JWTManager *jwt.Manager
	Room       *RoomHandler
	Playback   *PlaybackHandler
	Discovery  *DiscoveryHandler
	WS         *WSHandler
	Health     *HealthHandler
	Logger     logger.Logger
}

// NewRouter 组装gin路由
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httputil.RequestIDMiddleware())
	router.Use(httputil.CORSMiddleware())

	router.GET("/health", deps.Health.Health)

	auth := Auth(deps.JWTManager, deps.Logger)
	limiter := NewRateLimiter(120, time.Minute)

	api := router.Group("/api/jam")
	api.Use(auth)
	api.Use(RateLimit(limiter))
	{
		api.GET("/ws", deps.WS.HandleWebSocket)
		api.GET("/ws/stats", deps.WS.GetStats)

		rooms := api.Group("/rooms")
		{
			rooms.POST("", deps.Room.CreateRoom)
			rooms.GET("/:id", deps.Room.GetRoom)
			rooms.POST("/:id/join", deps.Room.JoinRoom)
			rooms.POST("/:id/leave", deps.Room.LeaveRoom)
			rooms.GET("/:id/history", deps.Room.GetHistory)
			rooms.POST("/:id/export", deps.Room.ExportPlaylist)

			rooms.POST("/:id/play", deps.Playback.Play)
			rooms.POST("/:id/pause", deps.Playback.Pause)
			rooms.POST("/:id/seek", deps.Playback.Seek)
		}

		player := api.Group("/player")
		{
			player.GET("/devices", deps.Playback.ListDevices)
			player.PUT("/play", deps.Playback.DevicePlay)
			player.PUT("/pause", deps.Playback.DevicePause)
			player.PUT("/seek", deps.Playback.DeviceSeek)
		}

		api.GET("/search/tracks", deps.Playback.SearchTracks)

		disc := api.Group("/discovery")
		{
			disc.GET("/live", deps.Discovery.LiveRooms)
			disc.GET("/recently-ended", deps.Discovery.RecentlyEnded)
		}

		api.GET("/tags/popular", deps.Discovery.PopularTags)
	}

	return router
}
