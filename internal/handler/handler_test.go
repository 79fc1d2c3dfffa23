package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamstream/server/internal/catalog"
	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/registry"
	"github.com/jamstream/server/internal/store"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/jwt"
	"github.com/jamstream/server/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSync struct {
	syncs    []string
	cleanups []string
}

func (f *fakeSync) SyncRoom(roomID string, name string, tags []string, isPublic *bool) {
	f.syncs = append(f.syncs, roomID)
}

func (f *fakeSync) CleanupRoom(roomID string) {
	f.cleanups = append(f.cleanups, roomID)
}

type fakeRealtime struct {
	events  []*domain.ServerEvent
	dropped []string
}

func (f *fakeRealtime) Broadcast(roomID string, event *domain.ServerEvent) {
	f.events = append(f.events, event)
}

func (f *fakeRealtime) DropRoom(roomID string) {
	f.dropped = append(f.dropped, roomID)
}

type fakeRecords struct {
	records map[string]*domain.RoomRecord
}

func (f *fakeRecords) Get(ctx context.Context, roomID string) (*domain.RoomRecord, error) {
	record, ok := f.records[roomID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return record, nil
}

func (f *fakeRecords) Upsert(ctx context.Context, record *domain.RoomRecord) error { return nil }

func (f *fakeRecords) UpdateHistory(ctx context.Context, roomID string, history []domain.HistoryEntry) error {
	return nil
}

func (f *fakeRecords) TouchLastActive(ctx context.Context, roomID string, at time.Time) error {
	return nil
}

func (f *fakeRecords) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return nil, nil
}

func (f *fakeRecords) ListEndedSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return nil, nil
}

type fakeCatalog struct {
	playlist *catalog.Playlist
}

func (f *fakeCatalog) GetTrack(ctx context.Context, accessToken, trackID string) (*domain.Track, error) {
	return nil, errors.ErrTrackNotFound
}

func (f *fakeCatalog) SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]domain.Track, error) {
	return []domain.Track{{ID: "t1", Name: "Song"}}, nil
}

func (f *fakeCatalog) ListDevices(ctx context.Context, accessToken string) ([]catalog.Device, error) {
	return nil, nil
}

func (f *fakeCatalog) Play(ctx context.Context, accessToken, trackID string, positionMs int64) error {
	return errors.ErrNoDevice
}

func (f *fakeCatalog) Pause(ctx context.Context, accessToken string) error { return nil }

func (f *fakeCatalog) Seek(ctx context.Context, accessToken string, positionMs int64) error {
	return nil
}

func (f *fakeCatalog) CreatePlaylist(ctx context.Context, accessToken, providerUserID, name string, trackIDs []string) (*catalog.Playlist, error) {
	f.playlist = &catalog.Playlist{ID: "pl1", Name: name, TrackCount: len(trackIDs)}
	return f.playlist, nil
}

var _ store.RoomRecordRepository = (*fakeRecords)(nil)

type testEnv struct {
	router   *gin.Engine
	manager  *jwt.Manager
	registry *registry.Registry
	sync     *fakeSync
	realtime *fakeRealtime
	records  *fakeRecords
	catalog  *fakeCatalog
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	manager := jwt.NewManager(&jwt.Config{Secret: "test-secret", Issuer: "jamstream"})
	reg := registry.New()
	sync := &fakeSync{}
	realtime := &fakeRealtime{}
	records := &fakeRecords{records: make(map[string]*domain.RoomRecord)}
	cat := &fakeCatalog{}
	log := logger.Default()

	roomHandler := NewRoomHandler(reg, records, cat, sync, realtime, log)

	router := gin.New()
	api := router.Group("/api/jam", Auth(manager, log))
	api.POST("/rooms", roomHandler.CreateRoom)
	api.GET("/rooms/:id", roomHandler.GetRoom)
	api.POST("/rooms/:id/join", roomHandler.JoinRoom)
	api.POST("/rooms/:id/leave", roomHandler.LeaveRoom)
	api.GET("/rooms/:id/history", roomHandler.GetHistory)
	api.POST("/rooms/:id/export", roomHandler.ExportPlaylist)

	return &testEnv{
		router:   router,
		manager:  manager,
		registry: reg,
		sync:     sync,
		realtime: realtime,
		records:  records,
		catalog:  cat,
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.manager.GenerateToken(&jwt.Claims{
		UserID:         userID,
		DisplayName:    userID,
		ProviderUserID: "sp_" + userID,
		ProviderToken:  "tok_" + userID,
	})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	env := newEnv(t)

	t.Run("missing token rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms", "", gin.H{"name": "Room"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms", "not-a-token", gin.H{"name": "Room"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("query param token accepted", func(t *testing.T) {
		token := env.token(t, "alice")
		rec := env.do(t, http.MethodPost, "/api/jam/rooms?token="+token, "", gin.H{"name": "Room", "room_id": "r-q"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateRoom(t *testing.T) {
	t.Run("creates room with supplied id", func(t *testing.T) {
		env := newEnv(t)
		rec := env.do(t, http.MethodPost, "/api/jam/rooms", env.token(t, "alice"), gin.H{
			"room_id":   "r1",
			"name":      "Lofi Night",
			"is_public": true,
			"tags":      []string{"lo-fi"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		room, err := env.registry.GetRoom("r1")
		require.NoError(t, err)
		assert.Equal(t, "alice", room.HostID)
		assert.Equal(t, []string{"r1"}, env.sync.syncs)
	})

	t.Run("missing name rejected", func(t *testing.T) {
		env := newEnv(t)
		rec := env.do(t, http.MethodPost, "/api/jam/rooms", env.token(t, "alice"), gin.H{"room_id": "r1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("double hosting conflicts", func(t *testing.T) {
		env := newEnv(t)
		token := env.token(t, "alice")
		rec := env.do(t, http.MethodPost, "/api/jam/rooms", token, gin.H{"room_id": "r1", "name": "One"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/jam/rooms", token, gin.H{"room_id": "r2", "name": "Two"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestJoinLeaveRoom(t *testing.T) {
	env := newEnv(t)
	hostToken := env.token(t, "alice")
	memberToken := env.token(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/jam/rooms", hostToken, gin.H{"room_id": "r1", "name": "Room"})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("join broadcasts and syncs", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms/r1/join", memberToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		room, err := env.registry.GetRoom("r1")
		require.NoError(t, err)
		assert.True(t, room.HasMember("bob"))

		types := make([]domain.EventType, 0, len(env.realtime.events))
		for _, e := range env.realtime.events {
			types = append(types, e.Type)
		}
		assert.Contains(t, types, domain.EventUserJoined)
		assert.Contains(t, types, domain.EventRoomState)
	})

	t.Run("join missing room is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms/nope/join", memberToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("host leave ends room", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms/r1/leave", hostToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, env.registry.IsLive("r1"))
		assert.Equal(t, []string{"r1"}, env.sync.cleanups)
		assert.Equal(t, []string{"r1"}, env.realtime.dropped)
	})
}

func TestRoomDetailsAndExport(t *testing.T) {
	env := newEnv(t)
	token := env.token(t, "alice")

	env.records.records["ended"] = &domain.RoomRecord{
		RoomID: "ended",
		Name:   "Ended Room",
		SongHistory: []domain.HistoryEntry{
			{TrackID: "t1", Name: "First"},
			{TrackID: "t2", Name: "Second"},
		},
	}

	t.Run("details fall back to durable record", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jam/rooms/ended", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"live":false`)
	})

	t.Run("unknown room is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jam/rooms/nope", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("history returned from record", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jam/rooms/ended/history", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"t2"`)
	})

	t.Run("export creates playlist from history", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jam/rooms/ended/export", token, gin.H{"name": "My Export"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, env.catalog.playlist)
		assert.Equal(t, "My Export", env.catalog.playlist.Name)
		assert.Equal(t, 2, env.catalog.playlist.TrackCount)
	})

	t.Run("export without history rejected", func(t *testing.T) {
		env.records.records["empty"] = &domain.RoomRecord{RoomID: "empty", Name: "Empty"}
		rec := env.do(t, http.MethodPost, "/api/jam/rooms/empty/export", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows within window", func(t *testing.T) {
		limiter := NewRateLimiter(3, time.Minute)
		assert.True(t, limiter.Allow("u1"))
		assert.True(t, limiter.Allow("u1"))
		assert.True(t, limiter.Allow("u1"))
		assert.False(t, limiter.Allow("u1"))
		// 不同客户端互不影响
		assert.True(t, limiter.Allow("u2"))
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewRateLimiter(1, 10*time.Millisecond)
		assert.True(t, limiter.Allow("u1"))
		assert.False(t, limiter.Allow("u1"))
		time.Sleep(15 * time.Millisecond)
		assert.True(t, limiter.Allow("u1"))
	})
}
