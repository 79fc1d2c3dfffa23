package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
	"github.com/jamstream/server/pkg/rediskit"
)

// ===== 测试替身 =====

type fakeRooms struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: make(map[string]*domain.Room)}
}

func (f *fakeRooms) GetRoom(roomID string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, errors.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (f *fakeRooms) IsLive(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[roomID]
	return ok
}

func (f *fakeRooms) put(room *domain.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room.ID] = room
}

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*domain.RoomRecord
	failing bool
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]*domain.RoomRecord)}
}

func (f *fakeRecords) Get(ctx context.Context, roomID string) (*domain.RoomRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.ErrDatabaseError
	}
	record, ok := f.records[roomID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (f *fakeRecords) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.ErrDatabaseError
	}
	clone := *record
	if existing, ok := f.records[record.RoomID]; ok {
		clone.SongHistory = existing.SongHistory
	}
	f.records[record.RoomID] = &clone
	return nil
}

func (f *fakeRecords) UpdateHistory(ctx context.Context, roomID string, history []domain.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.ErrDatabaseError
	}
	record, ok := f.records[roomID]
	if !ok {
		return errors.ErrNotFound
	}
	record.SongHistory = history
	return nil
}

func (f *fakeRecords) TouchLastActive(ctx context.Context, roomID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.ErrDatabaseError
	}
	record, ok := f.records[roomID]
	if !ok {
		return errors.ErrNotFound
	}
	record.LastActive = at
	return nil
}

func (f *fakeRecords) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return nil, nil
}

func (f *fakeRecords) ListEndedSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return nil, nil
}

func (f *fakeRecords) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeRecords) get(roomID string) *domain.RoomRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[roomID]
}

type fakeTags struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeTags() *fakeTags {
	return &fakeTags{counts: make(map[string]int64)}
}

func (f *fakeTags) Upsert(ctx context.Context, name, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name]++
	return nil
}

func (f *fakeTags) Popular(ctx context.Context, limit int) ([]domain.Tag, error) {
	return nil, nil
}

type fakeUsers struct {
	byProvider map[string]*domain.User
}

func (f *fakeUsers) GetByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	user, ok := f.byProvider[providerID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return user, nil
}

// ===== 脚手架 =====

type fixture struct {
	svc     *Service
	rooms   *fakeRooms
	records *fakeRecords
	tags    *fakeTags
	users   *fakeUsers
	redis   *redis.Client
	mr      *miniredis.Miniredis
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rooms := newFakeRooms()
	records := newFakeRecords()
	tags := newFakeTags()
	users := &fakeUsers{byProvider: map[string]*domain.User{
		"sp_alice": {ID: "alice", ProviderID: "sp_alice"},
		"sp_bob":   {ID: "bob", ProviderID: "sp_bob"},
	}}

	svc := New(rooms, records, tags, users, client, logger.Default())
	return &fixture{svc: svc, rooms: rooms, records: records, tags: tags, users: users, redis: client, mr: mr}
}

func testRoom(id string) *domain.Room {
	return &domain.Room{
		ID:             id,
		Name:           "Room " + id,
		HostID:         "alice",
		HostProviderID: "sp_alice",
		Members: []domain.Member{
			{UserID: "alice", ProviderID: "sp_alice"},
			{UserID: "bob", ProviderID: "sp_bob"},
		},
		IsPublic:  true,
		CreatedAt: time.Now(),
	}
}

// ===== 同步逻辑 =====

func TestSyncRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("lazily creates record", func(t *testing.T) {
		f := setup(t)
		f.rooms.put(testRoom("r1"))

		err := f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"})
		require.NoError(t, err)

		record := f.records.get("r1")
		require.NotNil(t, record)
		assert.Equal(t, "alice", record.HostID)
		assert.ElementsMatch(t, []string{"alice", "bob"}, record.Participants)
		assert.False(t, record.LastActive.IsZero())
	})

	t.Run("skips silently when host unresolvable", func(t *testing.T) {
		f := setup(t)
		room := testRoom("r1")
		room.HostProviderID = "sp_unknown"
		f.rooms.put(room)

		err := f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"})
		require.NoError(t, err)
		assert.Nil(t, f.records.get("r1"))
	})

	t.Run("drops unresolvable members from snapshot only", func(t *testing.T) {
		f := setup(t)
		room := testRoom("r1")
		room.Members = append(room.Members, domain.Member{UserID: "ghost", ProviderID: "sp_ghost"})
		f.rooms.put(room)

		err := f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"})
		require.NoError(t, err)

		record := f.records.get("r1")
		require.NotNil(t, record)
		assert.ElementsMatch(t, []string{"alice", "bob"}, record.Participants)
		// 内存态不受影响
		live, err := f.rooms.GetRoom("r1")
		require.NoError(t, err)
		assert.Len(t, live.Members, 3)
	})

	t.Run("normalizes and upserts tags", func(t *testing.T) {
		f := setup(t)
		f.rooms.put(testRoom("r1"))

		err := f.svc.syncRoom(ctx, job{
			kind:   jobSyncRoom,
			roomID: "r1",
			tags:   []string{"Lo-Fi ", "STUDY!!", "lo-fi"},
		})
		require.NoError(t, err)

		record := f.records.get("r1")
		require.NotNil(t, record)
		assert.Equal(t, []string{"lo-fi"}, record.Tags)
		assert.Equal(t, int64(1), f.tags.counts["lo-fi"])
		assert.Zero(t, f.tags.counts["study!!"])
	})

	t.Run("noop when room already gone", func(t *testing.T) {
		f := setup(t)
		err := f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "gone"})
		assert.NoError(t, err)
	})
}

func TestAppendHistory(t *testing.T) {
	ctx := context.Background()

	track := func(id string) *domain.Track {
		return &domain.Track{ID: id, Name: "Track " + id, Artist: "Artist", DurationMs: 200000}
	}

	seed := func(f *fixture) {
		f.rooms.put(testRoom("r1"))
		require.NoError(t, f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"}))
	}

	t.Run("appends with resolved player", func(t *testing.T) {
		f := setup(t)
		seed(f)

		err := f.svc.appendHistory(ctx, job{roomID: "r1", track: track("t1"), playedByProvider: "sp_alice"})
		require.NoError(t, err)

		record := f.records.get("r1")
		require.Len(t, record.SongHistory, 1)
		assert.Equal(t, "t1", record.SongHistory[0].TrackID)
		assert.Equal(t, "alice", record.SongHistory[0].PlayedBy)
	})

	t.Run("deduplicates consecutive same track", func(t *testing.T) {
		f := setup(t)
		seed(f)

		for i := 0; i < 3; i++ {
			err := f.svc.appendHistory(ctx, job{roomID: "r1", track: track("t1"), playedByProvider: "sp_alice"})
			require.NoError(t, err)
		}
		err := f.svc.appendHistory(ctx, job{roomID: "r1", track: track("t2"), playedByProvider: "sp_alice"})
		require.NoError(t, err)
		err = f.svc.appendHistory(ctx, job{roomID: "r1", track: track("t1"), playedByProvider: "sp_alice"})
		require.NoError(t, err)

		record := f.records.get("r1")
		require.Len(t, record.SongHistory, 3)
		assert.Equal(t, "t1", record.SongHistory[0].TrackID)
		assert.Equal(t, "t2", record.SongHistory[1].TrackID)
		assert.Equal(t, "t1", record.SongHistory[2].TrackID)
	})

	t.Run("bounded to newest 100", func(t *testing.T) {
		f := setup(t)
		seed(f)

		for i := 1; i <= 105; i++ {
			err := f.svc.appendHistory(ctx, job{roomID: "r1", track: track(fmt.Sprintf("t%d", i)), playedByProvider: "sp_alice"})
			require.NoError(t, err)
		}

		record := f.records.get("r1")
		require.Len(t, record.SongHistory, 100)
		assert.Equal(t, "t6", record.SongHistory[0].TrackID)
		assert.Equal(t, "t105", record.SongHistory[99].TrackID)
	})

	t.Run("dropped when record missing", func(t *testing.T) {
		f := setup(t)
		err := f.svc.appendHistory(ctx, job{roomID: "nope", track: track("t1")})
		assert.NoError(t, err)
	})
}

func TestCleanupRoom(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.rooms.put(testRoom("r1"))
	require.NoError(t, f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"}))
	require.NoError(t, f.svc.appendHistory(ctx, job{roomID: "r1", track: &domain.Track{ID: "t1"}}))

	before := f.records.get("r1").LastActive
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, f.svc.cleanupRoom(ctx, "r1"))

	record := f.records.get("r1")
	// 仅刷新lastActive，历史保留
	assert.True(t, record.LastActive.After(before))
	assert.Len(t, record.SongHistory, 1)
}

// ===== 失败重试 =====

func TestRetryOnFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.rooms.put(testRoom("r1"))

	// 第一次写入失败，房间进入待重试集合
	f.records.setFailing(true)
	f.svc.process(ctx, job{kind: jobSyncRoom, roomID: "r1"})

	pending, err := f.redis.SMembers(ctx, rediskit.SyncPendingKey()).Result()
	require.NoError(t, err)
	assert.Contains(t, pending, "r1")

	// 存储恢复后，定时flush清空待重试集合
	f.records.setFailing(false)
	f.svc.FlushPending(ctx)

	pending, err = f.redis.SMembers(ctx, rediskit.SyncPendingKey()).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.NotNil(t, f.records.get("r1"))
}

func TestRetryEndedRoomTouchesRecord(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.rooms.put(testRoom("r1"))
	require.NoError(t, f.svc.syncRoom(ctx, job{kind: jobSyncRoom, roomID: "r1"}))

	// 房间结束后标记待重试
	f.rooms.mu.Lock()
	delete(f.rooms.rooms, "r1")
	f.rooms.mu.Unlock()
	require.NoError(t, f.redis.SAdd(ctx, rediskit.SyncPendingKey(), "r1").Err())

	f.svc.FlushPending(ctx)

	pending, err := f.redis.SMembers(ctx, rediskit.SyncPendingKey()).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// ===== 标签规范化 =====

func TestNormalizeTags(t *testing.T) {
	t.Run("lowercases trims and dedupes", func(t *testing.T) {
		got := NormalizeTags([]string{"Lo-Fi ", "STUDY!!", "lo-fi"})
		assert.Equal(t, []string{"lo-fi"}, got)
	})

	t.Run("drops invalid characters and overlong tags", func(t *testing.T) {
		got := NormalizeTags([]string{"chill", "émo", "this-tag-name-is-way-too-long", "jazz & blues", "hip hop"})
		assert.Equal(t, []string{"chill", "hip hop"}, got)
	})

	t.Run("caps at five candidates", func(t *testing.T) {
		got := NormalizeTags([]string{"a", "b", "c", "d", "e", "f", "g"})
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, NormalizeTags(nil))
		assert.Empty(t, NormalizeTags([]string{"", "   "}))
	})
}
