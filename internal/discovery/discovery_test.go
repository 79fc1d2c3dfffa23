package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
)

type fakeRecords struct {
	active []*domain.RoomRecord
	ended  []*domain.RoomRecord
}

func (f *fakeRecords) Get(ctx context.Context, roomID string) (*domain.RoomRecord, error) {
	return nil, errors.ErrNotFound
}

func (f *fakeRecords) Upsert(ctx context.Context, record *domain.RoomRecord) error { return nil }

func (f *fakeRecords) UpdateHistory(ctx context.Context, roomID string, history []domain.HistoryEntry) error {
	return nil
}

func (f *fakeRecords) TouchLastActive(ctx context.Context, roomID string, at time.Time) error {
	return nil
}

func (f *fakeRecords) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return f.active, nil
}

func (f *fakeRecords) ListEndedSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	return f.ended, nil
}

type fakeTags struct {
	popular []domain.Tag
	calls   int
}

func (f *fakeTags) Upsert(ctx context.Context, name, category string) error { return nil }

func (f *fakeTags) Popular(ctx context.Context, limit int) ([]domain.Tag, error) {
	f.calls++
	if limit < len(f.popular) {
		return f.popular[:limit], nil
	}
	return f.popular, nil
}

type fakeFollows struct {
	following map[string][]string
}

func (f *fakeFollows) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	return f.following[userID], nil
}

type fakeLiveness struct {
	rooms map[string]*domain.Room
}

func (f *fakeLiveness) GetRoom(roomID string) (*domain.Room, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, errors.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeLiveness) IsLive(roomID string) bool {
	_, ok := f.rooms[roomID]
	return ok
}

func record(roomID, name string, participants []string, tags ...string) *domain.RoomRecord {
	return &domain.RoomRecord{
		RoomID:       roomID,
		Name:         name,
		HostID:       "host",
		IsPublic:     true,
		Tags:         tags,
		Participants: participants,
		LastActive:   time.Now(),
	}
}

func newService(records *fakeRecords, live *fakeLiveness, follows *fakeFollows, tags *fakeTags) *Service {
	if follows == nil {
		follows = &fakeFollows{}
	}
	if tags == nil {
		tags = &fakeTags{}
	}
	return New(records, tags, follows, live, nil, logger.Default())
}

func TestLiveRooms(t *testing.T) {
	ctx := context.Background()

	t.Run("registry liveness is ground truth", func(t *testing.T) {
		records := &fakeRecords{active: []*domain.RoomRecord{
			record("r1", "Lofi Night", []string{"u1", "u2"}),
			record("r2", "Stale Mirror", []string{"u3"}),
		}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{
			"r1": {ID: "r1", Members: []domain.Member{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}}},
		}}

		out, err := newService(records, live, nil, nil).LiveRooms(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r1", out[0].RoomID)
		assert.True(t, out[0].IsLive)
		// 成员数以注册表实时值为准
		assert.Equal(t, 3, out[0].ParticipantCount)
	})

	t.Run("live enrichment prefers registry track", func(t *testing.T) {
		rec := record("r1", "Room", []string{"u1"})
		rec.CurrentTrack = &domain.Track{ID: "old"}
		records := &fakeRecords{active: []*domain.RoomRecord{rec}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{
			"r1": {ID: "r1", CurrentTrack: &domain.Track{ID: "fresh"}, Members: []domain.Member{{UserID: "u1"}}},
		}}

		out, err := newService(records, live, nil, nil).LiveRooms(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "fresh", out[0].CurrentTrack.ID)
	})

	t.Run("empty participant snapshot excluded", func(t *testing.T) {
		records := &fakeRecords{active: []*domain.RoomRecord{record("r1", "Room", nil)}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{"r1": {ID: "r1"}}}

		out, err := newService(records, live, nil, nil).LiveRooms(ctx, Query{})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("search and tag filters", func(t *testing.T) {
		records := &fakeRecords{active: []*domain.RoomRecord{
			record("r1", "Lofi Night", []string{"u1"}, "lo-fi"),
			record("r2", "Jazz Corner", []string{"u2"}, "jazz"),
		}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{
			"r1": {ID: "r1", Members: []domain.Member{{UserID: "u1"}}},
			"r2": {ID: "r2", Members: []domain.Member{{UserID: "u2"}}},
		}}
		svc := newService(records, live, nil, nil)

		out, err := svc.LiveRooms(ctx, Query{Search: "lofi"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r1", out[0].RoomID)

		out, err = svc.LiveRooms(ctx, Query{Tags: []string{"JAZZ"}})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r2", out[0].RoomID)
	})

	t.Run("hasFriends additive not exclusionary", func(t *testing.T) {
		records := &fakeRecords{active: []*domain.RoomRecord{
			record("r1", "Friends Room", []string{"u1", "u2"}),
			record("r2", "Strangers Room", []string{"u3"}),
		}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{
			"r1": {ID: "r1", Members: []domain.Member{{UserID: "u1"}}},
			"r2": {ID: "r2", Members: []domain.Member{{UserID: "u3"}}},
		}}
		follows := &fakeFollows{following: map[string][]string{"viewer": {"u2"}}}
		svc := newService(records, live, follows, nil)

		out, err := svc.LiveRooms(ctx, Query{ViewerID: "viewer"})
		require.NoError(t, err)
		require.Len(t, out, 2)
		byID := map[string]*RoomSummary{out[0].RoomID: out[0], out[1].RoomID: out[1]}
		assert.True(t, byID["r1"].HasFriends)
		assert.False(t, byID["r2"].HasFriends)

		out, err = svc.LiveRooms(ctx, Query{ViewerID: "viewer", FriendsOnly: true})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r1", out[0].RoomID)
	})
}

func TestRecentlyEnded(t *testing.T) {
	ctx := context.Background()

	t.Run("live rooms excluded, last track surfaced", func(t *testing.T) {
		ended := record("r1", "Ended Room", []string{"u1"})
		ended.SongHistory = []domain.HistoryEntry{
			{TrackID: "t1", Name: "First"},
			{TrackID: "t2", Name: "Last", Artist: "Artist"},
		}
		stillLive := record("r2", "Still Live", []string{"u2"})
		stillLive.SongHistory = []domain.HistoryEntry{{TrackID: "t1"}}
		silent := record("r3", "Never Played", []string{"u3"})
		records := &fakeRecords{ended: []*domain.RoomRecord{ended, stillLive, silent}}
		live := &fakeLiveness{rooms: map[string]*domain.Room{"r2": {ID: "r2"}}}

		out, err := newService(records, live, nil, nil).RecentlyEnded(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r1", out[0].RoomID)
		assert.False(t, out[0].IsLive)
		require.NotNil(t, out[0].LastPlayedTrack)
		assert.Equal(t, "t2", out[0].LastPlayedTrack.ID)
		assert.Equal(t, "Last", out[0].LastPlayedTrack.Name)
		assert.Nil(t, out[0].CurrentTrack)
	})
}

func TestPopularTags(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ranked tags", func(t *testing.T) {
		tags := &fakeTags{popular: []domain.Tag{
			{Name: "lo-fi", UsageCount: 10},
			{Name: "jazz", UsageCount: 5},
		}}
		svc := newService(&fakeRecords{}, &fakeLiveness{}, nil, tags)

		out, err := svc.PopularTags(ctx, 10)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "lo-fi", out[0].Name)
	})

	t.Run("default limit applied", func(t *testing.T) {
		tags := &fakeTags{popular: []domain.Tag{{Name: "lo-fi"}}}
		svc := newService(&fakeRecords{}, &fakeLiveness{}, nil, tags)

		_, err := svc.PopularTags(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, tags.calls)
	})

	t.Run("cache avoids repeated queries", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer cache.Close()

		tags := &fakeTags{popular: []domain.Tag{
			{Name: "lo-fi", UsageCount: 10},
			{Name: "jazz", UsageCount: 5},
		}}
		svc := New(&fakeRecords{}, tags, &fakeFollows{}, &fakeLiveness{}, cache, logger.Default())

		out, err := svc.PopularTags(ctx, 10)
		require.NoError(t, err)
		require.Len(t, out, 2)

		out, err = svc.PopularTags(ctx, 10)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "lo-fi", out[0].Name)
		assert.Equal(t, 1, tags.calls)

		// 小limit直接切缓存
		out, err = svc.PopularTags(ctx, 1)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 1, tags.calls)

		// 缓存过期后回源
		mr.FastForward(2 * tagCacheTTL)
		_, err = svc.PopularTags(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, tags.calls)
	})
}
