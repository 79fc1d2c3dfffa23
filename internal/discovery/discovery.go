package discovery

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/store"
	"github.com/jamstream/server/pkg/logger"
	"github.com/jamstream/server/pkg/rediskit"
)

const (
	// LiveWindow 在播房间的活跃窗口
	LiveWindow = 15 * time.Minute
	// EndedWindow 最近结束房间的回看窗口
	EndedWindow = 24 * time.Hour
	// DefaultTagLimit 热门标签默认条数
	DefaultTagLimit = 20
	// tagCacheTTL 热门标签缓存时长
	tagCacheTTL = time.Minute
)

// Liveness 注册表活性查询
type Liveness interface {
	GetRoom(roomID string) (*domain.Room, error)
	IsLive(roomID string) bool
}

// Query 发现查询参数
type Query struct {
	ViewerID    string
	Search      string
	Tags        []string
	FriendsOnly bool
}

// RoomSummary 发现结果条目
// 在播房间以注册表实时数据优先，镜像数据兜底
type RoomSummary struct {
	RoomID           string        `json:"room_id"`
	Name             string        `json:"name"`
	HostID           string        `json:"host_id"`
	Tags             []string      `json:"tags"`
	ParticipantCount int           `json:"participant_count"`
	CurrentTrack     *domain.Track `json:"current_track,omitempty"`
	LastPlayedTrack  *domain.Track `json:"last_played_track,omitempty"`
	LastActive       time.Time     `json:"last_active"`
	IsLive           bool          `json:"is_live"`
	HasFriends       bool          `json:"has_friends"`
}

// Service 发现查询服务
type Service struct {
	records store.RoomRecordRepository
	tags    store.TagRepository
	follows store.FollowRepository
	live    Liveness
	cache   *redis.Client // 可为nil，热门标签缓存降级为直查
	logger  logger.Logger

	group singleflight.Group
	now   func() time.Time
}

func New(records store.RoomRecordRepository, tags store.TagRepository,
	follows store.FollowRepository, live Liveness, cache *redis.Client, log logger.Logger) *Service {
	return &Service{
		records: records,
		tags:    tags,
		follows: follows,
		live:    live,
		cache:   cache,
		logger:  log,
		now:     time.Now,
	}
}

// LiveRooms 当前在播的公开房间
// 镜像记录与注册表活性取交集，注册表是活性的唯一依据
func (s *Service) LiveRooms(ctx context.Context, q Query) ([]*RoomSummary, error) {
	records, err := s.records.ListActiveSince(ctx, s.now().Add(-LiveWindow))
	if err != nil {
		return nil, err
	}

	friends := s.friendSet(ctx, q.ViewerID)
	out := make([]*RoomSummary, 0, len(records))
	for _, record := range records {
		if len(record.Participants) == 0 || !s.live.IsLive(record.RoomID) {
			continue
		}
		if !matches(record, q) {
			continue
		}

		summary := &RoomSummary{
			RoomID:           record.RoomID,
			Name:             record.Name,
			HostID:           record.HostID,
			Tags:             record.Tags,
			ParticipantCount: len(record.Participants),
			CurrentTrack:     record.CurrentTrack,
			LastActive:       record.LastActive,
			IsLive:           true,
			HasFriends:       overlaps(record.Participants, friends),
		}

		// 实时数据优先于镜像快照
		if room, err := s.live.GetRoom(record.RoomID); err == nil {
			summary.CurrentTrack = room.CurrentTrack
			summary.ParticipantCount = room.MemberCount()
		}

		if q.FriendsOnly && !summary.HasFriends {
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

// RecentlyEnded 最近结束的公开房间
// 仍在注册表中的房间排除，没放过歌的房间不展示
func (s *Service) RecentlyEnded(ctx context.Context, q Query) ([]*RoomSummary, error) {
	records, err := s.records.ListEndedSince(ctx, s.now().Add(-EndedWindow))
	if err != nil {
		return nil, err
	}

	friends := s.friendSet(ctx, q.ViewerID)
	out := make([]*RoomSummary, 0, len(records))
	for _, record := range records {
		if s.live.IsLive(record.RoomID) || len(record.SongHistory) == 0 {
			continue
		}
		if !matches(record, q) {
			continue
		}

		summary := &RoomSummary{
			RoomID:           record.RoomID,
			Name:             record.Name,
			HostID:           record.HostID,
			Tags:             record.Tags,
			ParticipantCount: len(record.Participants),
			LastActive:       record.LastActive,
			HasFriends:       overlaps(record.Participants, friends),
		}
		if entry := record.LastPlayedTrack(); entry != nil {
			summary.LastPlayedTrack = &domain.Track{
				ID:          entry.TrackID,
				Name:        entry.Name,
				Artist:      entry.Artist,
				Album:       entry.Album,
				AlbumArt:    entry.AlbumArt,
				ExternalURL: entry.ExternalURL,
				DurationMs:  entry.DurationMs,
			}
		}

		if q.FriendsOnly && !summary.HasFriends {
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

// PopularTags 热门标签，redis缓存兜底，singleflight合并并发回源
func (s *Service) PopularTags(ctx context.Context, limit int) ([]domain.Tag, error) {
	if limit <= 0 {
		limit = DefaultTagLimit
	}

	if cached := s.cachedTags(ctx, limit); cached != nil {
		return cached, nil
	}

	result, err, _ := s.group.Do("popular_tags", func() (interface{}, error) {
		tags, err := s.tags.Popular(ctx, limit)
		if err != nil {
			return nil, err
		}
		s.storeTags(ctx, tags)
		return tags, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Tag), nil
}

func (s *Service) cachedTags(ctx context.Context, limit int) []domain.Tag {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, rediskit.PopularTagsKey()).Bytes()
	if err != nil {
		return nil
	}
	var tags []domain.Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil
	}
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func (s *Service) storeTags(ctx context.Context, tags []domain.Tag) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, rediskit.PopularTagsKey(), data, tagCacheTTL).Err(); err != nil {
		s.logger.Warn("failed to cache popular tags", logger.Error(err))
	}
}

// friendSet 拉取观察者关注集合，失败时降级为空集
func (s *Service) friendSet(ctx context.Context, viewerID string) map[string]struct{} {
	if viewerID == "" {
		return nil
	}
	ids, err := s.follows.FollowingIDs(ctx, viewerID)
	if err != nil {
		s.logger.Warn("failed to load follow graph",
			logger.String("viewer_id", viewerID),
			logger.Error(err))
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// matches 名称子串与标签交集过滤
func matches(record *domain.RoomRecord, q Query) bool {
	if q.Search != "" && !strings.Contains(strings.ToLower(record.Name), strings.ToLower(q.Search)) {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, want := range q.Tags {
			for _, have := range record.Tags {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func overlaps(participants []string, friends map[string]struct{}) bool {
	if len(friends) == 0 {
		return false
	}
	for _, id := range participants {
		if _, ok := friends[id]; ok {
			return true
		}
	}
	return false
}
