// Package syncer将注册表的内存态异步镜像到持久存储。
// 实时路径只入队，不等待写入；写入失败记录后在下次变更或定时任务时重试。
package syncer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/internal/store"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
	"github.com/jamstream/server/pkg/rediskit"
)

// RoomSource 注册表的只读视图
type RoomSource interface {
	GetRoom(roomID string) (*domain.Room, error)
	IsLive(roomID string) bool
}

type jobKind int

const (
	jobSyncRoom jobKind = iota
	jobAppendHistory
	jobCleanup
)

type job struct {
	kind   jobKind
	roomID string

	// jobSyncRoom
	name     string
	tags     []string
	isPublic *bool

	// jobAppendHistory
	track            *domain.Track
	playedByProvider string
}

// Service 持久化同步器
type Service struct {
	rooms   RoomSource
	records store.RoomRecordRepository
	tags    store.TagRepository
	users   store.UserRepository
	redis   *redis.Client
	logger  logger.Logger

	jobs chan job
	now  func() time.Time
}

// New 创建持久化同步器
func New(rooms RoomSource, records store.RoomRecordRepository, tags store.TagRepository,
	users store.UserRepository, redisClient *redis.Client, log logger.Logger) *Service {
	return &Service{
		rooms:   rooms,
		records: records,
		tags:    tags,
		users:   users,
		redis:   redisClient,
		logger:  log,
		jobs:    make(chan job, 1024),
		now:     time.Now,
	}
}

// Start 启动后台工作协程，阻塞直到ctx取消
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("persistence syncer started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("persistence syncer stopped")
			return
		case j := <-s.jobs:
			s.process(ctx, j)
		}
	}
}

// SyncRoom 入队一次房间镜像同步
// name/tags/isPublic为可选覆盖，nil表示沿用现值
func (s *Service) SyncRoom(roomID string, name string, tags []string, isPublic *bool) {
	s.enqueue(job{kind: jobSyncRoom, roomID: roomID, name: name, tags: tags, isPublic: isPublic})
}

// AppendHistory 入队一条历史曲目
func (s *Service) AppendHistory(roomID string, track *domain.Track, playedByProvider string) {
	if track == nil {
		return
	}
	t := *track
	s.enqueue(job{kind: jobAppendHistory, roomID: roomID, track: &t, playedByProvider: playedByProvider})
}

// CleanupRoom 入队房间结束标记
func (s *Service) CleanupRoom(roomID string) {
	s.enqueue(job{kind: jobCleanup, roomID: roomID})
}

// enqueue 非阻塞入队，队列满时丢弃并记录
func (s *Service) enqueue(j job) {
	select {
	case s.jobs <- j:
	default:
		s.logger.Warn("sync queue full, job dropped",
			logger.String("room_id", j.roomID),
			logger.Int("kind", int(j.kind)))
		s.markPending(context.Background(), j.roomID)
	}
}

func (s *Service) process(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobSyncRoom:
		err = s.syncRoom(ctx, j)
	case jobAppendHistory:
		err = s.appendHistory(ctx, j)
	case jobCleanup:
		err = s.cleanupRoom(ctx, j.roomID)
	}

	if err != nil {
		s.logger.Error("sync job failed",
			logger.String("room_id", j.roomID),
			logger.Int("kind", int(j.kind)),
			logger.Error(err))
		s.markPending(ctx, j.roomID)
		return
	}

	// 本次写入成功，顺带重试之前失败的房间
	s.flushPendingExcept(ctx, j.roomID)
}

// syncRoom 将房间内存态写入镜像
func (s *Service) syncRoom(ctx context.Context, j job) error {
	room, err := s.rooms.GetRoom(j.roomID)
	if err != nil {
		// 房间已结束，镜像保持最后状态
		return nil
	}

	record, err := s.records.Get(ctx, j.roomID)
	if errors.IsError(err, errors.ErrNotFound) {
		// 懒创建：host身份无法解析时静默跳过
		host, resolveErr := s.users.GetByProviderID(ctx, room.HostProviderID)
		if resolveErr != nil {
			if !errors.IsError(resolveErr, errors.ErrNotFound) {
				return resolveErr
			}
			s.logger.Debug("host identity unresolved, skipping sync",
				logger.String("room_id", j.roomID),
				logger.String("provider_id", room.HostProviderID))
			return nil
		}
		record = &domain.RoomRecord{
			RoomID:         room.ID,
			Name:           room.Name,
			HostID:         host.ID,
			HostProviderID: room.HostProviderID,
			IsPublic:       room.IsPublic,
			CreatedAt:      room.CreatedAt,
		}
	} else if err != nil {
		return err
	}

	if j.name != "" {
		record.Name = j.name
	} else if record.Name == "" {
		record.Name = room.Name
	}
	if j.isPublic != nil {
		record.IsPublic = *j.isPublic
	}

	// 成员快照：无法解析的成员只从快照中剔除，不影响内存态
	record.Participants = s.resolveParticipants(ctx, room.Members)
	record.CurrentTrack = room.CurrentTrack
	record.LastActive = s.now()

	if j.tags != nil {
		normalized := NormalizeTags(j.tags)
		record.Tags = normalized
		for _, tag := range normalized {
			if err := s.tags.Upsert(ctx, tag, "user"); err != nil {
				s.logger.Warn("tag upsert failed", logger.String("tag", tag), logger.Error(err))
			}
		}
	}

	return s.records.Upsert(ctx, record)
}

// resolveParticipants 将内存成员映射为内部用户ID快照
func (s *Service) resolveParticipants(ctx context.Context, members []domain.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		user, err := s.users.GetByProviderID(ctx, m.ProviderID)
		if err != nil {
			continue
		}
		ids = append(ids, user.ID)
	}
	return ids
}

// appendHistory 追加历史曲目，连续重复的trackID去重，保留最新100条
func (s *Service) appendHistory(ctx context.Context, j job) error {
	record, err := s.records.Get(ctx, j.roomID)
	if errors.IsError(err, errors.ErrNotFound) {
		// 镜像尚未创建（host身份未解析），丢弃
		return nil
	}
	if err != nil {
		return err
	}

	history := record.SongHistory
	if n := len(history); n > 0 && history[n-1].TrackID == j.track.ID {
		return nil
	}

	playedBy := ""
	if player, err := s.users.GetByProviderID(ctx, j.playedByProvider); err == nil {
		playedBy = player.ID
	}

	history = append(history, domain.HistoryEntry{
		TrackID:     j.track.ID,
		Name:        j.track.Name,
		Artist:      j.track.Artist,
		Album:       j.track.Album,
		AlbumArt:    j.track.AlbumArt,
		ExternalURL: j.track.ExternalURL,
		DurationMs:  j.track.DurationMs,
		PlayedAt:    s.now(),
		PlayedBy:    playedBy,
	})
	if len(history) > domain.MaxSongHistory {
		history = history[len(history)-domain.MaxSongHistory:]
	}

	return s.records.UpdateHistory(ctx, j.roomID, history)
}

// cleanupRoom 房间结束：仅刷新lastActive，镜像与历史永久保留
func (s *Service) cleanupRoom(ctx context.Context, roomID string) error {
	err := s.records.TouchLastActive(ctx, roomID, s.now())
	if errors.IsError(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

// markPending 记录待重试的房间
func (s *Service) markPending(ctx context.Context, roomID string) {
	if err := s.redis.SAdd(ctx, rediskit.SyncPendingKey(), roomID).Err(); err != nil {
		s.logger.Warn("failed to mark room pending", logger.String("room_id", roomID), logger.Error(err))
	}
}

// flushPendingExcept 重试待处理房间，跳过刚处理过的那个
func (s *Service) flushPendingExcept(ctx context.Context, except string) {
	ids, err := s.redis.SMembers(ctx, rediskit.SyncPendingKey()).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if id == except {
			s.redis.SRem(ctx, rediskit.SyncPendingKey(), id)
			continue
		}
		s.retryPending(ctx, id)
	}
}

// FlushPending 重试全部待处理房间（定时任务调用）
func (s *Service) FlushPending(ctx context.Context) {
	ids, err := s.redis.SMembers(ctx, rediskit.SyncPendingKey()).Result()
	if err != nil {
		s.logger.Warn("failed to read pending set", logger.Error(err))
		return
	}
	for _, id := range ids {
		s.retryPending(ctx, id)
	}
}

func (s *Service) retryPending(ctx context.Context, roomID string) {
	var err error
	if s.rooms.IsLive(roomID) {
		err = s.syncRoom(ctx, job{kind: jobSyncRoom, roomID: roomID})
	} else {
		err = s.cleanupRoom(ctx, roomID)
	}
	if err != nil {
		s.logger.Warn("pending retry failed", logger.String("room_id", roomID), logger.Error(err))
		return
	}
	s.redis.SRem(ctx, rediskit.SyncPendingKey(), roomID)
}

// QueueDepth 当前待处理任务数
func (s *Service) QueueDepth() int {
	return len(s.jobs)
}
