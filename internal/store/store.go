// Package store提供房间镜像、标签与用户身份的持久化仓储。
package store

import (
	"context"
	"time"

	"github.com/jamstream/server/internal/domain"
)

// RoomRecordRepository 房间镜像仓储
type RoomRecordRepository interface {
	// Get 按roomID查询，未找到返回errors.ErrNotFound
	Get(ctx context.Context, roomID string) (*domain.RoomRecord, error)

	// Upsert 按roomID写入或更新镜像（history除外）
	Upsert(ctx context.Context, record *domain.RoomRecord) error

	// UpdateHistory 整体替换房间的历史曲目
	UpdateHistory(ctx context.Context, roomID string, history []domain.HistoryEntry) error

	// TouchLastActive 仅更新lastActive时间戳
	TouchLastActive(ctx context.Context, roomID string, at time.Time) error

	// ListActiveSince 查询since之后活跃的公开房间镜像
	ListActiveSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error)

	// ListEndedSince 查询since之后活跃、且有历史曲目的房间镜像
	// 是否真正"已结束"由调用方对照注册表判断
	ListEndedSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error)
}

// TagRepository 标签仓储
type TagRepository interface {
	// Upsert 写入标签并递增使用计数
	Upsert(ctx context.Context, name, category string) error

	// Popular 按使用量降序返回标签
	Popular(ctx context.Context, limit int) ([]domain.Tag, error)
}

// UserRepository 用户身份仓储
type UserRepository interface {
	// GetByProviderID 按音乐平台ID解析内部用户，未找到返回errors.ErrNotFound
	GetByProviderID(ctx context.Context, providerID string) (*domain.User, error)
}

// FollowRepository 关注关系仓储（社交图谱协作方）
type FollowRepository interface {
	// FollowingIDs 返回用户关注的内部用户ID列表
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
}
