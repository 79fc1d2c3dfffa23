package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamstream/server/pkg/errors"
)

// FollowRepositoryImpl 关注关系仓储实现
// 关注图谱由社交模块维护，这里只读
type FollowRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewFollowRepository 创建关注关系仓储
func NewFollowRepository(db *pgxpool.Pool) FollowRepository {
	return &FollowRepositoryImpl{db: db}
}

// FollowingIDs 返回用户关注的内部用户ID列表
func (r *FollowRepositoryImpl) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT followee_id FROM follows WHERE follower_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
