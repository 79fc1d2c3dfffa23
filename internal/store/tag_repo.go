package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
)

// TagRepositoryImpl 标签仓储实现
type TagRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewTagRepository 创建标签仓储
func NewTagRepository(db *pgxpool.Pool) TagRepository {
	return &TagRepositoryImpl{db: db}
}

// Upsert 写入标签并递增使用计数
// 计数只增不减，历史使用量保留
func (r *TagRepositoryImpl) Upsert(ctx context.Context, name, category string) error {
	query := `
		INSERT INTO tags (name, category, usage_count, created_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (name) DO UPDATE SET
			usage_count = tags.usage_count + 1
	`
	_, err := r.db.Exec(ctx, query, name, category)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// Popular 按使用量降序返回标签
func (r *TagRepositoryImpl) Popular(ctx context.Context, limit int) ([]domain.Tag, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT name, category, usage_count, created_at
		FROM tags
		ORDER BY usage_count DESC, name ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(&tag.Name, &tag.Category, &tag.UsageCount, &tag.CreatedAt); err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
