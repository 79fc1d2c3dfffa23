package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
)

// UserRepositoryImpl 用户身份仓储实现
type UserRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewUserRepository 创建用户身份仓储
func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &UserRepositoryImpl{db: db}
}

// GetByProviderID 按音乐平台ID解析内部用户
func (r *UserRepositoryImpl) GetByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	query := `
		SELECT id, provider_id, display_name, avatar_url, handle, created_at
		FROM users
		WHERE provider_id = $1
	`
	var user domain.User
	err := r.db.QueryRow(ctx, query, providerID).Scan(
		&user.ID,
		&user.ProviderID,
		&user.DisplayName,
		&user.AvatarURL,
		&user.Handle,
		&user.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return &user, nil
}
