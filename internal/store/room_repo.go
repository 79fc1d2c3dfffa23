package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
)

// RoomRecordRepositoryImpl 房间镜像仓储实现
type RoomRecordRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewRoomRecordRepository 创建房间镜像仓储
func NewRoomRecordRepository(db *pgxpool.Pool) RoomRecordRepository {
	return &RoomRecordRepositoryImpl{db: db}
}

const roomRecordColumns = `
	room_id, name, host_id, host_provider_id, is_public,
	tags, participants, current_track, song_history,
	last_active, created_at, updated_at
`

// Get 按roomID查询镜像
func (r *RoomRecordRepositoryImpl) Get(ctx context.Context, roomID string) (*domain.RoomRecord, error) {
	query := `SELECT ` + roomRecordColumns + ` FROM room_records WHERE room_id = $1`

	record, err := scanRoomRecord(r.db.QueryRow(ctx, query, roomID))
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return record, nil
}

// Upsert 写入或更新镜像（不触碰song_history）
func (r *RoomRecordRepositoryImpl) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	participants, err := json.Marshal(record.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	var currentTrack []byte
	if record.CurrentTrack != nil {
		currentTrack, err = json.Marshal(record.CurrentTrack)
		if err != nil {
			return fmt.Errorf("failed to encode current track: %w", err)
		}
	}

	query := `
		INSERT INTO room_records (
			room_id, name, host_id, host_provider_id, is_public,
			tags, participants, current_track, song_history,
			last_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '[]'::jsonb, $9, $10, $10)
		ON CONFLICT (room_id) DO UPDATE SET
			name          = EXCLUDED.name,
			is_public     = EXCLUDED.is_public,
			tags          = EXCLUDED.tags,
			participants  = EXCLUDED.participants,
			current_track = EXCLUDED.current_track,
			last_active   = EXCLUDED.last_active,
			updated_at    = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query,
		record.RoomID,
		record.Name,
		record.HostID,
		record.HostProviderID,
		record.IsPublic,
		tags,
		participants,
		currentTrack,
		record.LastActive,
		time.Now(),
	)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// UpdateHistory 整体替换房间历史曲目
func (r *RoomRecordRepositoryImpl) UpdateHistory(ctx context.Context, roomID string, history []domain.HistoryEntry) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	query := `UPDATE room_records SET song_history = $2, updated_at = $3 WHERE room_id = $1`
	tag, err := r.db.Exec(ctx, query, roomID, data, time.Now())
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// TouchLastActive 仅更新lastActive
func (r *RoomRecordRepositoryImpl) TouchLastActive(ctx context.Context, roomID string, at time.Time) error {
	query := `UPDATE room_records SET last_active = $2, updated_at = $3 WHERE room_id = $1`
	tag, err := r.db.Exec(ctx, query, roomID, at, time.Now())
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListActiveSince 查询since之后活跃的公开房间镜像
func (r *RoomRecordRepositoryImpl) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	query := `
		SELECT ` + roomRecordColumns + `
		FROM room_records
		WHERE is_public = TRUE AND last_active >= $1
		ORDER BY last_active DESC
	`
	return r.list(ctx, query, since)
}

// ListEndedSince 查询since之后活跃、有历史曲目的房间镜像
func (r *RoomRecordRepositoryImpl) ListEndedSince(ctx context.Context, since time.Time) ([]*domain.RoomRecord, error) {
	query := `
		SELECT ` + roomRecordColumns + `
		FROM room_records
		WHERE is_public = TRUE
		  AND last_active >= $1
		  AND jsonb_array_length(song_history) > 0
		ORDER BY last_active DESC
	`
	return r.list(ctx, query, since)
}

func (r *RoomRecordRepositoryImpl) list(ctx context.Context, query string, args ...interface{}) ([]*domain.RoomRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	defer rows.Close()

	var records []*domain.RoomRecord
	for rows.Next() {
		record, err := scanRoomRecord(rows)
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoomRecord(row rowScanner) (*domain.RoomRecord, error) {
	var (
		record       domain.RoomRecord
		tags         []byte
		participants []byte
		currentTrack []byte
		history      []byte
	)
	err := row.Scan(
		&record.RoomID,
		&record.Name,
		&record.HostID,
		&record.HostProviderID,
		&record.IsPublic,
		&tags,
		&participants,
		&currentTrack,
		&history,
		&record.LastActive,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &record.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &record.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
	}
	if len(currentTrack) > 0 {
		record.CurrentTrack = &domain.Track{}
		if err := json.Unmarshal(currentTrack, record.CurrentTrack); err != nil {
			return nil, fmt.Errorf("failed to decode current track: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &record.SongHistory); err != nil {
			return nil, fmt.Errorf("failed to decode song history: %w", err)
		}
	}
	return &record, nil
}
