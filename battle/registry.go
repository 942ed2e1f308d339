// battle/registry.go - Database-backed room store
package battle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"studybattle/models"
)

// GormRoomStore persists rooms in Postgres. Optimistic concurrency rides on
// the version column: the UPDATE is guarded by the version the caller loaded,
// and zero affected rows means someone else got there first.
type GormRoomStore struct {
	db *gorm.DB
}

func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{db: db}
}

func (s *GormRoomStore) Create(ctx context.Context, room *models.BattleRoom) error {
	room.Code = strings.ToUpper(room.Code)
	room.Version = 1
	return s.db.WithContext(ctx).Create(room).Error
}

func (s *GormRoomStore) GetByCode(ctx context.Context, code string) (*models.BattleRoom, error) {
	var room models.BattleRoom
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(code)).
		Order("id DESC").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}
	return &room, nil
}

func (s *GormRoomStore) Save(ctx context.Context, room *models.BattleRoom) error {
	loaded := room.Version
	room.Version = loaded + 1
	room.UpdatedAt = time.Now()

	res := s.db.WithContext(ctx).
		Model(&models.BattleRoom{}).
		Where("id = ? AND version = ?", room.ID, loaded).
		Select("*").
		Omit("id", "created_at").
		Updates(room)
	if res.Error != nil {
		room.Version = loaded
		return fmt.Errorf("save room %s: %w", room.Code, res.Error)
	}
	if res.RowsAffected == 0 {
		room.Version = loaded
		return ErrConflict
	}
	return nil
}

func (s *GormRoomStore) LiveCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.BattleRoom{}).
		Where("code = ? AND status IN ?", strings.ToUpper(code), []string{models.RoomWaiting, models.RoomActive}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check live code %s: %w", code, err)
	}
	return count > 0, nil
}

// SweepStale marks rooms left active or waiting by a previous process as
// finished. Runtime state does not survive a restart, so these battles
// cannot be resumed; called once at boot.
func (s *GormRoomStore) SweepStale(ctx context.Context) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.BattleRoom{}).
		Where("status IN ?", []string{models.RoomWaiting, models.RoomActive}).
		Updates(map[string]any{
			"status":      models.RoomFinished,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep stale rooms: %w", res.Error)
	}
	return res.RowsAffected, nil
}
