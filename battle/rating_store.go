// battle/rating_store.go - Database-backed stats store
package battle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studybattle/models"
)

// GormStatsStore persists user stats, battle records, and achievement
// unlocks in Postgres.
type GormStatsStore struct {
	db *gorm.DB
}

func NewGormStatsStore(db *gorm.DB) *GormStatsStore {
	return &GormStatsStore{db: db}
}

func (s *GormStatsStore) GetOrCreate(ctx context.Context, userID, username string) (*models.UserStats, error) {
	var stats models.UserStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if err == nil {
		return &stats, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load stats for %s: %w", userID, err)
	}

	stats = models.UserStats{
		UserID:    userID,
		Username:  username,
		EloRating: 1000,
		Rank:      models.RankForRating(1000),
	}
	if err := s.db.WithContext(ctx).Create(&stats).Error; err != nil {
		// Concurrent first-battle creation; reload whichever row won.
		if reloadErr := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error; reloadErr != nil {
			return nil, fmt.Errorf("create stats for %s: %w", userID, err)
		}
	}
	return &stats, nil
}

func (s *GormStatsStore) Save(ctx context.Context, stats *models.UserStats) error {
	return s.db.WithContext(ctx).Save(stats).Error
}

func (s *GormStatsStore) HasAchievement(ctx context.Context, userID, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserAchievement{}).
		Where("user_id = ? AND code = ?", userID, code).
		Count(&count).Error
	return count > 0, err
}

// Unlock inserts the unlock row, silently keeping the first one on conflict.
func (s *GormStatsStore) Unlock(ctx context.Context, userID, code string, at time.Time) error {
	ua := models.UserAchievement{UserID: userID, Code: code, UnlockedAt: at}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "code"}},
			DoNothing: true,
		}).
		Create(&ua).Error
}

func (s *GormStatsStore) RecordBattle(ctx context.Context, rec *models.BattleRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}
