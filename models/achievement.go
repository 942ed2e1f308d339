// models/achievement.go
package models

import "time"

// Achievement is a catalog entry; the catalog is seeded at migration time.
type Achievement struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"not null;uniqueIndex;size:50" json:"code"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"not null" json:"description"`
	Category    string    `gorm:"not null;index;size:30" json:"category"` // Speed, Accuracy, Streak, Victory
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserAchievement is a one-time unlock. The composite unique index makes
// re-awarding impossible at the database level.
type UserAchievement struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"not null;index;size:100;uniqueIndex:idx_user_achievement" json:"user_id"`
	Code       string    `gorm:"not null;size:50;uniqueIndex:idx_user_achievement" json:"code"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

func (Achievement) TableName() string {
	return "achievements"
}

func (UserAchievement) TableName() string {
	return "user_achievements"
}
