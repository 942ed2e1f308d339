// handlers/stats.go - Per-user stats, battle history, and achievements
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"studybattle/middleware"
	"studybattle/models"
)

// StatsAPI serves the authenticated user's aggregate stats and history.
type StatsAPI struct {
	db *gorm.DB
}

func NewStatsAPI(db *gorm.DB) *StatsAPI {
	return &StatsAPI{db: db}
}

// GetMyStats returns the caller's aggregate battle statistics. Users who have
// never finished a battle get the zero-value profile rather than a 404.
// GET /api/users/me/stats
func (a *StatsAPI) GetMyStats(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "User not authenticated"})
	}

	var stats models.UserStats
	if err := a.db.WithContext(c.Context()).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch stats"})
		}
		stats = models.UserStats{
			UserID:    userID,
			EloRating: 1000,
			Rank:      models.RankForRating(1000),
		}
	}

	winRate := 0.0
	if stats.TotalBattles > 0 {
		winRate = 100 * float64(stats.Wins) / float64(stats.TotalBattles)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stats": fiber.Map{
			"user_id":             stats.UserID,
			"total_battles":       stats.TotalBattles,
			"wins":                stats.Wins,
			"losses":              stats.Losses,
			"win_rate":            winRate,
			"current_streak":      stats.CurrentStreak,
			"best_streak":         stats.BestStreak,
			"accuracy_rate":       stats.AccuracyRate,
			"average_score":       stats.AverageScore,
			"average_response_ms": stats.AverageResponseMs,
			"elo_rating":          stats.EloRating,
			"rank":                stats.Rank,
		},
	})
}

// GetMyBattles returns the caller's battle history, newest first.
// GET /api/users/me/battles?limit=20&offset=0
func (a *StatsAPI) GetMyBattles(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "User not authenticated"})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	var records []models.BattleRecord
	if err := a.db.WithContext(c.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch battle history"})
	}

	var total int64
	a.db.Model(&models.BattleRecord{}).Where("user_id = ?", userID).Count(&total)

	return c.JSON(fiber.Map{
		"success": true,
		"battles": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetMyAchievements returns the caller's unlocked achievements joined with
// the catalog.
// GET /api/users/me/achievements
func (a *StatsAPI) GetMyAchievements(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "User not authenticated"})
	}

	type unlockedAchievement struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		UnlockedAt  string `json:"unlocked_at"`
	}

	var unlocked []unlockedAchievement
	if err := a.db.WithContext(c.Context()).
		Table("user_achievements").
		Select("user_achievements.code, achievements.name, achievements.description, achievements.category, user_achievements.unlocked_at").
		Joins("JOIN achievements ON achievements.code = user_achievements.code").
		Where("user_achievements.user_id = ?", userID).
		Order("user_achievements.unlocked_at ASC").
		Scan(&unlocked).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch achievements"})
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"achievements": unlocked,
	})
}
