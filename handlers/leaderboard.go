// handlers/leaderboard.go - Ranked standings across all players
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"studybattle/models"
)

// LeaderboardAPI serves ranked player listings from the durable stats rows.
type LeaderboardAPI struct {
	db *gorm.DB
}

func NewLeaderboardAPI(db *gorm.DB) *LeaderboardAPI {
	return &LeaderboardAPI{db: db}
}

func leaderboardOrder(sort string) string {
	switch sort {
	case "wins":
		return "wins DESC, elo_rating DESC"
	case "streak":
		return "best_streak DESC, elo_rating DESC"
	case "accuracy":
		return "accuracy_rate DESC, total_battles DESC"
	default: // elo
		return "elo_rating DESC, wins DESC"
	}
}

func windowCutoff(window string) (time.Time, bool) {
	now := time.Now()
	switch window {
	case "day":
		return now.AddDate(0, 0, -1), true
	case "week":
		return now.AddDate(0, 0, -7), true
	case "month":
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// GetLeaderboard returns the ranked player list. The all-time window reads
// the aggregate stats rows; week/month windows are recomputed from battle
// records inside the cutoff.
// GET /api/leaderboard?window=all&sort=elo&limit=50&offset=0
func (a *LeaderboardAPI) GetLeaderboard(c *fiber.Ctx) error {
	sort := c.Query("sort", "elo")
	window := c.Query("window", "all")
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	if cutoff, windowed := windowCutoff(window); windowed {
		type windowEntry struct {
			UserID     string  `json:"user_id"`
			Username   string  `json:"username"`
			Battles    int     `json:"battles"`
			Wins       int     `json:"wins"`
			TotalScore int     `json:"total_score"`
			AvgScore   float64 `json:"average_score"`
		}

		var entries []windowEntry
		err := a.db.WithContext(c.Context()).Raw(`
			SELECT
				br.user_id,
				us.username,
				COUNT(*) as battles,
				SUM(CASE WHEN br.won THEN 1 ELSE 0 END) as wins,
				SUM(br.score) as total_score,
				AVG(br.score) as avg_score
			FROM battle_records br
			JOIN user_stats us ON us.user_id = br.user_id
			WHERE br.created_at > ?
			GROUP BY br.user_id, us.username
			ORDER BY wins DESC, total_score DESC
			LIMIT ? OFFSET ?
		`, cutoff, limit, offset).Scan(&entries).Error
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch leaderboard"})
		}

		return c.JSON(fiber.Map{
			"success": true,
			"window":  window,
			"entries": entries,
			"limit":   limit,
			"offset":  offset,
		})
	}

	var stats []models.UserStats
	if err := a.db.WithContext(c.Context()).
		Order(leaderboardOrder(sort)).
		Limit(limit).
		Offset(offset).
		Find(&stats).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch leaderboard"})
	}

	var total int64
	a.db.Model(&models.UserStats{}).Count(&total)

	entries := make([]fiber.Map, 0, len(stats))
	for i, s := range stats {
		entries = append(entries, fiber.Map{
			"position":      offset + i + 1,
			"user_id":       s.UserID,
			"username":      s.Username,
			"elo_rating":    s.EloRating,
			"rank":          s.Rank,
			"wins":          s.Wins,
			"total_battles": s.TotalBattles,
			"best_streak":   s.BestStreak,
			"accuracy_rate": s.AccuracyRate,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"window":  "all",
		"sort":    sort,
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetLeaderboardAround returns the rows surrounding one user in the all-time
// standings, for the "your neighborhood" view.
// GET /api/leaderboard/around/:id?sort=elo&context=5
func (a *LeaderboardAPI) GetLeaderboardAround(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "missing user id"})
	}
	sort := c.Query("sort", "elo")
	contextN := c.QueryInt("context", 5)
	if contextN < 1 || contextN > 20 {
		contextN = 5
	}

	var target models.UserStats
	if err := a.db.WithContext(c.Context()).Where("user_id = ?", userID).First(&target).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "User not found"})
	}

	type rankedEntry struct {
		models.UserStats
		Position int64 `json:"position"`
	}

	var entries []rankedEntry
	err := a.db.WithContext(c.Context()).Raw(`
		WITH ranked AS (
			SELECT *, ROW_NUMBER() OVER (ORDER BY `+leaderboardOrder(sort)+`) as position
			FROM user_stats
		),
		target AS (
			SELECT position FROM ranked WHERE user_id = ?
		)
		SELECT * FROM ranked
		WHERE position BETWEEN (SELECT position FROM target) - ? AND (SELECT position FROM target) + ?
		ORDER BY position
	`, userID, contextN, contextN).Scan(&entries).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to fetch leaderboard"})
	}

	out := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, fiber.Map{
			"position":      e.Position,
			"user_id":       e.UserID,
			"username":      e.Username,
			"elo_rating":    e.EloRating,
			"rank":          e.Rank,
			"wins":          e.Wins,
			"total_battles": e.TotalBattles,
			"is_target":     e.UserID == userID,
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"sort":        sort,
		"entries":     out,
		"target_user": userID,
		"context":     contextN,
	})
}
