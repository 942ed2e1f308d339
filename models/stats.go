// models/stats.go - Per-user aggregate battle statistics
package models

import "time"

// Rank tiers derived from ELO rating, fixed breakpoints.
const (
	RankNovice      = "Novice"
	RankApprentice  = "Apprentice"
	RankScholar     = "Scholar"
	RankExpert      = "Expert"
	RankMaster      = "Master"
	RankGrandmaster = "Grandmaster"
)

// RankForRating maps an ELO rating to its tier.
func RankForRating(elo int) string {
	switch {
	case elo < 1000:
		return RankNovice
	case elo < 1200:
		return RankApprentice
	case elo < 1400:
		return RankScholar
	case elo < 1600:
		return RankExpert
	case elo < 1800:
		return RankMaster
	default:
		return RankGrandmaster
	}
}

// UserStats is the one durable stats record per user. Created lazily on a
// user's first battle completion and mutated only by the rating updater.
// Rolling averages are incrementally weighted, never recomputed from history.
type UserStats struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   string `json:"user_id" gorm:"uniqueIndex;not null;size:100"`
	Username string `json:"username" gorm:"size:100"`

	TotalBattles int `json:"total_battles" gorm:"default:0"`
	Wins         int `json:"wins" gorm:"default:0"`
	Losses       int `json:"losses" gorm:"default:0"`

	CurrentStreak int `json:"current_streak" gorm:"default:0"`
	BestStreak    int `json:"best_streak" gorm:"default:0"`

	AccuracyRate      float64 `json:"accuracy_rate" gorm:"default:0"`       // 0..100
	AverageScore      float64 `json:"average_score" gorm:"default:0"`
	AverageResponseMs float64 `json:"average_response_ms" gorm:"default:0"`
	AnswersSeen       int     `json:"answers_seen" gorm:"default:0"` // exposure count for weighted means

	EloRating int    `json:"elo_rating" gorm:"default:1000;index"`
	Rank      string `json:"rank" gorm:"default:'Apprentice';size:20"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

// BattleRecord is the per-user summary row written when a battle finishes,
// backing the battle-history endpoint.
type BattleRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"not null;index;size:100"`
	RoomCode       string    `json:"room_code" gorm:"index;size:10"`
	Score          int       `json:"score" gorm:"default:0"`
	CorrectAnswers int       `json:"correct_answers" gorm:"default:0"`
	TotalQuestions int       `json:"total_questions" gorm:"default:0"`
	AvgResponseMs  int       `json:"avg_response_ms" gorm:"default:0"`
	Won            bool      `json:"won" gorm:"default:false"`
	Placement      int       `json:"placement" gorm:"default:0"`
	PlayerCount    int       `json:"player_count" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

func (BattleRecord) TableName() string {
	return "battle_records"
}
