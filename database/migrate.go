// database/migrate.go - Database Migration Runner
package database

import (
	"log"

	"studybattle/models"
)

// RunMigrations runs all database migrations and seeds the achievement
// catalog.
func RunMigrations() {
	db := GetDB()
	log.Println("🔄 Running database migrations...")

	if err := db.AutoMigrate(
		&models.Deck{},
		&models.Question{},
		&models.BattleRoom{},
		&models.UserStats{},
		&models.BattleRecord{},
		&models.Achievement{},
		&models.UserAchievement{},
	); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}

	log.Println("✅ Migrations completed")

	createIndexes()
	seedAchievements()

	log.Println("✅ All migrations completed successfully")
}

// createIndexes creates query indexes not covered by struct tags.
func createIndexes() {
	db := GetDB()
	log.Println("Creating indexes...")

	// Battle room indexes
	db.Exec("CREATE INDEX IF NOT EXISTS idx_battle_rooms_code_status ON battle_rooms(code, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_battle_rooms_host ON battle_rooms(host_id)")

	// Question indexes
	db.Exec("CREATE INDEX IF NOT EXISTS idx_questions_deck ON questions(deck_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_questions_difficulty ON questions(difficulty)")

	// Battle record indexes
	db.Exec("CREATE INDEX IF NOT EXISTS idx_battle_records_user_created ON battle_records(user_id, created_at DESC)")

	// Leaderboard indexes
	db.Exec("CREATE INDEX IF NOT EXISTS idx_user_stats_wins ON user_stats(wins DESC)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_user_stats_streak ON user_stats(best_streak DESC)")

	log.Println("✅ Indexes created successfully")
}

// seedAchievements inserts the fixed achievement catalog. Existing rows are
// left untouched, so reruns are safe.
func seedAchievements() {
	db := GetDB()

	catalog := []models.Achievement{
		{Code: "first-win", Name: "First Blood", Description: "Win your first battle", Category: "wins"},
		{Code: "win-streak-10", Name: "Unstoppable", Description: "Win 10 battles in a row", Category: "wins"},
		{Code: "perfect-victory", Name: "Flawless", Description: "Win a battle answering every question correctly", Category: "skill"},
		{Code: "speed-demon", Name: "Speed Demon", Description: "Average under 5 seconds per answer in a battle", Category: "skill"},
		{Code: "comeback-king", Name: "Comeback King", Description: "Win after being in last place at the halfway mark", Category: "skill"},
	}

	for _, a := range catalog {
		var count int64
		db.Model(&models.Achievement{}).Where("code = ?", a.Code).Count(&count)
		if count == 0 {
			if err := db.Create(&a).Error; err != nil {
				log.Printf("⚠️  Failed to seed achievement %s: %v", a.Code, err)
			}
		}
	}

	log.Println("✅ Achievement catalog seeded")
}
