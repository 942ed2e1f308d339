package services

import (
	"log"
	"time"

	"gorm.io/gorm"

	"studybattle/models"
)

// Retention windows for background cleanup.
const (
	abandonedLobbyAfter = time.Hour
	finishedRoomTTL     = 7 * 24 * time.Hour
	cleanupInterval     = 30 * time.Minute
)

// CleanupService prunes dead rooms in the background: lobbies nobody started
// within an hour, and finished rooms past their retention window. Battle
// records and user stats are kept forever; only the heavy room rows go.
type CleanupService struct {
	db   *gorm.DB
	stop chan struct{}
}

func NewCleanupService(db *gorm.DB) *CleanupService {
	return &CleanupService{db: db, stop: make(chan struct{})}
}

// Start launches the cleanup loop.
func (s *CleanupService) Start() {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				return
			}
		}
	}()
	log.Printf("🧹 Room cleanup service started (every %s)", cleanupInterval)
}

// Stop halts the cleanup loop.
func (s *CleanupService) Stop() {
	close(s.stop)
}

func (s *CleanupService) runOnce() {
	now := time.Now()

	// Lobbies that never started. Marking them finished frees the code for
	// reuse; the rows get pruned on a later pass.
	res := s.db.Model(&models.BattleRoom{}).
		Where("status = ? AND created_at < ?", models.RoomWaiting, now.Add(-abandonedLobbyAfter)).
		Updates(map[string]any{"status": models.RoomFinished, "finished_at": now})
	if res.Error != nil {
		log.Printf("⚠️  Abandoned lobby cleanup failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("🧹 Closed %d abandoned lobbies", res.RowsAffected)
	}

	res = s.db.
		Where("status = ? AND finished_at < ?", models.RoomFinished, now.Add(-finishedRoomTTL)).
		Delete(&models.BattleRoom{})
	if res.Error != nil {
		log.Printf("⚠️  Finished room pruning failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("🧹 Pruned %d finished rooms past retention", res.RowsAffected)
	}
}
