// battle/store.go - Storage boundaries for rooms and user stats
package battle

import (
	"context"
	"strings"
	"sync"
	"time"

	"studybattle/models"
)

// RoomStore persists battle rooms. Save enforces optimistic concurrency: a
// write whose Version no longer matches the stored row fails with ErrConflict
// and must be retried from a fresh load.
type RoomStore interface {
	Create(ctx context.Context, room *models.BattleRoom) error
	// GetByCode returns the newest room holding the code, case-insensitively.
	GetByCode(ctx context.Context, code string) (*models.BattleRoom, error)
	Save(ctx context.Context, room *models.BattleRoom) error
	// LiveCodeExists reports whether a waiting or active room holds the code.
	LiveCodeExists(ctx context.Context, code string) (bool, error)
}

// StatsStore persists per-user aggregate statistics and achievement unlocks.
type StatsStore interface {
	GetOrCreate(ctx context.Context, userID, username string) (*models.UserStats, error)
	Save(ctx context.Context, stats *models.UserStats) error
	HasAchievement(ctx context.Context, userID, code string) (bool, error)
	Unlock(ctx context.Context, userID, code string, at time.Time) error
	RecordBattle(ctx context.Context, rec *models.BattleRecord) error
}

// MemoryRoomStore is the in-process RoomStore, used in tests and standalone
// runs without a database.
type MemoryRoomStore struct {
	mu     sync.Mutex
	nextID uint
	rooms  map[uint]*models.BattleRoom
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[uint]*models.BattleRoom)}
}

func (s *MemoryRoomStore) Create(_ context.Context, room *models.BattleRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	room.ID = s.nextID
	room.Version = 1
	room.CreatedAt = time.Now()
	room.UpdatedAt = room.CreatedAt
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *MemoryRoomStore) GetByCode(_ context.Context, code string) (*models.BattleRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(code)
	var newest *models.BattleRoom
	for _, r := range s.rooms {
		if r.Code != code {
			continue
		}
		if newest == nil || r.ID > newest.ID {
			newest = r
		}
	}
	if newest == nil {
		return nil, ErrRoomNotFound
	}
	cp := *newest
	return &cp, nil
}

func (s *MemoryRoomStore) Save(_ context.Context, room *models.BattleRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if stored.Version != room.Version {
		return ErrConflict
	}
	room.Version++
	room.UpdatedAt = time.Now()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *MemoryRoomStore) LiveCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(code)
	for _, r := range s.rooms {
		if r.Code == code && r.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

// MemoryStatsStore is the in-process StatsStore counterpart.
type MemoryStatsStore struct {
	mu      sync.Mutex
	stats   map[string]*models.UserStats
	unlocks map[string]map[string]time.Time
	records []models.BattleRecord
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		stats:   make(map[string]*models.UserStats),
		unlocks: make(map[string]map[string]time.Time),
	}
}

func (s *MemoryStatsStore) GetOrCreate(_ context.Context, userID, username string) (*models.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[userID]; ok {
		cp := *st
		return &cp, nil
	}
	st := &models.UserStats{
		UserID:    userID,
		Username:  username,
		EloRating: 1000,
		Rank:      models.RankForRating(1000),
		CreatedAt: time.Now(),
	}
	s.stats[userID] = st
	cp := *st
	return &cp, nil
}

func (s *MemoryStatsStore) Save(_ context.Context, stats *models.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats.UpdatedAt = time.Now()
	cp := *stats
	s.stats[stats.UserID] = &cp
	return nil
}

func (s *MemoryStatsStore) HasAchievement(_ context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unlocks[userID][code]
	return ok, nil
}

func (s *MemoryStatsStore) Unlock(_ context.Context, userID, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlocks[userID] == nil {
		s.unlocks[userID] = make(map[string]time.Time)
	}
	if _, ok := s.unlocks[userID][code]; ok {
		return nil // already unlocked, silent no-op
	}
	s.unlocks[userID][code] = at
	return nil
}

func (s *MemoryStatsStore) RecordBattle(_ context.Context, rec *models.BattleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uint(len(s.records) + 1)
	rec.CreatedAt = time.Now()
	s.records = append(s.records, *rec)
	return nil
}

// Records returns a copy of all battle records (test helper).
func (s *MemoryStatsStore) Records() []models.BattleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BattleRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Unlocks returns a copy of a user's unlocked achievement codes (test helper).
func (s *MemoryStatsStore) Unlocks(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.unlocks[userID]))
	for code := range s.unlocks[userID] {
		out = append(out, code)
	}
	return out
}
