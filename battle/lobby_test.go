package battle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybattle/models"
)

// stubContent hands out a fixed bank of questions, stamping fresh IDs per
// call the way the real provider does.
type stubContent struct {
	calls int
}

func (s *stubContent) Questions(_ context.Context, deckID string, count int, difficulty string) ([]models.BattleQuestion, error) {
	s.calls++
	out := make([]models.BattleQuestion, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.BattleQuestion{
			ID:           fmt.Sprintf("%s-gen%d-q%d", deckID, s.calls, i),
			Prompt:       fmt.Sprintf("question %d", i),
			Options:      []string{"right", "wrong-a", "wrong-b", "wrong-c"},
			CorrectIndex: 0,
			Points:       100,
			Difficulty:   difficulty,
		})
	}
	return out, nil
}

func testSettings() Settings {
	return Settings{
		MaxPlayers:      2,
		TimePerQuestion: 15,
		QuestionCount:   5,
		Difficulty:      "mixed",
		AllowPowerUps:   true,
	}
}

func newTestLobby() (*Lobby, *MemoryRoomStore) {
	store := NewMemoryRoomStore()
	return NewLobby(store, &stubContent{}), store
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		wantOK bool
	}{
		{"defaults are valid", func(s *Settings) {}, true},
		{"too few players", func(s *Settings) { s.MaxPlayers = 1 }, false},
		{"too many players", func(s *Settings) { s.MaxPlayers = 9 }, false},
		{"time too short", func(s *Settings) { s.TimePerQuestion = 4 }, false},
		{"time too long", func(s *Settings) { s.TimePerQuestion = 61 }, false},
		{"too few questions", func(s *Settings) { s.QuestionCount = 4 }, false},
		{"too many questions", func(s *Settings) { s.QuestionCount = 21 }, false},
		{"boundary values", func(s *Settings) {
			s.MaxPlayers = 8
			s.TimePerQuestion = 60
			s.QuestionCount = 20
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			}
		})
	}
}

func TestCreateRoom(t *testing.T) {
	lobby, _ := newTestLobby()
	ctx := context.Background()

	room, err := lobby.CreateRoom(ctx, "host-1", "deck-1", testSettings())
	require.NoError(t, err)

	assert.Len(t, room.Code, 6)
	assert.Equal(t, models.RoomWaiting, room.Status)
	assert.Equal(t, "host-1", room.HostID)

	questions, err := room.Questions()
	require.NoError(t, err)
	assert.Len(t, questions, 5)

	// The host joins through the realtime channel, not at creation.
	participants, err := room.Participants()
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestJoinRoom(t *testing.T) {
	lobby, _ := newTestLobby()
	ctx := context.Background()

	room, err := lobby.CreateRoom(ctx, "host-1", "deck-1", testSettings())
	require.NoError(t, err)

	_, err = lobby.JoinRoom(ctx, room.Code, Identity{UserID: "host-1", Username: "Alice"})
	require.NoError(t, err)

	joined, err := lobby.JoinRoom(ctx, room.Code, Identity{UserID: "u2", Username: "Bob"})
	require.NoError(t, err)
	participants, err := joined.Participants()
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.True(t, participants[1].IsActive)

	t.Run("duplicate join rejected", func(t *testing.T) {
		_, err := lobby.JoinRoom(ctx, room.Code, Identity{UserID: "u2", Username: "Bob"})
		assert.ErrorIs(t, err, ErrAlreadyJoined)
	})

	t.Run("capacity enforced", func(t *testing.T) {
		_, err := lobby.JoinRoom(ctx, room.Code, Identity{UserID: "u3", Username: "Carol"})
		assert.ErrorIs(t, err, ErrRoomFull)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := lobby.JoinRoom(ctx, "ZZZZZZ", Identity{UserID: "u4"})
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("case-insensitive code", func(t *testing.T) {
		room2, err := lobby.CreateRoom(ctx, "host-2", "deck-1", testSettings())
		require.NoError(t, err)
		_, err = lobby.JoinRoom(ctx, "  "+room2.Code+" ", Identity{UserID: "u5"})
		// Leading whitespace is not trimmed, only case folded.
		assert.Error(t, err)
		_, err = lobby.JoinRoom(ctx, lower(room2.Code), Identity{UserID: "u5"})
		assert.NoError(t, err)
	})
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	content := &stubContent{}
	store := NewMemoryRoomStore()
	lobby := NewLobby(store, content)

	room, err := lobby.CreateRoom(ctx, "host-1", "deck-1", testSettings())
	require.NoError(t, err)
	original, err := room.Questions()
	require.NoError(t, err)

	t.Run("non-host rejected", func(t *testing.T) {
		n := 3
		_, err := lobby.UpdateSettings(ctx, room.Code, "not-host", SettingsPatch{MaxPlayers: &n})
		assert.ErrorIs(t, err, ErrNotHost)
	})

	t.Run("invalid patch rejected", func(t *testing.T) {
		n := 99
		_, err := lobby.UpdateSettings(ctx, room.Code, "host-1", SettingsPatch{MaxPlayers: &n})
		assert.ErrorIs(t, err, ErrInvalidSettings)
	})

	t.Run("capacity change keeps questions", func(t *testing.T) {
		n := 4
		updated, err := lobby.UpdateSettings(ctx, room.Code, "host-1", SettingsPatch{MaxPlayers: &n})
		require.NoError(t, err)
		assert.Equal(t, 4, updated.MaxPlayers)

		qs, err := updated.Questions()
		require.NoError(t, err)
		assert.Equal(t, original[0].ID, qs[0].ID)
	})

	t.Run("difficulty change regenerates questions", func(t *testing.T) {
		d := "hard"
		updated, err := lobby.UpdateSettings(ctx, room.Code, "host-1", SettingsPatch{Difficulty: &d})
		require.NoError(t, err)
		assert.Equal(t, "hard", updated.Difficulty)

		qs, err := updated.Questions()
		require.NoError(t, err)
		require.Len(t, qs, 5)
		assert.NotEqual(t, original[0].ID, qs[0].ID)
	})

	t.Run("question count change regenerates and resizes", func(t *testing.T) {
		n := 10
		updated, err := lobby.UpdateSettings(ctx, room.Code, "host-1", SettingsPatch{QuestionCount: &n})
		require.NoError(t, err)

		qs, err := updated.Questions()
		require.NoError(t, err)
		assert.Len(t, qs, 10)
	})
}

func TestUniqueCodesAcrossLiveRooms(t *testing.T) {
	lobby, _ := newTestLobby()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		room, err := lobby.CreateRoom(ctx, fmt.Sprintf("host-%d", i), "deck-1", testSettings())
		require.NoError(t, err)
		assert.False(t, seen[room.Code], "code %s reused while live", room.Code)
		seen[room.Code] = true
	}
}

func TestMemoryRoomStoreOptimisticConcurrency(t *testing.T) {
	store := NewMemoryRoomStore()
	ctx := context.Background()

	room := &models.BattleRoom{Code: "ABC123", HostID: "h", Status: models.RoomWaiting}
	require.NoError(t, room.SetParticipants(nil))
	require.NoError(t, store.Create(ctx, room))

	a, err := store.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	b, err := store.GetByCode(ctx, "ABC123")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, a))
	assert.ErrorIs(t, store.Save(ctx, b), ErrConflict)

	// A fresh load carries the bumped version and saves cleanly.
	c, err := store.GetByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.NoError(t, store.Save(ctx, c))
}
