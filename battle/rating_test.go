package battle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybattle/models"
)

func TestEloExpected(t *testing.T) {
	assert.InDelta(t, 0.5, EloExpected(1000, 1000), 0.0001)
	assert.InDelta(t, 0.909, EloExpected(1400, 1000), 0.001)
	assert.InDelta(t, 0.091, EloExpected(1000, 1400), 0.001)
}

func TestEloDelta(t *testing.T) {
	tests := []struct {
		name      string
		rating    int
		oppRating int
		won       bool
		want      int
	}{
		{"equal ratings win", 1000, 1000, true, 16},
		{"equal ratings loss", 1000, 1000, false, -16},
		{"favorite wins small", 1200, 1000, true, 8},
		{"favorite loses big", 1200, 1000, false, -24},
		{"underdog wins big", 1000, 1200, true, 24},
		{"underdog loses small", 1000, 1200, false, -8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EloDelta(tt.rating, tt.oppRating, tt.won))
		})
	}
}

func TestApplyOutcome(t *testing.T) {
	st := &models.UserStats{UserID: "u1", EloRating: 1000}

	ApplyOutcome(st, BattleOutcome{
		Score: 500, CorrectAnswers: 4, AnswersGiven: 5, AvgResponseMs: 2000, Won: true,
	})
	assert.Equal(t, 1, st.TotalBattles)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.CurrentStreak)
	assert.Equal(t, 1, st.BestStreak)
	assert.InDelta(t, 500.0, st.AverageScore, 0.001)
	assert.InDelta(t, 80.0, st.AccuracyRate, 0.001)
	assert.InDelta(t, 2000.0, st.AverageResponseMs, 0.001)
	assert.Equal(t, 5, st.AnswersSeen)

	ApplyOutcome(st, BattleOutcome{
		Score: 300, CorrectAnswers: 2, AnswersGiven: 5, AvgResponseMs: 4000, Won: false,
	})
	assert.Equal(t, 2, st.TotalBattles)
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Equal(t, 1, st.BestStreak, "best streak survives a loss")
	assert.InDelta(t, 400.0, st.AverageScore, 0.001)
	assert.InDelta(t, 60.0, st.AccuracyRate, 0.001)
	assert.InDelta(t, 3000.0, st.AverageResponseMs, 0.001)
	assert.Equal(t, 10, st.AnswersSeen)
}

func TestApplyOutcomeNoAnswers(t *testing.T) {
	st := &models.UserStats{UserID: "u1", AccuracyRate: 75, AnswersSeen: 8}

	// A battle where the player never answered must not dilute the averages.
	ApplyOutcome(st, BattleOutcome{Score: 0, AnswersGiven: 0, Won: false})
	assert.InDelta(t, 75.0, st.AccuracyRate, 0.001)
	assert.Equal(t, 8, st.AnswersSeen)
}

func TestEvaluateAchievements(t *testing.T) {
	t.Run("loss earns nothing", func(t *testing.T) {
		st := &models.UserStats{}
		earned := EvaluateAchievements(st, BattleOutcome{Won: false, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 5, AvgResponseMs: 1000})
		assert.Empty(t, earned)
	})

	t.Run("any win carries first-win", func(t *testing.T) {
		st := &models.UserStats{CurrentStreak: 1}
		earned := EvaluateAchievements(st, BattleOutcome{Won: true, AnswersGiven: 3, TotalQuestions: 5, CorrectAnswers: 2})
		assert.Equal(t, []string{AchFirstWin}, earned)
	})

	t.Run("ten straight wins", func(t *testing.T) {
		st := &models.UserStats{CurrentStreak: 10}
		earned := EvaluateAchievements(st, BattleOutcome{Won: true, AnswersGiven: 3, TotalQuestions: 5, CorrectAnswers: 2})
		assert.Contains(t, earned, AchWinStreak10)
	})

	t.Run("perfect victory needs every question right", func(t *testing.T) {
		st := &models.UserStats{CurrentStreak: 1}
		earned := EvaluateAchievements(st, BattleOutcome{Won: true, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 5})
		assert.Contains(t, earned, AchPerfectVictory)

		earned = EvaluateAchievements(st, BattleOutcome{Won: true, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 4})
		assert.NotContains(t, earned, AchPerfectVictory)
	})

	t.Run("comeback from last at halfway", func(t *testing.T) {
		st := &models.UserStats{CurrentStreak: 1}
		earned := EvaluateAchievements(st, BattleOutcome{Won: true, WasLastAtHalf: true, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 3})
		assert.Contains(t, earned, AchComebackKing)
	})

	t.Run("speed demon reads the rolling average and needs no win", func(t *testing.T) {
		st := &models.UserStats{AnswersSeen: 12, AverageResponseMs: 3000}
		earned := EvaluateAchievements(st, BattleOutcome{Won: false, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 2})
		assert.Equal(t, []string{AchSpeedDemon}, earned)
	})

	t.Run("speed demon needs a sample", func(t *testing.T) {
		st := &models.UserStats{AnswersSeen: 9, AverageResponseMs: 3000}
		earned := EvaluateAchievements(st, BattleOutcome{Won: false, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 2})
		assert.Empty(t, earned)
	})

	t.Run("speed demon needs a fast average", func(t *testing.T) {
		st := &models.UserStats{AnswersSeen: 20, AverageResponseMs: 6500}
		earned := EvaluateAchievements(st, BattleOutcome{Won: false, AnswersGiven: 5, TotalQuestions: 5, CorrectAnswers: 2})
		assert.Empty(t, earned)
	})
}

// finishedRoom builds a finished room with the given participants and winner.
func finishedRoom(t *testing.T, winnerID string, participants []models.Participant) *models.BattleRoom {
	t.Helper()
	now := time.Now()
	room := &models.BattleRoom{
		Code:          "RATING",
		HostID:        participants[0].UserID,
		Status:        models.RoomFinished,
		QuestionCount: 5,
		FinishedAt:    &now,
	}
	if winnerID != "" {
		room.WinnerID = &winnerID
	}
	require.NoError(t, room.SetParticipants(participants))
	return room
}

func ratedParticipant(userID string, score, correct, answers int, active bool, joinedOffset time.Duration) models.Participant {
	base := time.Now().Add(joinedOffset)
	p := models.Participant{
		UserID:   userID,
		Username: userID,
		Score:    score,
		IsActive: active,
		JoinedAt: base,
	}
	for i := 0; i < answers; i++ {
		p.Answers = append(p.Answers, models.AnswerRecord{
			QuestionIndex: i,
			Correct:       i < correct,
			ElapsedMs:     2000,
			PointsEarned:  150,
		})
	}
	return p
}

func TestFinalizeHeadToHead(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	room := finishedRoom(t, "winner", []models.Participant{
		ratedParticipant("winner", 700, 5, 5, true, 0),
		ratedParticipant("loser", 200, 1, 5, true, time.Second),
	})

	require.NoError(t, updater.Finalize(ctx, room, nil))

	w, err := stats.GetOrCreate(ctx, "winner", "winner")
	require.NoError(t, err)
	assert.Equal(t, 1016, w.EloRating)
	assert.Equal(t, 1, w.Wins)
	assert.InDelta(t, 700.0, w.AverageScore, 0.001)

	l, err := stats.GetOrCreate(ctx, "loser", "loser")
	require.NoError(t, err)
	assert.Equal(t, 984, l.EloRating)
	assert.Equal(t, 1, l.Losses)

	assert.Contains(t, stats.Unlocks("winner"), AchFirstWin)
	assert.Contains(t, stats.Unlocks("winner"), AchPerfectVictory)
	assert.Empty(t, stats.Unlocks("loser"))

	records := stats.Records()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "RATING", rec.RoomCode)
		assert.Equal(t, 2, rec.PlayerCount)
		if rec.UserID == "winner" {
			assert.True(t, rec.Won)
			assert.Equal(t, 1, rec.Placement)
		} else {
			assert.False(t, rec.Won)
			assert.Equal(t, 2, rec.Placement)
		}
	}
}

func TestFinalizeLargeRoomSkipsRating(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	room := finishedRoom(t, "first", []models.Participant{
		ratedParticipant("first", 700, 5, 5, true, 0),
		ratedParticipant("second", 400, 3, 5, true, time.Second),
		ratedParticipant("third", 100, 1, 5, true, 2*time.Second),
	})

	require.NoError(t, updater.Finalize(ctx, room, nil))

	for _, id := range []string{"first", "second", "third"} {
		st, err := stats.GetOrCreate(ctx, id, id)
		require.NoError(t, err)
		assert.Equal(t, 1000, st.EloRating, "rating must not move outside head-to-head")
		assert.Equal(t, 1, st.TotalBattles)
	}

	w, err := stats.GetOrCreate(ctx, "first", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, w.Wins)
}

func TestFinalizeComebackAward(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	room := finishedRoom(t, "rally", []models.Participant{
		ratedParticipant("rally", 700, 4, 5, true, 0),
		ratedParticipant("fader", 300, 2, 5, true, time.Second),
	})

	require.NoError(t, updater.Finalize(ctx, room, map[string]bool{"rally": true}))

	assert.Contains(t, stats.Unlocks("rally"), AchComebackKing)
	assert.NotContains(t, stats.Unlocks("fader"), AchComebackKing)
}

func TestFinalizeSkipsInactiveParticipants(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	room := finishedRoom(t, "winner", []models.Participant{
		ratedParticipant("winner", 700, 5, 5, true, 0),
		ratedParticipant("loser", 200, 1, 5, true, time.Second),
		ratedParticipant("quitter", 150, 1, 2, false, 2*time.Second),
	})

	require.NoError(t, updater.Finalize(ctx, room, nil))

	// The quitter gets nothing durable: no battle count, loss, or record.
	q, err := stats.GetOrCreate(ctx, "quitter", "quitter")
	require.NoError(t, err)
	assert.Equal(t, 0, q.TotalBattles)
	assert.Equal(t, 0, q.Losses)
	assert.Equal(t, 1000, q.EloRating)
	assert.Empty(t, stats.Unlocks("quitter"))

	records := stats.Records()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.NotEqual(t, "quitter", rec.UserID)
	}

	// Two stayed to the end, so the battle still counts as head-to-head.
	w, err := stats.GetOrCreate(ctx, "winner", "winner")
	require.NoError(t, err)
	assert.Equal(t, 1016, w.EloRating)
}

func TestFinalizeAbandonedRoom(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	// A room everyone abandoned: no winner, only inactive participants.
	room := finishedRoom(t, "", []models.Participant{
		ratedParticipant("ghost", 0, 0, 0, false, 0),
	})
	require.NoError(t, updater.Finalize(ctx, room, nil))

	assert.Empty(t, stats.Records())
	assert.Empty(t, stats.Unlocks("ghost"))
}

func TestFinalizeTwiceKeepsSingleUnlock(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()
	updater := NewUpdater(stats)

	room := finishedRoom(t, "winner", []models.Participant{
		ratedParticipant("winner", 700, 5, 5, true, 0),
		ratedParticipant("loser", 200, 1, 5, true, time.Second),
	})

	require.NoError(t, updater.Finalize(ctx, room, nil))
	require.NoError(t, updater.Finalize(ctx, room, nil))

	firstWins := 0
	for _, code := range stats.Unlocks("winner") {
		if code == AchFirstWin {
			firstWins++
		}
	}
	assert.Equal(t, 1, firstWins)
}

func TestUnlockKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	stats := NewMemoryStatsStore()

	first := time.Now().Add(-time.Hour)
	require.NoError(t, stats.Unlock(ctx, "u1", AchFirstWin, first))
	require.NoError(t, stats.Unlock(ctx, "u1", AchFirstWin, time.Now()))

	stats.mu.Lock()
	got := stats.unlocks["u1"][AchFirstWin]
	stats.mu.Unlock()
	assert.True(t, got.Equal(first), "re-unlock must not overwrite the original timestamp")
	assert.Len(t, stats.Unlocks("u1"), 1)
}
