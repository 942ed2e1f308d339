package battle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybattle/models"
)

// recorder is a Transport fake that captures every pushed event.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Code    string
	Event   string
	UserID  string // empty for broadcasts
	Payload map[string]any
}

func (r *recorder) Broadcast(code, event string, payload any) {
	r.record(code, event, "", payload)
}

func (r *recorder) Unicast(code, userID, event string, payload any) {
	r.record(code, event, userID, payload)
}

func (r *recorder) record(code, event, userID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(map[string]any)
	r.events = append(r.events, recordedEvent{Code: code, Event: event, UserID: userID, Payload: p})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) all(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		CountdownTicks: 1,
		TickInterval:   20 * time.Millisecond,
		RevealDelay:    10 * time.Millisecond,
		LowTimeAt:      2,
	}
}

type battleFixture struct {
	engine  *Engine
	lobby   *Lobby
	store   RoomStore
	stats   *MemoryStatsStore
	runtime *Runtime
	rec     *recorder
	code    string
}

// newBattleFixture creates a waiting room with the given players joined.
func newBattleFixture(t *testing.T, settings Settings, players ...Identity) *battleFixture {
	return newBattleFixtureWith(t, settings, NewMemoryRoomStore(), testConfig(), players...)
}

func newBattleFixtureWith(t *testing.T, settings Settings, store RoomStore, cfg Config, players ...Identity) *battleFixture {
	t.Helper()
	ctx := context.Background()

	stats := NewMemoryStatsStore()
	lobby := NewLobby(store, &stubContent{})
	rec := &recorder{}
	runtime := NewRuntime()
	engine := NewEngine(store, runtime, NewUpdater(stats), rec, cfg)

	room, err := lobby.CreateRoom(ctx, players[0].UserID, "deck-1", settings)
	require.NoError(t, err)
	for _, p := range players {
		_, err := lobby.JoinRoom(ctx, room.Code, p)
		require.NoError(t, err)
	}

	return &battleFixture{engine: engine, lobby: lobby, store: store, stats: stats, runtime: runtime, rec: rec, code: room.Code}
}

func (f *battleFixture) waitEvent(t *testing.T, event string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.rec.count(event) >= n
	}, 3*time.Second, 2*time.Millisecond, "waiting for %d %s events", n, event)
}

func (f *battleFixture) room(t *testing.T) *models.BattleRoom {
	t.Helper()
	room, err := f.store.GetByCode(context.Background(), f.code)
	require.NoError(t, err)
	return room
}

func (f *battleFixture) question(t *testing.T, idx int) models.BattleQuestion {
	t.Helper()
	questions, err := f.room(t).Questions()
	require.NoError(t, err)
	require.Greater(t, len(questions), idx)
	return questions[idx]
}

func (f *battleFixture) score(t *testing.T, userID string) int {
	t.Helper()
	participants, err := f.room(t).Participants()
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID == userID {
			return p.Score
		}
	}
	t.Fatalf("participant %s not found", userID)
	return 0
}

var (
	alice = Identity{UserID: "u-alice", Username: "Alice"}
	bob   = Identity{UserID: "u-bob", Username: "Bob"}
	carol = Identity{UserID: "u-carol", Username: "Carol"}
)

func battleSettings() Settings {
	return Settings{
		MaxPlayers:      4,
		TimePerQuestion: 60,
		QuestionCount:   5,
		Difficulty:      "mixed",
		AllowPowerUps:   true,
	}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("non-host rejected", func(t *testing.T) {
		f := newBattleFixture(t, battleSettings(), alice, bob)
		assert.ErrorIs(t, f.engine.Start(ctx, f.code, bob.UserID), ErrNotHost)
	})

	t.Run("needs two players", func(t *testing.T) {
		f := newBattleFixture(t, battleSettings(), alice)
		assert.ErrorIs(t, f.engine.Start(ctx, f.code, alice.UserID), ErrNotEnoughPlayers)
	})

	t.Run("double start rejected", func(t *testing.T) {
		f := newBattleFixture(t, battleSettings(), alice, bob)
		require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
		assert.ErrorIs(t, f.engine.Start(ctx, f.code, alice.UserID), ErrRoomNotWaiting)
	})
}

func TestFullBattle(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtBattleStarting, 1)
	f.waitEvent(t, EvtCountdown, 1)

	budgetMs := 60 * 1000
	perQuestion := Score(100, 1000, budgetMs)

	for idx := 0; idx < 5; idx++ {
		// One new-question unicast per player per question.
		f.waitEvent(t, EvtNewQuestion, 2*(idx+1))
		q := f.question(t, idx)

		require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q.ID, q.CorrectAnswer(), 1000))
		require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, bob.UserID, q.ID, "wrong-a", 2000))

		f.waitEvent(t, EvtQuestionRevealed, idx+1)
	}

	f.waitEvent(t, EvtBattleFinished, 1)

	room := f.room(t)
	assert.Equal(t, models.RoomFinished, room.Status)
	assert.Equal(t, 5, room.CurrentQuestionIndex)
	require.NotNil(t, room.WinnerID)
	assert.Equal(t, alice.UserID, *room.WinnerID)
	assert.NotNil(t, room.FinishedAt)

	assert.Equal(t, 5*perQuestion, f.score(t, alice.UserID))
	assert.Equal(t, 0, f.score(t, bob.UserID))

	// Head-to-head ELO: equal ratings move 16 points each way.
	winner, err := f.stats.GetOrCreate(ctx, alice.UserID, alice.Username)
	require.NoError(t, err)
	assert.Equal(t, 1, winner.TotalBattles)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 1, winner.CurrentStreak)
	assert.Equal(t, 1016, winner.EloRating)
	assert.InDelta(t, 100.0, winner.AccuracyRate, 0.001)

	loser, err := f.stats.GetOrCreate(ctx, bob.UserID, bob.Username)
	require.NoError(t, err)
	assert.Equal(t, 1, loser.Losses)
	assert.Equal(t, 984, loser.EloRating)

	assert.Contains(t, f.stats.Unlocks(alice.UserID), AchFirstWin)
	assert.Contains(t, f.stats.Unlocks(alice.UserID), AchPerfectVictory)
	assert.NotContains(t, f.stats.Unlocks(bob.UserID), AchFirstWin)

	assert.Len(t, f.stats.Records(), 2)
}

func TestDuplicateAnswerIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)
	q := f.question(t, 0)

	require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q.ID, q.CorrectAnswer(), 1000))
	scoreAfterFirst := f.score(t, alice.UserID)

	require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q.ID, q.CorrectAnswer(), 1))

	assert.Equal(t, scoreAfterFirst, f.score(t, alice.UserID))
	assert.Equal(t, 1, f.rec.count(EvtPlayerAnswered))
}

func TestQuestionTimeout(t *testing.T) {
	ctx := context.Background()
	settings := battleSettings()
	settings.TimePerQuestion = 5
	f := newBattleFixture(t, settings, alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)

	// Nobody answers; the shared timer expires and the reveal still happens.
	f.waitEvent(t, EvtTimeExpired, 1)
	f.waitEvent(t, EvtQuestionRevealed, 1)

	reveals := f.rec.all(EvtQuestionRevealed)
	require.NotEmpty(t, reveals)
	assert.Equal(t, "timeout", reveals[0].Payload["reason"])
	assert.GreaterOrEqual(t, f.rec.count(EvtLowTimeWarning), 1)

	// Answers for the lapsed question are rejected.
	q := f.question(t, 0)
	err := f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q.ID, q.CorrectAnswer(), 100)
	assert.ErrorIs(t, err, ErrAnswerWindowClosed)
}

func TestDisconnectMidBattle(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob, carol)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 3)

	require.NoError(t, f.engine.MarkDisconnected(ctx, f.code, carol.UserID))
	f.waitEvent(t, EvtParticipantLeft, 1)

	// The battle continues for the remaining players. Question 0 was dealt to
	// three players; later ones reach only the two survivors.
	for idx := 0; idx < 5; idx++ {
		f.waitEvent(t, EvtNewQuestion, 3+2*idx)
		q := f.question(t, idx)
		require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q.ID, q.CorrectAnswer(), 1000))
		require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, bob.UserID, q.ID, "wrong-a", 2000))
		f.waitEvent(t, EvtQuestionRevealed, idx+1)
	}

	f.waitEvent(t, EvtBattleFinished, 1)

	room := f.room(t)
	require.NotNil(t, room.WinnerID)
	assert.Equal(t, alice.UserID, *room.WinnerID)

	participants, err := room.Participants()
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID == carol.UserID {
			assert.False(t, p.IsActive)
			assert.NotNil(t, p.LeftAt)
		}
	}

	// With one dropout the battle ended as a clean head-to-head, so the two
	// survivors trade rating; the dropout accrues no stats at all.
	st, err := f.stats.GetOrCreate(ctx, alice.UserID, alice.Username)
	require.NoError(t, err)
	assert.Equal(t, 1016, st.EloRating)
	assert.Equal(t, 1, st.Wins)

	gone, err := f.stats.GetOrCreate(ctx, carol.UserID, carol.Username)
	require.NoError(t, err)
	assert.Equal(t, 1000, gone.EloRating)
	assert.Equal(t, 0, gone.TotalBattles)
	assert.Equal(t, 0, gone.Losses)

	// Only the two finishers get battle records.
	assert.Len(t, f.stats.Records(), 2)
}

func TestAllDisconnectedFinishesBattle(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)

	require.NoError(t, f.engine.MarkDisconnected(ctx, f.code, alice.UserID))
	require.NoError(t, f.engine.MarkDisconnected(ctx, f.code, bob.UserID))

	f.waitEvent(t, EvtBattleFinished, 1)

	room := f.room(t)
	assert.Equal(t, models.RoomFinished, room.Status)
	assert.Nil(t, room.WinnerID)
}

func TestLobbyLeaveRemovesParticipant(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob)

	require.NoError(t, f.engine.MarkDisconnected(ctx, f.code, bob.UserID))

	participants, err := f.room(t).Participants()
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, alice.UserID, participants[0].UserID)

	// The freed seat can be taken again.
	_, err = f.lobby.JoinRoom(ctx, f.code, bob)
	assert.NoError(t, err)
}

func TestPowerUps(t *testing.T) {
	ctx := context.Background()
	f := newBattleFixture(t, battleSettings(), alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)
	q0 := f.question(t, 0)

	t.Run("unknown type rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.engine.UsePowerUp(ctx, f.code, alice.UserID, "mind-reader"), ErrUnknownPowerUp)
	})

	t.Run("fifty-fifty unicasts two options", func(t *testing.T) {
		require.NoError(t, f.engine.UsePowerUp(ctx, f.code, alice.UserID, PowerUpFiftyFifty))
		events := f.rec.all(EvtPowerUpActivated)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, alice.UserID, last.UserID)
		opts, ok := last.Payload["options"].([]string)
		require.True(t, ok)
		require.Len(t, opts, 2)
		assert.Contains(t, opts, q0.CorrectAnswer())
	})

	t.Run("double points applies to next correct answer", func(t *testing.T) {
		require.NoError(t, f.engine.UsePowerUp(ctx, f.code, bob.UserID, PowerUpDoublePoints))

		require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, bob.UserID, q0.ID, q0.CorrectAnswer(), 1000))
		expected := 2 * Score(100, 1000, 60*1000)
		assert.Equal(t, expected, f.score(t, bob.UserID))
	})

	t.Run("reuse rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.engine.UsePowerUp(ctx, f.code, bob.UserID, PowerUpDoublePoints), ErrPowerUpUsed)
	})

	// Finish question 0 and move to question 1; Bob leads after doubling.
	require.NoError(t, f.engine.SubmitAnswer(ctx, f.code, alice.UserID, q0.ID, q0.CorrectAnswer(), 1000))
	f.waitEvent(t, EvtQuestionRevealed, 1)
	f.waitEvent(t, EvtNewQuestion, 4)

	t.Run("steal by the leader is a benign no-op", func(t *testing.T) {
		before := f.score(t, bob.UserID)
		require.NoError(t, f.engine.UsePowerUp(ctx, f.code, bob.UserID, PowerUpStealPoints))
		assert.Equal(t, before, f.score(t, bob.UserID))
	})

	t.Run("steal transfers from the leader", func(t *testing.T) {
		leaderBefore := f.score(t, bob.UserID)
		chaserBefore := f.score(t, alice.UserID)

		require.NoError(t, f.engine.UsePowerUp(ctx, f.code, alice.UserID, PowerUpStealPoints))

		assert.Equal(t, leaderBefore-StealAmount, f.score(t, bob.UserID))
		assert.Equal(t, chaserBefore+StealAmount, f.score(t, alice.UserID))
	})

	t.Run("time freeze broadcasts", func(t *testing.T) {
		require.NoError(t, f.engine.UsePowerUp(ctx, f.code, bob.UserID, PowerUpTimeFreeze))
		events := f.rec.all(EvtPowerUpActivated)
		last := events[len(events)-1]
		assert.Equal(t, PowerUpTimeFreeze, last.Payload["type"])
	})
}

// flakyRoomStore reports a stale write for the next n saves, forcing the
// optimistic retry path.
type flakyRoomStore struct {
	*MemoryRoomStore
	mu   sync.Mutex
	fail int
}

func (s *flakyRoomStore) failNext(n int) {
	s.mu.Lock()
	s.fail = n
	s.mu.Unlock()
}

func (s *flakyRoomStore) Save(ctx context.Context, room *models.BattleRoom) error {
	s.mu.Lock()
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		return ErrConflict
	}
	s.mu.Unlock()
	return s.MemoryRoomStore.Save(ctx, room)
}

func TestTimeFreezeAppliedOnceAcrossRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyRoomStore{MemoryRoomStore: NewMemoryRoomStore()}
	f := newBattleFixtureWith(t, battleSettings(), store, testConfig(), alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)

	// A stale first write forces a second pass through the mutation closure;
	// the freeze must still pause the clock for exactly one allotment.
	store.failNext(1)
	require.NoError(t, f.engine.UsePowerUp(ctx, f.code, alice.UserID, PowerUpTimeFreeze))

	rt, ok := f.runtime.get(f.code)
	require.True(t, ok)
	rt.mu.Lock()
	frozen := rt.freezeTicks
	rt.mu.Unlock()
	assert.Equal(t, FreezeSeconds, frozen)
}

func TestLowTimeWarningShortBudget(t *testing.T) {
	ctx := context.Background()
	settings := battleSettings()
	settings.TimePerQuestion = 5
	cfg := testConfig()
	cfg.LowTimeAt = 10
	cfg.RevealDelay = 500 * time.Millisecond
	f := newBattleFixtureWith(t, settings, NewMemoryRoomStore(), cfg, alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtTimeExpired, 1)

	// The whole budget sits inside the warning threshold: the warning fires
	// on the first tick and exactly once for the question.
	assert.Equal(t, 1, f.rec.count(EvtLowTimeWarning))
}

func TestPowerUpsDisabled(t *testing.T) {
	ctx := context.Background()
	settings := battleSettings()
	settings.AllowPowerUps = false
	f := newBattleFixture(t, settings, alice, bob)

	require.NoError(t, f.engine.Start(ctx, f.code, alice.UserID))
	f.waitEvent(t, EvtNewQuestion, 2)

	assert.ErrorIs(t, f.engine.UsePowerUp(ctx, f.code, alice.UserID, PowerUpFiftyFifty), ErrPowerUpsDisabled)
}
