// battle/engine.go - Battle state machine driver
package battle

import (
	"context"
	"fmt"
	"log"
	mathrand "math/rand"
	"sort"
	"time"

	"studybattle/models"
)

// Realtime event names, room-scoped broadcast unless noted.
const (
	EvtRoomUpdated      = "room-updated"
	EvtBattleStarting   = "battle-starting"
	EvtCountdown        = "countdown"
	EvtNewQuestion      = "new-question" // unicast, per-player option order
	EvtTimerTick        = "timer-tick"
	EvtLowTimeWarning   = "low-time-warning"
	EvtTimeExpired      = "time-expired"
	EvtPlayerAnswered   = "player-answered"
	EvtQuestionRevealed = "question-revealed"
	EvtPowerUpActivated = "powerup-activated"
	EvtParticipantLeft  = "participant-left"
	EvtBattleFinished   = "battle-finished"
	EvtOperationError   = "operation-error" // unicast to the offending caller
)

// Transport pushes events to connected room members. The WebSocket layer
// implements it; tests use a recording fake.
type Transport interface {
	Broadcast(code, event string, payload any)
	Unicast(code, userID, event string, payload any)
}

// Config holds the fixed pacing of the state machine. Tests shrink the
// intervals; production uses DefaultConfig.
type Config struct {
	CountdownTicks int
	TickInterval   time.Duration
	RevealDelay    time.Duration
	LowTimeAt      int // seconds remaining that triggers the low-time signal
}

func DefaultConfig() Config {
	return Config{
		CountdownTicks: 3,
		TickInterval:   time.Second,
		RevealDelay:    3 * time.Second,
		LowTimeAt:      5,
	}
}

// LeaderboardEntry is one row of the ranked standings.
type LeaderboardEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Score    int    `json:"score"`
	IsActive bool   `json:"is_active"`
}

// Engine drives rooms through countdown -> question/reveal cycles ->
// finished. All mutations to one room are serialized through its runtime
// mutex; durable writes additionally carry the optimistic version check, so
// a timer-driven timeout racing an answer submission cannot lose an update.
type Engine struct {
	store   RoomStore
	runtime *Runtime
	updater *Updater
	tx      Transport
	cfg     Config
}

func NewEngine(store RoomStore, runtime *Runtime, updater *Updater, tx Transport, cfg Config) *Engine {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, runtime: runtime, updater: updater, tx: tx, cfg: cfg}
}

// Start transitions a waiting room to active, runs the 3-2-1 countdown, and
// emits the first question. Host-only; requires at least 2 participants.
func (e *Engine) Start(ctx context.Context, code, callerID string) error {
	room, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		if r.Status != models.RoomWaiting {
			return ErrRoomNotWaiting
		}
		if r.HostID != callerID {
			return ErrNotHost
		}
		n, err := r.ActiveCount()
		if err != nil {
			return err
		}
		if n < MinPlayers {
			return ErrNotEnoughPlayers
		}
		now := time.Now()
		r.Status = models.RoomActive
		r.StartedAt = &now
		r.CurrentQuestionIndex = 0
		return nil
	})
	if err != nil {
		return err
	}

	e.runtime.create(room.Code)
	log.Printf("🎮 Battle starting in room %s", room.Code)
	e.tx.Broadcast(room.Code, EvtBattleStarting, map[string]any{"question_count": room.QuestionCount})

	go e.runCountdown(room.Code)
	return nil
}

// runCountdown broadcasts the fixed 3-2-1 ticks, one per interval, then
// enters the first question.
func (e *Engine) runCountdown(code string) {
	defer e.recoverRoom(code, "countdown")

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for count := e.cfg.CountdownTicks; count >= 1; count-- {
		e.tx.Broadcast(code, EvtCountdown, map[string]any{"count": count})
		<-ticker.C
	}
	e.enterQuestion(code, 0)
}

// enterQuestion publishes question i and starts its countdown timer.
func (e *Engine) enterQuestion(code string, idx int) {
	defer e.recoverRoom(code, "enter-question")

	rt, ok := e.runtime.get(code)
	if !ok {
		return
	}

	rt.mu.Lock()
	if rt.phase == PhaseFinished {
		rt.mu.Unlock()
		return
	}
	rt.cancelTimerLocked()
	rt.phase = PhaseQuestion
	rt.questionIdx = idx
	rt.answered = make(map[string]bool)
	rt.lowTimeSent = false
	rt.questionStarted = time.Now()
	stop := make(chan struct{})
	rt.stopTimer = stop
	rt.mu.Unlock()

	ctx := context.Background()
	room, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		if r.Status != models.RoomActive {
			return ErrBattleNotActive
		}
		r.CurrentQuestionIndex = idx
		return nil
	})
	if err != nil {
		log.Printf("⚠️  Room %s failed to enter question %d: %v", code, idx+1, err)
		return
	}

	questions, err := room.Questions()
	if err != nil || idx >= len(questions) {
		log.Printf("⚠️  Room %s has no question at index %d: %v", code, idx, err)
		return
	}
	q := questions[idx]

	participants, err := room.Participants()
	if err != nil {
		log.Printf("⚠️  Room %s failed to decode participants: %v", code, err)
		return
	}

	rt.mu.Lock()
	rt.secondsLeft = room.TimePerQuestion
	rt.mu.Unlock()

	// Option order is shuffled independently per recipient so it carries no
	// cross-player signal.
	rng := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	for _, p := range participants {
		if !p.IsActive {
			continue
		}
		e.tx.Unicast(code, p.UserID, EvtNewQuestion, map[string]any{
			"index": idx,
			"total": room.QuestionCount,
			"question": map[string]any{
				"id":                 q.ID,
				"prompt":             q.Prompt,
				"options":            ShuffledOptions(q, rng),
				"time_limit_seconds": room.TimePerQuestion,
			},
		})
	}

	log.Printf("❓ Room %s question %d/%d (%ds)", code, idx+1, room.QuestionCount, room.TimePerQuestion)
	go e.runQuestionTimer(code, idx, stop)
}

// runQuestionTimer ticks the shared countdown at 1-second resolution. Frozen
// ticks hold the clock still without suppressing the heartbeat.
func (e *Engine) runQuestionTimer(code string, idx int, stop <-chan struct{}) {
	defer e.recoverRoom(code, "question-timer")

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		rt, ok := e.runtime.get(code)
		if !ok {
			return
		}

		rt.mu.Lock()
		if rt.phase != PhaseQuestion || rt.questionIdx != idx {
			rt.mu.Unlock()
			return
		}
		if rt.freezeTicks > 0 {
			rt.freezeTicks--
			secondsLeft := rt.secondsLeft
			rt.mu.Unlock()
			e.tx.Broadcast(code, EvtTimerTick, map[string]any{"seconds_left": secondsLeft, "frozen": true})
			continue
		}
		rt.secondsLeft--
		secondsLeft := rt.secondsLeft
		warn := false
		if secondsLeft > 0 && secondsLeft <= e.cfg.LowTimeAt && !rt.lowTimeSent {
			rt.lowTimeSent = true
			warn = true
		}
		rt.mu.Unlock()

		if secondsLeft > 0 {
			e.tx.Broadcast(code, EvtTimerTick, map[string]any{"seconds_left": secondsLeft})
			if warn {
				e.tx.Broadcast(code, EvtLowTimeWarning, map[string]any{"seconds_left": secondsLeft})
			}
			continue
		}

		e.tx.Broadcast(code, EvtTimeExpired, map[string]any{"index": idx})
		e.advanceToReveal(code, idx, "timeout")
		return
	}
}

// SubmitAnswer records a participant's answer for the current question.
// Duplicate submissions for an already-answered question are silent no-ops.
func (e *Engine) SubmitAnswer(ctx context.Context, code, userID, questionID, choice string, elapsedMs int) error {
	rt, ok := e.runtime.get(code)
	if !ok {
		return ErrBattleNotActive
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.phase != PhaseQuestion {
		return ErrAnswerWindowClosed
	}
	if rt.answered[userID] {
		return nil // designed no-op
	}
	idx := rt.questionIdx

	var (
		points    int
		correct   bool
		total     int
		doubled   bool
		duplicate bool
	)
	room, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		questions, err := r.Questions()
		if err != nil || idx >= len(questions) {
			return ErrAnswerWindowClosed
		}
		q := questions[idx]
		if q.ID != questionID {
			return ErrAnswerWindowClosed
		}

		participants, err := r.Participants()
		if err != nil {
			return err
		}
		pi := -1
		for i := range participants {
			if participants[i].UserID == userID {
				pi = i
				break
			}
		}
		if pi < 0 || !participants[pi].IsActive {
			return ErrNotParticipant
		}
		for _, a := range participants[pi].Answers {
			if a.QuestionIndex == idx {
				duplicate = true
				return nil
			}
		}
		duplicate = false

		budgetMs := r.TimePerQuestion * 1000
		if elapsedMs < 0 {
			elapsedMs = 0
		}
		if elapsedMs > budgetMs {
			elapsedMs = budgetMs
		}

		correct = choice == q.CorrectAnswer()
		points = 0
		doubled = false
		if correct {
			points = Score(q.Points, elapsedMs, budgetMs)
			if rt.doubleNext[userID] {
				points *= 2
				doubled = true
			}
		}

		participants[pi].Answers = append(participants[pi].Answers, models.AnswerRecord{
			QuestionIndex: idx,
			QuestionID:    q.ID,
			Choice:        choice,
			Correct:       correct,
			ElapsedMs:     elapsedMs,
			PointsEarned:  points,
			Doubled:       doubled,
		})
		if points != 0 {
			participants[pi].Score += points
			participants[pi].ScoreReachedAt = time.Now()
		}
		total = participants[pi].Score
		return r.SetParticipants(participants)
	})
	if err != nil {
		return err
	}

	rt.answered[userID] = true
	if duplicate {
		return nil
	}
	if doubled {
		delete(rt.doubleNext, userID)
	}

	e.tx.Broadcast(code, EvtPlayerAnswered, map[string]any{
		"user_id":       userID,
		"correct":       correct,
		"points_earned": points,
		"total_score":   total,
	})

	participants, err := room.Participants()
	if err != nil {
		return err
	}
	allAnswered := true
	for _, p := range participants {
		if p.IsActive && !rt.answered[p.UserID] {
			allAnswered = false
			break
		}
	}
	if allAnswered {
		log.Printf("✅ Room %s: all active players answered Q%d, advancing early", code, idx+1)
		go e.advanceToReveal(code, idx, "all-answered")
	}
	return nil
}

// advanceToReveal moves question(idx) to reveal(idx). The phase tag check
// makes a second advance for an already-advanced question a silent no-op,
// whether it came from the timer or the all-answered path.
func (e *Engine) advanceToReveal(code string, idx int, reason string) {
	defer e.recoverRoom(code, "reveal")

	rt, ok := e.runtime.get(code)
	if !ok {
		return
	}

	rt.mu.Lock()
	if rt.phase != PhaseQuestion || rt.questionIdx != idx {
		rt.mu.Unlock()
		return
	}
	rt.cancelTimerLocked()
	rt.phase = PhaseReveal
	rt.mu.Unlock()

	room, err := e.store.GetByCode(context.Background(), code)
	if err != nil {
		log.Printf("⚠️  Room %s reveal failed to load: %v", code, err)
		return
	}
	questions, err := room.Questions()
	if err != nil || idx >= len(questions) {
		log.Printf("⚠️  Room %s reveal has no question %d: %v", code, idx, err)
		return
	}
	participants, err := room.Participants()
	if err != nil {
		log.Printf("⚠️  Room %s reveal failed to decode participants: %v", code, err)
		return
	}

	q := questions[idx]
	board := rankParticipants(participants)
	e.tx.Broadcast(code, EvtQuestionRevealed, map[string]any{
		"index":          idx,
		"correct_answer": q.CorrectAnswer(),
		"explanation":    q.Explanation,
		"leaderboard":    board,
		"reason":         reason,
	})

	// Record who sat in last place at the halfway mark for the comeback award.
	if idx+1 == room.QuestionCount/2 && len(board) > 1 {
		rt.mu.Lock()
		lowest := board[len(board)-1].Score
		for _, entry := range board {
			if entry.IsActive && entry.Score == lowest {
				rt.lastAtHalfway[entry.UserID] = true
			}
		}
		rt.mu.Unlock()
	}

	last := idx+1 >= room.QuestionCount
	time.AfterFunc(e.cfg.RevealDelay, func() {
		if last {
			e.finish(code)
		} else {
			e.enterQuestion(code, idx+1)
		}
	})
}

// UsePowerUp applies a power-up during the current question. Each type is
// usable once per participant per battle.
func (e *Engine) UsePowerUp(ctx context.Context, code, userID, powerUpType string) error {
	rt, ok := e.runtime.get(code)
	if !ok {
		return ErrBattleNotActive
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.phase != PhaseQuestion {
		return ErrAnswerWindowClosed
	}
	idx := rt.questionIdx

	var payload map[string]any
	var unicastOnly bool

	_, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		if !r.AllowPowerUps {
			return ErrPowerUpsDisabled
		}
		participants, err := r.Participants()
		if err != nil {
			return err
		}
		pi := -1
		for i := range participants {
			if participants[i].UserID == userID {
				pi = i
				break
			}
		}
		if pi < 0 || !participants[pi].IsActive {
			return ErrNotParticipant
		}
		for _, used := range participants[pi].PowerUpsUsed {
			if used == powerUpType {
				return ErrPowerUpUsed
			}
		}

		switch powerUpType {
		case PowerUpFiftyFifty:
			questions, err := r.Questions()
			if err != nil || idx >= len(questions) {
				return ErrAnswerWindowClosed
			}
			rng := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
			payload = map[string]any{
				"user_id": userID,
				"type":    powerUpType,
				"options": FiftyFifty(questions[idx], rng),
			}
			unicastOnly = true

		case PowerUpTimeFreeze:
			payload = map[string]any{
				"user_id": userID,
				"type":    powerUpType,
				"seconds": FreezeSeconds,
			}

		case PowerUpStealPoints:
			board := rankParticipants(participants)
			if len(board) == 0 {
				return ErrNotParticipant
			}
			leaderID := board[0].UserID
			if leaderID == userID {
				// Requester already leads: benign acknowledgment, nothing
				// consumed, nothing transferred.
				payload = map[string]any{
					"user_id": userID,
					"type":    powerUpType,
					"amount":  0,
				}
				unicastOnly = true
				return nil
			}
			li := -1
			for i := range participants {
				if participants[i].UserID == leaderID {
					li = i
					break
				}
			}
			amount := StealTransfer(participants[li].Score)
			now := time.Now()
			participants[li].Score -= amount
			participants[li].ScoreReachedAt = now
			participants[pi].Score += amount
			participants[pi].ScoreReachedAt = now
			payload = map[string]any{
				"user_id":      userID,
				"type":         powerUpType,
				"amount":       amount,
				"from_user_id": leaderID,
				"leaderboard":  rankParticipants(participants),
			}

		case PowerUpDoublePoints:
			payload = map[string]any{
				"user_id": userID,
				"type":    powerUpType,
			}

		default:
			return ErrUnknownPowerUp
		}

		participants[pi].PowerUpsUsed = append(participants[pi].PowerUpsUsed, powerUpType)
		return r.SetParticipants(participants)
	})
	if err != nil {
		return err
	}

	// Runtime effects land once, after the durable write succeeds: the
	// closure may re-run on a stale-write retry.
	switch powerUpType {
	case PowerUpTimeFreeze:
		rt.freezeTicks += FreezeSeconds
	case PowerUpDoublePoints:
		rt.doubleNext[userID] = true
	}

	if unicastOnly {
		e.tx.Unicast(code, userID, EvtPowerUpActivated, payload)
	} else {
		e.tx.Broadcast(code, EvtPowerUpActivated, payload)
	}
	log.Printf("⚡ Room %s: %s used %s", code, userID, powerUpType)
	return nil
}

// MarkDisconnected handles a participant dropping. In the lobby they are
// removed outright; mid-battle they are marked inactive and the battle
// continues for the rest, recalculating the early-advance threshold.
func (e *Engine) MarkDisconnected(ctx context.Context, code, userID string) error {
	rt, running := e.runtime.get(code)

	room, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		participants, err := r.Participants()
		if err != nil {
			return err
		}
		now := time.Now()
		if r.Status == models.RoomWaiting {
			kept := participants[:0]
			for _, p := range participants {
				if p.UserID != userID {
					kept = append(kept, p)
				}
			}
			return r.SetParticipants(kept)
		}
		for i := range participants {
			if participants[i].UserID == userID && participants[i].IsActive {
				participants[i].IsActive = false
				participants[i].LeftAt = &now
			}
		}
		return r.SetParticipants(participants)
	})
	if err != nil {
		return err
	}

	if room.Status == models.RoomWaiting {
		participants, _ := room.Participants()
		e.tx.Broadcast(code, EvtRoomUpdated, map[string]any{"participants": rankParticipants(participants)})
		return nil
	}

	e.tx.Broadcast(code, EvtParticipantLeft, map[string]any{"user_id": userID})

	if !running || room.Status != models.RoomActive {
		return nil
	}

	participants, err := room.Participants()
	if err != nil {
		return err
	}

	rt.mu.Lock()
	active := 0
	allAnswered := true
	idx := rt.questionIdx
	inQuestion := rt.phase == PhaseQuestion
	for _, p := range participants {
		if !p.IsActive {
			continue
		}
		active++
		if !rt.answered[p.UserID] {
			allAnswered = false
		}
	}
	rt.mu.Unlock()

	if active == 0 {
		log.Printf("🚪 Room %s: all participants left, finishing battle", code)
		go e.finish(code)
		return nil
	}
	if inQuestion && allAnswered {
		log.Printf("✅ Room %s: remaining %d players already answered Q%d, advancing", code, active, idx+1)
		go e.advanceToReveal(code, idx, "all-answered")
	}
	return nil
}

// finish computes the winner, hands the room to the stats updater, broadcasts
// final standings, and releases runtime resources. Idempotent: a second
// finish attempt is a silent no-op.
func (e *Engine) finish(code string) {
	defer e.recoverRoom(code, "finish")

	rt, ok := e.runtime.get(code)
	if !ok {
		return
	}
	rt.mu.Lock()
	if rt.phase == PhaseFinished {
		rt.mu.Unlock()
		return
	}
	rt.phase = PhaseFinished
	rt.cancelTimerLocked()
	comeback := make(map[string]bool, len(rt.lastAtHalfway))
	for id := range rt.lastAtHalfway {
		comeback[id] = true
	}
	rt.mu.Unlock()

	ctx := context.Background()
	room, err := e.mutateRoom(ctx, code, func(r *models.BattleRoom) error {
		if r.Status == models.RoomFinished {
			return nil
		}
		participants, err := r.Participants()
		if err != nil {
			return err
		}
		now := time.Now()
		r.Status = models.RoomFinished
		r.FinishedAt = &now
		r.CurrentQuestionIndex = r.QuestionCount
		if w := pickWinner(participants); w != nil {
			id := w.UserID
			r.WinnerID = &id
		}
		return nil
	})
	if err != nil {
		log.Printf("⚠️  Room %s failed to finish: %v", code, err)
		e.runtime.remove(code)
		return
	}

	if e.updater != nil {
		if err := e.updater.Finalize(ctx, room, comeback); err != nil {
			log.Printf("⚠️  Room %s stats update failed: %v", code, err)
		}
	}

	participants, _ := room.Participants()
	winner := ""
	if room.WinnerID != nil {
		winner = *room.WinnerID
	}
	e.tx.Broadcast(code, EvtBattleFinished, map[string]any{
		"winner":          winner,
		"final_standings": rankParticipants(participants),
	})
	log.Printf("🏁 Battle finished in room %s, winner=%s", code, winner)

	e.runtime.remove(code)
}

// mutateRoom loads, mutates, and saves a room, retrying on stale writes.
func (e *Engine) mutateRoom(ctx context.Context, code string, fn func(*models.BattleRoom) error) (*models.BattleRoom, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, err := e.store.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := fn(room); err != nil {
			return nil, err
		}
		if err := e.store.Save(ctx, room); err != nil {
			if err == ErrConflict {
				continue
			}
			return nil, fmt.Errorf("persist room %s: %w", code, err)
		}
		return room, nil
	}
	return nil, ErrConflict
}

// recoverRoom keeps one room's panic from taking down the process or any
// other room: the failure is logged and the room is left in its last
// consistent state.
func (e *Engine) recoverRoom(code, stage string) {
	if r := recover(); r != nil {
		log.Printf("💥 Room %s panicked during %s: %v", code, stage, r)
	}
}

// rankParticipants sorts by score descending, ties broken by join order.
func rankParticipants(ps []models.Participant) []LeaderboardEntry {
	sorted := make([]models.Participant, len(ps))
	copy(sorted, ps)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
	})

	out := make([]LeaderboardEntry, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, LeaderboardEntry{
			UserID:   p.UserID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Score:    p.Score,
			IsActive: p.IsActive,
		})
	}
	return out
}

// pickWinner returns the highest-scoring active participant. Ties go to
// whoever reached the score first, then to join order.
func pickWinner(ps []models.Participant) *models.Participant {
	var winner *models.Participant
	for i := range ps {
		p := &ps[i]
		if !p.IsActive {
			continue
		}
		switch {
		case winner == nil:
			winner = p
		case p.Score > winner.Score:
			winner = p
		case p.Score == winner.Score && p.ScoreReachedAt.Before(winner.ScoreReachedAt):
			winner = p
		case p.Score == winner.Score && p.ScoreReachedAt.Equal(winner.ScoreReachedAt) && p.JoinedAt.Before(winner.JoinedAt):
			winner = p
		}
	}
	return winner
}
