// battle/rating.go - Post-battle stats, ELO, and achievement evaluation
package battle

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"studybattle/models"
)

// EloK is the fixed K-factor for rating adjustments.
const EloK = 32

// Achievement codes in the seeded catalog.
const (
	AchFirstWin       = "first-win"
	AchWinStreak10    = "win-streak-10"
	AchPerfectVictory = "perfect-victory"
	AchSpeedDemon     = "speed-demon"
	AchComebackKing   = "comeback-king"
)

// speedDemonMaxAvgMs and speedDemonMinAnswers gate the speed-demon award:
// a sub-5-second rolling average response over a meaningful sample.
const (
	speedDemonMaxAvgMs   = 5000
	speedDemonMinAnswers = 10
)

// BattleOutcome is one participant's summary of a finished battle.
type BattleOutcome struct {
	UserID         string
	Username       string
	Score          int
	CorrectAnswers int
	AnswersGiven   int
	TotalQuestions int
	AvgResponseMs  int
	Won            bool
	Placement      int
	PlayerCount    int
	WasLastAtHalf  bool
}

// EloExpected is the standard logistic expectation of a beating b.
func EloExpected(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// EloDelta returns the signed rating change for a player at rating against
// an opponent at oppRating, given the result.
func EloDelta(rating, oppRating int, won bool) int {
	score := 0.0
	if won {
		score = 1.0
	}
	return int(math.Round(EloK * (score - EloExpected(rating, oppRating))))
}

// ApplyOutcome folds one battle into the running aggregates. The rolling
// averages are exposure-weighted: each is re-centered by the number of
// answers (or battles) it already covers, never recomputed from history.
func ApplyOutcome(stats *models.UserStats, o BattleOutcome) {
	stats.TotalBattles++
	if o.Won {
		stats.Wins++
		stats.CurrentStreak++
		if stats.CurrentStreak > stats.BestStreak {
			stats.BestStreak = stats.CurrentStreak
		}
	} else {
		stats.Losses++
		stats.CurrentStreak = 0
	}

	battles := float64(stats.TotalBattles)
	stats.AverageScore = stats.AverageScore + (float64(o.Score)-stats.AverageScore)/battles

	if o.AnswersGiven > 0 {
		prev := float64(stats.AnswersSeen)
		next := prev + float64(o.AnswersGiven)
		battleAccuracy := 100 * float64(o.CorrectAnswers) / float64(o.AnswersGiven)
		stats.AccuracyRate = (stats.AccuracyRate*prev + battleAccuracy*float64(o.AnswersGiven)) / next
		stats.AverageResponseMs = (stats.AverageResponseMs*prev + float64(o.AvgResponseMs)*float64(o.AnswersGiven)) / next
		stats.AnswersSeen = int(next)
	}
}

// EvaluateAchievements returns the codes this outcome newly qualifies for.
// The store's Unlock handles already-held codes idempotently, so duplicates
// here are harmless.
func EvaluateAchievements(stats *models.UserStats, o BattleOutcome) []string {
	var earned []string
	if o.Won {
		earned = append(earned, AchFirstWin)
		if stats.CurrentStreak >= 10 {
			earned = append(earned, AchWinStreak10)
		}
		if o.AnswersGiven == o.TotalQuestions && o.CorrectAnswers == o.TotalQuestions && o.TotalQuestions > 0 {
			earned = append(earned, AchPerfectVictory)
		}
		if o.WasLastAtHalf {
			earned = append(earned, AchComebackKing)
		}
	}
	if stats.AnswersSeen >= speedDemonMinAnswers && stats.AverageResponseMs > 0 && stats.AverageResponseMs < speedDemonMaxAvgMs {
		earned = append(earned, AchSpeedDemon)
	}
	return earned
}

// Updater applies a finished battle to every participant's durable stats.
type Updater struct {
	stats StatsStore
}

func NewUpdater(stats StatsStore) *Updater {
	return &Updater{stats: stats}
}

// Finalize writes stats rows, battle records, ELO adjustments, and
// achievement unlocks for a finished room. Only participants still active at
// the end accrue durable stats; a quitter's partial score survives in the
// final standings alone. ELO moves only in head-to-head battles (exactly two
// participants who stayed); larger rooms still accrue stats and achievements.
// comeback marks users who sat in last place at the halfway reveal.
func (u *Updater) Finalize(ctx context.Context, room *models.BattleRoom, comeback map[string]bool) error {
	participants, err := room.Participants()
	if err != nil {
		return fmt.Errorf("decode participants: %w", err)
	}
	if len(participants) == 0 {
		return nil
	}

	board := rankParticipants(participants)
	placement := make(map[string]int, len(board))
	for i, entry := range board {
		placement[entry.UserID] = i + 1
	}

	winnerID := ""
	if room.WinnerID != nil {
		winnerID = *room.WinnerID
	}

	outcomes := make([]BattleOutcome, 0, len(participants))
	var active []models.Participant
	for _, p := range participants {
		if !p.IsActive {
			continue
		}
		active = append(active, p)
		correct, totalMs := 0, 0
		for _, a := range p.Answers {
			if a.Correct {
				correct++
			}
			totalMs += a.ElapsedMs
		}
		avgMs := 0
		if len(p.Answers) > 0 {
			avgMs = totalMs / len(p.Answers)
		}
		outcomes = append(outcomes, BattleOutcome{
			UserID:         p.UserID,
			Username:       p.Username,
			Score:          p.Score,
			CorrectAnswers: correct,
			AnswersGiven:   len(p.Answers),
			TotalQuestions: room.QuestionCount,
			AvgResponseMs:  avgMs,
			Won:            p.UserID == winnerID,
			Placement:      placement[p.UserID],
			PlayerCount:    len(participants),
		})
	}
	for i := range outcomes {
		outcomes[i].WasLastAtHalf = comeback[outcomes[i].UserID]
	}

	// Rating moves are pairwise, so they apply only to a clean head-to-head.
	headToHead := len(active) == 2
	if !headToHead {
		log.Printf("📊 Room %s ended with %d active players, skipping rating adjustment", room.Code, len(active))
	}
	var ratings map[string]int
	if headToHead {
		ratings = make(map[string]int, 2)
		for _, p := range active {
			st, err := u.stats.GetOrCreate(ctx, p.UserID, p.Username)
			if err != nil {
				return fmt.Errorf("load stats for %s: %w", p.UserID, err)
			}
			ratings[p.UserID] = st.EloRating
		}
	}

	for _, o := range outcomes {
		st, err := u.stats.GetOrCreate(ctx, o.UserID, o.Username)
		if err != nil {
			log.Printf("⚠️  Stats load failed for %s: %v", o.UserID, err)
			continue
		}

		ApplyOutcome(st, o)

		if headToHead {
			if _, mine := ratings[o.UserID]; mine {
				oppID := ""
				for id := range ratings {
					if id != o.UserID {
						oppID = id
					}
				}
				st.EloRating += EloDelta(ratings[o.UserID], ratings[oppID], o.Won)
				st.Rank = models.RankForRating(st.EloRating)
			}
		}

		if err := u.stats.Save(ctx, st); err != nil {
			log.Printf("⚠️  Stats save failed for %s: %v", o.UserID, err)
			continue
		}

		if err := u.stats.RecordBattle(ctx, &models.BattleRecord{
			UserID:         o.UserID,
			RoomCode:       room.Code,
			Score:          o.Score,
			CorrectAnswers: o.CorrectAnswers,
			TotalQuestions: o.TotalQuestions,
			AvgResponseMs:  o.AvgResponseMs,
			Won:            o.Won,
			Placement:      o.Placement,
			PlayerCount:    o.PlayerCount,
		}); err != nil {
			log.Printf("⚠️  Battle record write failed for %s: %v", o.UserID, err)
		}

		now := time.Now()
		for _, code := range EvaluateAchievements(st, o) {
			if held, err := u.stats.HasAchievement(ctx, o.UserID, code); err == nil && held {
				continue
			}
			if err := u.stats.Unlock(ctx, o.UserID, code, now); err != nil {
				log.Printf("⚠️  Achievement unlock %s failed for %s: %v", code, o.UserID, err)
			}
		}
	}

	log.Printf("📊 Stats finalized for room %s (%d participants)", room.Code, len(outcomes))
	return nil
}
