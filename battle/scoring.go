// battle/scoring.go - Answer scoring and power-up effects
package battle

import (
	"math"
	mathrand "math/rand"

	"studybattle/models"
)

// Power-up types, each usable at most once per participant per battle.
const (
	PowerUpFiftyFifty   = "50-50"
	PowerUpTimeFreeze   = "time-freeze"
	PowerUpStealPoints  = "steal-points"
	PowerUpDoublePoints = "double-points"
)

const (
	// StealAmount is transferred from the leader, clamped at their balance.
	StealAmount = 100
	// FreezeSeconds is how long time-freeze pauses the shared countdown.
	FreezeSeconds = 5
)

// Score computes the points for a correct answer: the question's base value
// plus a speed bonus of up to 50%, decaying linearly to zero at the time
// limit. Pure function of its inputs so scoring is replayable from logged
// answers. Incorrect answers score zero and never reach this function.
func Score(base, elapsedMs, budgetMs int) int {
	if budgetMs <= 0 {
		return base
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	remaining := float64(budgetMs-elapsedMs) / float64(budgetMs)
	if remaining < 0 {
		remaining = 0
	}
	bonus := int(math.Round(float64(base) * 0.5 * remaining))
	return base + bonus
}

// FiftyFifty returns the question's options with two incorrect choices
// removed, for the requesting client's view only. The canonical question is
// untouched.
func FiftyFifty(q models.BattleQuestion, rng *mathrand.Rand) []string {
	wrong := make([]string, 0, len(q.Options)-1)
	for i, opt := range q.Options {
		if i != q.CorrectIndex {
			wrong = append(wrong, opt)
		}
	}
	rng.Shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })

	kept := []string{q.CorrectAnswer()}
	if len(wrong) > 0 {
		kept = append(kept, wrong[0])
	}
	rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	return kept
}

// ShuffledOptions returns an independently shuffled copy of the question's
// options so option order carries no signal across players.
func ShuffledOptions(q models.BattleQuestion, rng *mathrand.Rand) []string {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	rng.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	return opts
}

// StealTransfer computes the points moved from the leader to the requester,
// clamped so the leader's score cannot go negative.
func StealTransfer(leaderScore int) int {
	if leaderScore < StealAmount {
		if leaderScore < 0 {
			return 0
		}
		return leaderScore
	}
	return StealAmount
}
