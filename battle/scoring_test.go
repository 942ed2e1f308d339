package battle

import (
	mathrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybattle/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		base      int
		elapsedMs int
		budgetMs  int
		want      int
	}{
		{"instant answer gets full bonus", 100, 0, 15000, 150},
		{"half budget gets half bonus", 100, 7500, 15000, 125},
		{"full budget gets no bonus", 100, 15000, 15000, 100},
		{"over budget clamps to base", 100, 20000, 15000, 100},
		{"negative elapsed clamps to full bonus", 100, -50, 15000, 150},
		{"zero budget returns base", 100, 0, 0, 100},
		{"higher base scales bonus", 200, 0, 10000, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.base, tt.elapsedMs, tt.budgetMs))
		})
	}
}

func TestFiftyFifty(t *testing.T) {
	q := models.BattleQuestion{
		Options:      []string{"mitochondria", "ribosome", "nucleus", "golgi"},
		CorrectIndex: 0,
	}
	rng := mathrand.New(mathrand.NewSource(42))

	for i := 0; i < 20; i++ {
		kept := FiftyFifty(q, rng)
		require.Len(t, kept, 2)
		assert.Contains(t, kept, "mitochondria")
		assert.NotEqual(t, kept[0], kept[1])
	}
}

func TestFiftyFiftyTwoOptions(t *testing.T) {
	q := models.BattleQuestion{
		Options:      []string{"true", "false"},
		CorrectIndex: 1,
	}
	rng := mathrand.New(mathrand.NewSource(1))

	kept := FiftyFifty(q, rng)
	require.Len(t, kept, 2)
	assert.Contains(t, kept, "false")
	assert.Contains(t, kept, "true")
}

func TestShuffledOptions(t *testing.T) {
	q := models.BattleQuestion{
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: 2,
	}
	rng := mathrand.New(mathrand.NewSource(7))

	got := ShuffledOptions(q, rng)
	assert.ElementsMatch(t, q.Options, got)
	// The canonical order must not be mutated.
	assert.Equal(t, []string{"a", "b", "c", "d"}, q.Options)
}

func TestStealTransfer(t *testing.T) {
	tests := []struct {
		name        string
		leaderScore int
		want        int
	}{
		{"full steal from a rich leader", 500, 100},
		{"exactly the steal amount", 100, 100},
		{"clamped to leader balance", 60, 60},
		{"zero leader yields nothing", 0, 0},
		{"negative never goes below zero", -10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StealTransfer(tt.leaderScore))
		})
	}
}
