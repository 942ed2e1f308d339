// battle/content.go - Question source (content provider boundary)
package battle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	mathrand "math/rand"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studybattle/models"
)

// ContentProvider produces a fixed-size question set for a deck. The engine
// does not care how the questions were generated.
type ContentProvider interface {
	Questions(ctx context.Context, deckID string, count int, difficulty string) ([]models.BattleQuestion, error)
}

// GormContentProvider reads the question bank from the database.
type GormContentProvider struct {
	db *gorm.DB
}

func NewGormContentProvider(db *gorm.DB) *GormContentProvider {
	return &GormContentProvider{db: db}
}

// Questions selects count questions from the deck, shuffled with a seeded rng
// so a battle's draw is reproducible from its seed. Each call salts the seed
// so regenerated sets are wholly new.
func (p *GormContentProvider) Questions(ctx context.Context, deckID string, count int, difficulty string) ([]models.BattleQuestion, error) {
	var deck models.Deck
	if err := p.db.WithContext(ctx).Where("external_id = ? AND is_active = ?", deckID, true).First(&deck).Error; err != nil {
		return nil, fmt.Errorf("%w: deck %s", ErrContentUnavailable, deckID)
	}

	query := p.db.WithContext(ctx).Where("deck_id = ?", deck.ID)
	if difficulty != "" && difficulty != "mixed" {
		query = query.Where("difficulty = ?", difficulty)
	}

	var bank []models.Question
	if err := query.Find(&bank).Error; err != nil {
		return nil, fmt.Errorf("fetch questions for deck %s: %w", deckID, err)
	}
	if len(bank) < count {
		return nil, fmt.Errorf("%w: deck %s has %d/%d questions", ErrContentUnavailable, deckID, len(bank), count)
	}

	rng := seededRand(deckID + uuid.NewString())
	rng.Shuffle(len(bank), func(i, j int) { bank[i], bank[j] = bank[j], bank[i] })
	bank = bank[:count]

	out := make([]models.BattleQuestion, 0, count)
	for _, q := range bank {
		bq, err := toBattleQuestion(q, rng)
		if err != nil {
			log.Printf("⚠️  Skipping malformed question %d in deck %s: %v", q.ID, deckID, err)
			continue
		}
		out = append(out, bq)
	}
	if len(out) < count {
		return nil, fmt.Errorf("%w: deck %s produced %d/%d usable questions", ErrContentUnavailable, deckID, len(out), count)
	}
	return out, nil
}

// toBattleQuestion assembles the canonical per-battle item: a fresh instance
// ID, the correct answer mixed among up to three distractors.
func toBattleQuestion(q models.Question, rng *mathrand.Rand) (models.BattleQuestion, error) {
	var wrong []string
	if q.WrongAnswers != "" {
		if err := json.Unmarshal([]byte(q.WrongAnswers), &wrong); err != nil {
			return models.BattleQuestion{}, fmt.Errorf("unmarshal wrong answers: %w", err)
		}
	}
	if len(wrong) == 0 {
		return models.BattleQuestion{}, fmt.Errorf("question has no distractors")
	}
	if len(wrong) > 3 {
		wrong = wrong[:3]
	}

	options := append([]string{q.CorrectAnswer}, wrong...)
	rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	correctIdx := 0
	for i, opt := range options {
		if opt == q.CorrectAnswer {
			correctIdx = i
			break
		}
	}

	points := q.Points
	if points == 0 {
		points = 100
	}

	return models.BattleQuestion{
		ID:           uuid.NewString(),
		Prompt:       q.Text,
		Options:      options,
		CorrectIndex: correctIdx,
		Explanation:  q.Explanation,
		Points:       points,
		Difficulty:   q.Difficulty,
	}, nil
}

// seededRand derives a deterministic rng from an arbitrary seed string.
func seededRand(seed string) *mathrand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return mathrand.New(mathrand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}
