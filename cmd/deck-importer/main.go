// cmd/deck-importer - Bulk-loads question decks from a JSON export into the
// database. Usage: deck-importer <decks.json>
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"studybattle/database"
	"studybattle/models"
)

type jsonQuestion struct {
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correct_answer"`
	WrongAnswers  []string `json:"wrong_answers"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
	Points        int      `json:"points"`
}

type jsonDeck struct {
	ExternalID string         `json:"external_id"`
	Title      string         `json:"title"`
	OwnerID    string         `json:"owner_id"`
	Questions  []jsonQuestion `json:"questions"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: deck-importer <decks.json>")
	}
	jsonPath := os.Args[1]

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	database.InitDB()
	defer database.CloseDB()
	db := database.GetDB()

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		log.Fatal("Failed to read JSON file:", err)
	}

	var decks []jsonDeck
	if err := json.Unmarshal(data, &decks); err != nil {
		log.Fatal("Failed to parse JSON:", err)
	}

	fmt.Printf("Found %d decks\n\n", len(decks))

	imported := 0
	for _, jd := range decks {
		if jd.ExternalID == "" || len(jd.Questions) == 0 {
			log.Printf("Skipping deck %q: missing external_id or questions", jd.Title)
			continue
		}
		fmt.Printf("Processing: %s (%d questions)\n", jd.Title, len(jd.Questions))

		var deck models.Deck
		err := db.Where("external_id = ?", jd.ExternalID).First(&deck).Error
		if err != nil {
			deck = models.Deck{
				ExternalID: jd.ExternalID,
				Title:      jd.Title,
				IsActive:   true,
			}
			if jd.OwnerID != "" {
				owner := jd.OwnerID
				deck.OwnerID = &owner
			}
			if err := db.Create(&deck).Error; err != nil {
				log.Printf("Error creating deck %s: %v", jd.ExternalID, err)
				continue
			}
		} else {
			// Re-import replaces the deck's question bank.
			db.Where("deck_id = ?", deck.ID).Delete(&models.Question{})
		}

		questions := make([]models.Question, 0, len(jd.Questions))
		for _, jq := range jd.Questions {
			wrong, err := json.Marshal(jq.WrongAnswers)
			if err != nil {
				log.Printf("Error encoding wrong answers for %q: %v", jq.Text, err)
				continue
			}
			points := jq.Points
			if points == 0 {
				points = 100
			}
			questions = append(questions, models.Question{
				DeckID:        deck.ID,
				Text:          jq.Text,
				CorrectAnswer: jq.CorrectAnswer,
				WrongAnswers:  string(wrong),
				Explanation:   jq.Explanation,
				Difficulty:    jq.Difficulty,
				Points:        points,
			})
		}

		batchSize := 500
		for i := 0; i < len(questions); i += batchSize {
			end := i + batchSize
			if end > len(questions) {
				end = len(questions)
			}
			batch := questions[i:end]
			if err := db.Create(&batch).Error; err != nil {
				log.Printf("Error inserting questions %d-%d for deck %s: %v", i, end, jd.ExternalID, err)
			}
		}
		imported++
	}

	fmt.Printf("\n✓ Import completed: %d/%d decks\n", imported, len(decks))

	var count int64
	db.Model(&models.Question{}).Count(&count)
	fmt.Printf("✓ Total questions in database: %d\n", count)
}
