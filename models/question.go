// models/question.go - Question bank (content provider tables)
package models

import "time"

// Deck groups questions generated for one uploaded document.
type Deck struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	ExternalID  string     `json:"external_id" gorm:"uniqueIndex;not null;size:100"` // opaque contentRef
	Title       string     `json:"title" gorm:"size:200"`
	OwnerID     *string    `json:"owner_id" gorm:"index;size:100"`
	IsActive    bool       `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `json:"questions,omitempty" gorm:"foreignKey:DeckID"`
}

// Question is a scored multiple-choice item in the bank. WrongAnswers is a
// JSON array of distractor strings.
type Question struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	DeckID        uint      `json:"deck_id" gorm:"not null;index"`
	Deck          *Deck     `json:"deck,omitempty" gorm:"foreignKey:DeckID"`
	Text          string    `json:"text" gorm:"not null;type:text"`
	CorrectAnswer string    `json:"correct_answer" gorm:"not null;size:500"`
	WrongAnswers  string    `json:"wrong_answers" gorm:"not null;type:text"`
	Explanation   string    `json:"explanation" gorm:"type:text"`
	Difficulty    string    `json:"difficulty" gorm:"default:'medium';size:20;index"`
	Points        int       `json:"points" gorm:"default:100"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Deck) TableName() string {
	return "decks"
}

func (Question) TableName() string {
	return "questions"
}
