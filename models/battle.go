// models/battle.go - Battle room persistence
package models

import (
	"encoding/json"
	"time"
)

// Room status values. Transitions are monotonic: waiting -> active -> finished.
const (
	RoomWaiting  = "waiting"
	RoomActive   = "active"
	RoomFinished = "finished"
)

// BattleRoom is the durable record of one battle session. Participants and
// questions are stored as JSON columns so the whole room can be written as a
// single row guarded by the Version column (optimistic concurrency).
type BattleRoom struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Code   string `json:"code" gorm:"index;not null;size:10"`
	HostID string `json:"host_id" gorm:"index;not null;size:100"`
	DeckID string `json:"deck_id" gorm:"index;size:100"`
	Status string `json:"status" gorm:"default:'waiting';size:20;index"`

	// Settings
	MaxPlayers      int    `json:"max_players" gorm:"default:4"`
	TimePerQuestion int    `json:"time_per_question" gorm:"default:15"` // seconds
	Difficulty      string `json:"difficulty" gorm:"default:'medium';size:20"`
	AllowPowerUps   bool   `json:"allow_power_ups" gorm:"default:true"`
	QuestionCount   int    `json:"question_count" gorm:"default:10"`

	CurrentQuestionIndex int     `json:"current_question_index" gorm:"default:0"`
	WinnerID             *string `json:"winner_id" gorm:"size:100"`

	ParticipantsJSON string `json:"-" gorm:"type:text"`
	QuestionsJSON    string `json:"-" gorm:"type:text"`

	// Bumped on every write; stale writes are rejected and retried.
	Version int64 `json:"version" gorm:"default:1"`

	StartedAt  *time.Time `json:"started_at" gorm:"index"`
	FinishedAt *time.Time `json:"finished_at" gorm:"index"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (BattleRoom) TableName() string {
	return "battle_rooms"
}

// Participant is one player inside a room, embedded in ParticipantsJSON.
type Participant struct {
	UserID       string         `json:"user_id"`
	Username     string         `json:"username"`
	Avatar       string         `json:"avatar"`
	Score        int            `json:"score"`
	Answers      []AnswerRecord `json:"answers"`
	PowerUpsUsed []string       `json:"power_ups_used"`
	IsActive     bool           `json:"is_active"`
	JoinedAt     time.Time      `json:"joined_at"`
	LeftAt       *time.Time     `json:"left_at,omitempty"`

	// When the current score was reached; used for winner tie-breaks.
	ScoreReachedAt time.Time `json:"score_reached_at"`
}

// AnswerRecord logs one answer attempt, at most one per question index.
type AnswerRecord struct {
	QuestionIndex int    `json:"question_index"`
	QuestionID    string `json:"question_id"`
	Choice        string `json:"choice"`
	Correct       bool   `json:"correct"`
	ElapsedMs     int    `json:"elapsed_ms"`
	PointsEarned  int    `json:"points_earned"`
	Doubled       bool   `json:"doubled,omitempty"`
}

// BattleQuestion is the canonical scored MCQ item, embedded in QuestionsJSON.
// Options keep their canonical order here; broadcasts shuffle copies so option
// order carries no signal across players.
type BattleQuestion struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
	Points       int      `json:"points"`
	Difficulty   string   `json:"difficulty"`
}

// CorrectAnswer returns the text of the correct option.
func (q BattleQuestion) CorrectAnswer() string {
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return ""
	}
	return q.Options[q.CorrectIndex]
}

// JSON column helpers

func (r *BattleRoom) Participants() ([]Participant, error) {
	var out []Participant
	if r.ParticipantsJSON == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(r.ParticipantsJSON), &out)
	return out, err
}

func (r *BattleRoom) SetParticipants(ps []Participant) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	r.ParticipantsJSON = string(data)
	return nil
}

func (r *BattleRoom) Questions() ([]BattleQuestion, error) {
	var out []BattleQuestion
	if r.QuestionsJSON == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(r.QuestionsJSON), &out)
	return out, err
}

func (r *BattleRoom) SetQuestions(qs []BattleQuestion) error {
	data, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	r.QuestionsJSON = string(data)
	return nil
}

// IsLive reports whether the room still occupies its code (waiting or active).
func (r *BattleRoom) IsLive() bool {
	return r.Status == RoomWaiting || r.Status == RoomActive
}

// ActiveCount returns the number of participants still marked active.
func (r *BattleRoom) ActiveCount() (int, error) {
	ps, err := r.Participants()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range ps {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}
