// battle/lobby.go - Room creation, joining, and settings management
package battle

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"time"

	"studybattle/models"
)

// Settings bounds.
const (
	MinPlayers      = 2
	MaxPlayersLimit = 8
	MinTimePerQ     = 5
	MaxTimePerQ     = 60
	MinQuestions    = 5
	MaxQuestions    = 20
)

// saveAttempts bounds optimistic-write retries before surfacing the conflict.
const saveAttempts = 3

// Identity is what the identity provider supplies for a connecting user.
type Identity struct {
	UserID   string
	Username string
	Avatar   string
}

// Settings are the host-controlled room parameters.
type Settings struct {
	MaxPlayers      int
	TimePerQuestion int
	QuestionCount   int
	Difficulty      string
	AllowPowerUps   bool
}

// Validate checks all ranges; callers get ErrInvalidSettings with the field.
func (s Settings) Validate() error {
	if s.MaxPlayers < MinPlayers || s.MaxPlayers > MaxPlayersLimit {
		return fmt.Errorf("%w: max_players must be %d-%d", ErrInvalidSettings, MinPlayers, MaxPlayersLimit)
	}
	if s.TimePerQuestion < MinTimePerQ || s.TimePerQuestion > MaxTimePerQ {
		return fmt.Errorf("%w: time_per_question must be %d-%ds", ErrInvalidSettings, MinTimePerQ, MaxTimePerQ)
	}
	if s.QuestionCount < MinQuestions || s.QuestionCount > MaxQuestions {
		return fmt.Errorf("%w: question_count must be %d-%d", ErrInvalidSettings, MinQuestions, MaxQuestions)
	}
	return nil
}

// SettingsPatch carries the host's partial update; nil fields are unchanged.
type SettingsPatch struct {
	MaxPlayers      *int
	TimePerQuestion *int
	QuestionCount   *int
	Difficulty      *string
	AllowPowerUps   *bool
}

// Lobby creates rooms and admits participants.
type Lobby struct {
	store   RoomStore
	content ContentProvider
}

func NewLobby(store RoomStore, content ContentProvider) *Lobby {
	return &Lobby{store: store, content: content}
}

// CreateRoom fetches the question set, assigns a unique live code, and
// persists a waiting room. The host joins the realtime channel separately.
func (l *Lobby) CreateRoom(ctx context.Context, hostID, deckID string, s Settings) (*models.BattleRoom, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	questions, err := l.content.Questions(ctx, deckID, s.QuestionCount, s.Difficulty)
	if err != nil {
		return nil, err
	}

	code, err := l.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	room := &models.BattleRoom{
		Code:            code,
		HostID:          hostID,
		DeckID:          deckID,
		Status:          models.RoomWaiting,
		MaxPlayers:      s.MaxPlayers,
		TimePerQuestion: s.TimePerQuestion,
		Difficulty:      s.Difficulty,
		AllowPowerUps:   s.AllowPowerUps,
		QuestionCount:   s.QuestionCount,
	}
	if err := room.SetQuestions(questions); err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	if err := room.SetParticipants(nil); err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}

	if err := l.store.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("persist room: %w", err)
	}

	log.Printf("🏠 Room %s created by %s (deck=%s, questions=%d)", code, hostID, deckID, s.QuestionCount)
	return room, nil
}

// JoinRoom admits a participant into a waiting room. Effectively atomic per
// room: a concurrent join bumps the version and forces a reload, so two
// simultaneous joins cannot both slip past the capacity check.
func (l *Lobby) JoinRoom(ctx context.Context, code string, id Identity) (*models.BattleRoom, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, err := l.store.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if room.Status != models.RoomWaiting {
			return nil, ErrRoomNotFound
		}

		participants, err := room.Participants()
		if err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		for _, p := range participants {
			if p.UserID == id.UserID {
				return nil, ErrAlreadyJoined
			}
		}
		if len(participants) >= room.MaxPlayers {
			return nil, ErrRoomFull
		}

		now := time.Now()
		participants = append(participants, models.Participant{
			UserID:         id.UserID,
			Username:       id.Username,
			Avatar:         id.Avatar,
			IsActive:       true,
			JoinedAt:       now,
			ScoreReachedAt: now,
		})
		if err := room.SetParticipants(participants); err != nil {
			return nil, fmt.Errorf("encode participants: %w", err)
		}

		if err := l.store.Save(ctx, room); err != nil {
			if err == ErrConflict {
				continue
			}
			return nil, fmt.Errorf("persist join: %w", err)
		}

		log.Printf("👥 %s joined room %s (%d/%d players)", id.UserID, room.Code, len(participants), room.MaxPlayers)
		return room, nil
	}
	return nil, ErrConflict
}

// UpdateSettings applies a host's patch while the room waits. Changing the
// difficulty or question count regenerates the entire question set; a stale
// write during regeneration is detected and retried, never dropped.
func (l *Lobby) UpdateSettings(ctx context.Context, code, hostID string, patch SettingsPatch) (*models.BattleRoom, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, err := l.store.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if room.Status != models.RoomWaiting {
			return nil, ErrRoomNotWaiting
		}
		if room.HostID != hostID {
			return nil, ErrNotHost
		}

		next := Settings{
			MaxPlayers:      room.MaxPlayers,
			TimePerQuestion: room.TimePerQuestion,
			QuestionCount:   room.QuestionCount,
			Difficulty:      room.Difficulty,
			AllowPowerUps:   room.AllowPowerUps,
		}
		if patch.MaxPlayers != nil {
			next.MaxPlayers = *patch.MaxPlayers
		}
		if patch.TimePerQuestion != nil {
			next.TimePerQuestion = *patch.TimePerQuestion
		}
		if patch.QuestionCount != nil {
			next.QuestionCount = *patch.QuestionCount
		}
		if patch.Difficulty != nil {
			next.Difficulty = *patch.Difficulty
		}
		if patch.AllowPowerUps != nil {
			next.AllowPowerUps = *patch.AllowPowerUps
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}

		regenerate := next.Difficulty != room.Difficulty || next.QuestionCount != room.QuestionCount
		if regenerate {
			questions, err := l.content.Questions(ctx, room.DeckID, next.QuestionCount, next.Difficulty)
			if err != nil {
				return nil, err
			}
			if err := room.SetQuestions(questions); err != nil {
				return nil, fmt.Errorf("encode questions: %w", err)
			}
		}

		room.MaxPlayers = next.MaxPlayers
		room.TimePerQuestion = next.TimePerQuestion
		room.QuestionCount = next.QuestionCount
		room.Difficulty = next.Difficulty
		room.AllowPowerUps = next.AllowPowerUps

		if err := l.store.Save(ctx, room); err != nil {
			if err == ErrConflict {
				log.Printf("🔁 Settings update for room %s hit a stale write, retrying", room.Code)
				continue
			}
			return nil, fmt.Errorf("persist settings: %w", err)
		}

		if regenerate {
			log.Printf("⚙️  Room %s settings updated, question set regenerated (%d questions, %s)", room.Code, next.QuestionCount, next.Difficulty)
		}
		return room, nil
	}
	return nil, ErrConflict
}

// Room loads a room by code without mutating it.
func (l *Lobby) Room(ctx context.Context, code string) (*models.BattleRoom, error) {
	return l.store.GetByCode(ctx, code)
}

const codeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// uniqueCode retries random generation until no waiting/active room holds it.
func (l *Lobby) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		code := randomCode(6)
		exists, err := l.store.LiveCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code collision: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique room code")
}

func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = codeChars[int(b[i])%len(codeChars)]
	}
	return strings.ToUpper(string(b))
}
