// handlers/battles.go - REST surface for battle rooms
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"studybattle/battle"
	"studybattle/middleware"
	"studybattle/models"
)

// BattleAPI exposes room creation and inspection over REST. Realtime play
// happens on the WebSocket side; this surface covers setup and history.
type BattleAPI struct {
	lobby *battle.Lobby
}

func NewBattleAPI(lobby *battle.Lobby) *BattleAPI {
	return &BattleAPI{lobby: lobby}
}

type createBattleRequest struct {
	DeckID          string `json:"deck_id"`
	MaxPlayers      int    `json:"max_players"`
	TimePerQuestion int    `json:"time_per_question"`
	QuestionCount   int    `json:"question_count"`
	Difficulty      string `json:"difficulty"`
	AllowPowerUps   *bool  `json:"allow_powerups"`
}

// CreateBattle creates a waiting room. The caller becomes host and joins the
// realtime channel with the returned code.
// POST /api/battles
func (a *BattleAPI) CreateBattle(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "User not authenticated"})
	}

	var req createBattleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if req.DeckID == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "deck_id is required"})
	}

	settings := battle.Settings{
		MaxPlayers:      req.MaxPlayers,
		TimePerQuestion: req.TimePerQuestion,
		QuestionCount:   req.QuestionCount,
		Difficulty:      req.Difficulty,
		AllowPowerUps:   true,
	}
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = 4
	}
	if settings.TimePerQuestion == 0 {
		settings.TimePerQuestion = 15
	}
	if settings.QuestionCount == 0 {
		settings.QuestionCount = 10
	}
	if settings.Difficulty == "" {
		settings.Difficulty = "mixed"
	}
	if req.AllowPowerUps != nil {
		settings.AllowPowerUps = *req.AllowPowerUps
	}

	room, err := a.lobby.CreateRoom(c.Context(), userID, req.DeckID, settings)
	if err != nil {
		return battleError(c, err)
	}

	return c.Status(201).JSON(fiber.Map{
		"success": true,
		"battle":  battleSummary(room, nil),
	})
}

// GetBattle returns a room's public state: settings, participants, progress.
// GET /api/battles/:code
func (a *BattleAPI) GetBattle(c *fiber.Ctx) error {
	room, err := a.lobby.Room(c.Context(), c.Params("code"))
	if err != nil {
		return battleError(c, err)
	}
	participants, err := room.Participants()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to decode room state"})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"battle":  battleSummary(room, participants),
	})
}

// GetBattleDetail returns the full post-battle breakdown: every question with
// its correct answer and every participant's answer log. Finished rooms only;
// answers stay server-side until then.
// GET /api/battles/:code/detail
func (a *BattleAPI) GetBattleDetail(c *fiber.Ctx) error {
	room, err := a.lobby.Room(c.Context(), c.Params("code"))
	if err != nil {
		return battleError(c, err)
	}
	if room.Status != models.RoomFinished {
		return battleError(c, battle.ErrRoomNotFinished)
	}

	participants, perr := room.Participants()
	questions, qerr := room.Questions()
	if perr != nil || qerr != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "Failed to decode room state"})
	}

	qs := make([]fiber.Map, 0, len(questions))
	for i, q := range questions {
		qs = append(qs, fiber.Map{
			"index":          i,
			"id":             q.ID,
			"prompt":         q.Prompt,
			"options":        q.Options,
			"correct_answer": q.CorrectAnswer(),
			"explanation":    q.Explanation,
			"points":         q.Points,
			"difficulty":     q.Difficulty,
		})
	}

	ps := make([]fiber.Map, 0, len(participants))
	for _, p := range participants {
		answers := make([]fiber.Map, 0, len(p.Answers))
		for _, ans := range p.Answers {
			answers = append(answers, fiber.Map{
				"question_index": ans.QuestionIndex,
				"choice":         ans.Choice,
				"correct":        ans.Correct,
				"elapsed_ms":     ans.ElapsedMs,
				"points_earned":  ans.PointsEarned,
				"doubled":        ans.Doubled,
			})
		}
		ps = append(ps, fiber.Map{
			"user_id":       p.UserID,
			"username":      p.Username,
			"avatar":        p.Avatar,
			"score":         p.Score,
			"is_active":     p.IsActive,
			"powerups_used": p.PowerUpsUsed,
			"answers":       answers,
		})
	}

	winner := ""
	if room.WinnerID != nil {
		winner = *room.WinnerID
	}

	return c.JSON(fiber.Map{
		"success": true,
		"battle": fiber.Map{
			"code":         room.Code,
			"status":       room.Status,
			"winner":       winner,
			"started_at":   room.StartedAt,
			"finished_at":  room.FinishedAt,
			"questions":    qs,
			"participants": ps,
		},
	})
}

// battleSummary is the pre-reveal view of a room; never includes questions.
func battleSummary(room *models.BattleRoom, participants []models.Participant) fiber.Map {
	list := make([]fiber.Map, 0, len(participants))
	for _, p := range participants {
		list = append(list, fiber.Map{
			"user_id":   p.UserID,
			"username":  p.Username,
			"avatar":    p.Avatar,
			"score":     p.Score,
			"is_active": p.IsActive,
			"is_host":   p.UserID == room.HostID,
		})
	}
	return fiber.Map{
		"code":             room.Code,
		"status":           room.Status,
		"host":             room.HostID,
		"deck_id":          room.DeckID,
		"current_question": room.CurrentQuestionIndex,
		"settings": fiber.Map{
			"max_players":       room.MaxPlayers,
			"time_per_question": room.TimePerQuestion,
			"question_count":    room.QuestionCount,
			"difficulty":        room.Difficulty,
			"allow_powerups":    room.AllowPowerUps,
		},
		"participants": list,
		"created_at":   room.CreatedAt,
	}
}

// battleError maps battle-package sentinels to HTTP statuses.
func battleError(c *fiber.Ctx, err error) error {
	status := 500
	switch {
	case errors.Is(err, battle.ErrRoomNotFound):
		status = 404
	case errors.Is(err, battle.ErrInvalidSettings),
		errors.Is(err, battle.ErrContentUnavailable):
		status = 400
	case errors.Is(err, battle.ErrNotHost):
		status = 403
	case errors.Is(err, battle.ErrAlreadyJoined),
		errors.Is(err, battle.ErrRoomFull),
		errors.Is(err, battle.ErrRoomNotWaiting),
		errors.Is(err, battle.ErrRoomNotFinished),
		errors.Is(err, battle.ErrConflict):
		status = 409
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}
