// handlers/debug.go - Debug endpoints for troubleshooting live battles
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"studybattle/battle"
)

// DebugAPI exposes the runtime index for operators. Remove in production.
type DebugAPI struct {
	lobby   *battle.Lobby
	runtime *battle.Runtime
	hub     *Hub
}

func NewDebugAPI(lobby *battle.Lobby, runtime *battle.Runtime, hub *Hub) *DebugAPI {
	return &DebugAPI{lobby: lobby, runtime: runtime, hub: hub}
}

// GetActiveRooms lists every room with live runtime state.
// GET /api/debug/rooms
func (a *DebugAPI) GetActiveRooms(c *fiber.Ctx) error {
	codes := a.runtime.ActiveCodes()

	roomList := make([]fiber.Map, 0, len(codes))
	for _, code := range codes {
		info := fiber.Map{"code": code, "connections": a.hub.connectionCount(code)}
		if room, err := a.lobby.Room(c.Context(), code); err == nil {
			info["status"] = room.Status
			info["current_question"] = room.CurrentQuestionIndex
			info["question_count"] = room.QuestionCount
			if participants, err := room.Participants(); err == nil {
				info["participants"] = len(participants)
			}
		}
		roomList = append(roomList, info)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"total_rooms": a.runtime.ActiveCount(),
		"rooms":       roomList,
		"timestamp":   time.Now(),
	})
}

// GetRoomByCode returns the stored state of one room plus its live runtime
// presence.
// GET /api/debug/rooms/:code
func (a *DebugAPI) GetRoomByCode(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"error":   "Room code is required",
		})
	}

	room, err := a.lobby.Room(c.Context(), code)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"success":      false,
			"error":        "Room not found",
			"room_code":    code,
			"active_rooms": a.runtime.ActiveCodes(),
			"total_active": a.runtime.ActiveCount(),
		})
	}

	participants, _ := room.Participants()
	players := make([]fiber.Map, 0, len(participants))
	for _, p := range participants {
		players = append(players, fiber.Map{
			"user_id":   p.UserID,
			"username":  p.Username,
			"score":     p.Score,
			"is_active": p.IsActive,
			"is_host":   p.UserID == room.HostID,
			"answers":   len(p.Answers),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"room": fiber.Map{
			"code":             room.Code,
			"status":           room.Status,
			"host":             room.HostID,
			"deck_id":          room.DeckID,
			"version":          room.Version,
			"current_question": room.CurrentQuestionIndex,
			"question_count":   room.QuestionCount,
			"max_players":      room.MaxPlayers,
			"player_count":     len(participants),
			"connections":      a.hub.connectionCount(room.Code),
			"players":          players,
		},
	})
}
