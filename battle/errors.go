// battle/errors.go - Error taxonomy for the battle engine
package battle

import "errors"

// Rejected synchronously to the caller; no state change occurs.
var (
	ErrInvalidSettings    = errors.New("invalid battle settings")
	ErrContentUnavailable = errors.New("deck cannot produce the requested questions")
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyJoined      = errors.New("user already joined this room")
	ErrRoomFull           = errors.New("room is full")
	ErrNotHost            = errors.New("only the host may perform this action")
	ErrNotEnoughPlayers   = errors.New("need at least 2 players to start")
	ErrRoomNotWaiting     = errors.New("room is no longer accepting changes")
	ErrBattleNotActive    = errors.New("battle is not active")
	ErrAnswerWindowClosed = errors.New("answers are closed for this question")
	ErrNotParticipant     = errors.New("user is not a participant in this room")
	ErrRoomNotFinished    = errors.New("battle has not finished")
	ErrPowerUpsDisabled   = errors.New("power-ups are disabled in this room")
	ErrPowerUpUsed        = errors.New("power-up already used this battle")
	ErrUnknownPowerUp     = errors.New("unknown power-up type")
)

// ErrConflict signals a stale optimistic write. Callers retry with a fresh
// load; it never reaches clients.
var ErrConflict = errors.New("stale room write")
