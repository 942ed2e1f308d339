// handlers/ws.go - WebSocket connection layer for battle rooms
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"studybattle/battle"
	"studybattle/models"
)

const (
	writeWait  = 10 * time.Second // Time allowed to write a message
	pingPeriod = 15 * time.Second // Send pings at this interval

	sendBufferSize = 256
)

// Message is the wire envelope in both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Player is one live WebSocket connection with its resolved identity.
type Player struct {
	Identity battle.Identity
	Conn     *websocket.Conn
	Room     string

	send   chan Message
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// Hub indexes live connections by room code and user ID and implements the
// engine's transport. One slow client never blocks a broadcast: sends go
// through each player's bounded queue.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Player // code -> userID -> player
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Player)}
}

func (h *Hub) add(code string, p *Player) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[code] == nil {
		h.rooms[code] = make(map[string]*Player)
	}
	h.rooms[code][p.Identity.UserID] = p
}

// remove detaches the player, but only if the registered connection is still
// this one; a reconnect may have replaced it.
func (h *Hub) remove(code string, p *Player) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[code][p.Identity.UserID]; ok && cur == p {
		delete(h.rooms[code], p.Identity.UserID)
		if len(h.rooms[code]) == 0 {
			delete(h.rooms, code)
		}
	}
}

func (h *Hub) Broadcast(code, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.rooms[code] {
		p.sendMessage(event, payload)
	}
}

func (h *Hub) connectionCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

func (h *Hub) Unicast(code, userID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.rooms[code][userID]; ok {
		p.sendMessage(event, payload)
	}
}

// WSServer terminates battle WebSocket connections and dispatches client
// events into the lobby and engine.
type WSServer struct {
	lobby  *battle.Lobby
	engine *battle.Engine
	hub    *Hub
}

func NewWSServer(lobby *battle.Lobby, engine *battle.Engine, hub *Hub) *WSServer {
	return &WSServer{lobby: lobby, engine: engine, hub: hub}
}

// ServeHTTP upgrades the connection, resolves the caller's identity, and runs
// the read/write pumps until disconnect.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := resolveIdentity(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // TODO: Add proper origin checking in production
	})
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	playerCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	player := &Player{
		Identity: id,
		Conn:     conn,
		send:     make(chan Message, sendBufferSize),
		ctx:      playerCtx,
		cancel:   cancel,
	}

	log.Printf("🎮 Player connected: %s (ID: %s)", id.Username, id.UserID)

	player.sendMessage("connected", map[string]any{
		"user_id":  id.UserID,
		"username": id.Username,
	})

	go player.writePump()
	s.readPump(player)

	s.detach(player)
	close(player.send)
	log.Printf("🔌 Player disconnected: %s (ID: %s)", id.Username, id.UserID)
}

// detach removes the player from their room, marking them disconnected if a
// battle is in flight.
func (s *WSServer) detach(p *Player) {
	p.mu.RLock()
	code := p.Room
	p.mu.RUnlock()
	if code == "" {
		return
	}

	s.hub.remove(code, p)
	if err := s.engine.MarkDisconnected(context.Background(), code, p.Identity.UserID); err != nil &&
		!errors.Is(err, battle.ErrRoomNotFound) {
		log.Printf("⚠️  Disconnect handling for %s in room %s: %v", p.Identity.UserID, code, err)
	}

	p.mu.Lock()
	p.Room = ""
	p.mu.Unlock()
}

func (s *WSServer) readPump(p *Player) {
	defer func() {
		p.cancel()
		p.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg Message
		err := wsjson.Read(p.ctx, p.Conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		s.handleMessage(p, msg)
	}
}

func (s *WSServer) handleMessage(p *Player, msg Message) {
	switch msg.Type {
	case "join-room":
		s.handleJoin(p, msg.Payload)
	case "start-battle":
		s.handleStart(p)
	case "update-battle-settings":
		s.handleUpdateSettings(p, msg.Payload)
	case "submit-answer":
		s.handleSubmitAnswer(p, msg.Payload)
	case "use-powerup":
		s.handleUsePowerUp(p, msg.Payload)
	case "leave-room":
		s.detach(p)
	case "ping":
		p.sendMessage("pong", map[string]any{})
	default:
		p.sendError(fmt.Errorf("unknown event type %q", msg.Type))
	}
}

func (s *WSServer) handleJoin(p *Player, payload any) {
	data := parsePayload(payload)
	code := strings.ToUpper(getString(data, "code", ""))
	if code == "" {
		p.sendError(fmt.Errorf("missing room code"))
		return
	}

	ctx := context.Background()
	room, err := s.lobby.JoinRoom(ctx, code, p.Identity)
	if err != nil {
		if errors.Is(err, battle.ErrAlreadyJoined) {
			// Reconnect: re-attach the live connection without a second seat.
			room, err = s.lobby.Room(ctx, code)
		}
		if err != nil {
			p.sendError(err)
			return
		}
	}

	p.mu.Lock()
	p.Room = room.Code
	p.mu.Unlock()
	s.hub.add(room.Code, p)

	participants, err := room.Participants()
	if err != nil {
		p.sendError(err)
		return
	}
	s.hub.Broadcast(room.Code, battle.EvtRoomUpdated, roomSnapshot(room, participants))
}

func (s *WSServer) handleStart(p *Player) {
	code := p.roomCode()
	if code == "" {
		p.sendError(battle.ErrRoomNotFound)
		return
	}
	if err := s.engine.Start(context.Background(), code, p.Identity.UserID); err != nil {
		p.sendError(err)
	}
}

func (s *WSServer) handleUpdateSettings(p *Player, payload any) {
	code := p.roomCode()
	if code == "" {
		p.sendError(battle.ErrRoomNotFound)
		return
	}

	data := parsePayload(payload)
	patch := battle.SettingsPatch{}
	if v, ok := data["max_players"]; ok {
		n := toInt(v)
		patch.MaxPlayers = &n
	}
	if v, ok := data["time_per_question"]; ok {
		n := toInt(v)
		patch.TimePerQuestion = &n
	}
	if v, ok := data["question_count"]; ok {
		n := toInt(v)
		patch.QuestionCount = &n
	}
	if v, ok := data["difficulty"].(string); ok {
		patch.Difficulty = &v
	}
	if v, ok := data["allow_powerups"].(bool); ok {
		patch.AllowPowerUps = &v
	}

	room, err := s.lobby.UpdateSettings(context.Background(), code, p.Identity.UserID, patch)
	if err != nil {
		p.sendError(err)
		return
	}

	participants, err := room.Participants()
	if err != nil {
		p.sendError(err)
		return
	}
	s.hub.Broadcast(room.Code, battle.EvtRoomUpdated, roomSnapshot(room, participants))
}

func (s *WSServer) handleSubmitAnswer(p *Player, payload any) {
	code := p.roomCode()
	if code == "" {
		p.sendError(battle.ErrBattleNotActive)
		return
	}

	data := parsePayload(payload)
	questionID := getString(data, "question_id", "")
	choice := getString(data, "choice", "")
	elapsedMs := getInt(data, "elapsed_ms", 0)

	err := s.engine.SubmitAnswer(context.Background(), code, p.Identity.UserID, questionID, choice, elapsedMs)
	if err != nil {
		p.sendError(err)
	}
}

func (s *WSServer) handleUsePowerUp(p *Player, payload any) {
	code := p.roomCode()
	if code == "" {
		p.sendError(battle.ErrBattleNotActive)
		return
	}

	data := parsePayload(payload)
	typ := getString(data, "type", "")

	if err := s.engine.UsePowerUp(context.Background(), code, p.Identity.UserID, typ); err != nil {
		p.sendError(err)
	}
}

func (p *Player) roomCode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Room
}

// sendMessage queues a message for the write pump; a full buffer drops the
// message rather than blocking the sender.
func (p *Player) sendMessage(msgType string, payload any) {
	msg := Message{Type: msgType, Payload: payload}
	select {
	case p.send <- msg:
	default:
		log.Printf("⚠️ Send buffer full for player %s, dropping message type: %s", p.Identity.UserID, msgType)
	}
}

func (p *Player) sendError(err error) {
	p.sendMessage(battle.EvtOperationError, map[string]any{"error": clientErrorMessage(err)})
}

// clientErrorMessage maps internal errors to client-safe text.
func clientErrorMessage(err error) string {
	switch {
	case errors.Is(err, battle.ErrRoomNotFound), errors.Is(err, battle.ErrBattleNotActive):
		return "room no longer active"
	case errors.Is(err, battle.ErrConflict):
		return "room is busy, try again"
	default:
		return err.Error()
	}
}

func (p *Player) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				p.Conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(p.ctx, writeWait)
			err := wsjson.Write(writeCtx, p.Conn, msg)
			cancel()

			if err != nil {
				log.Printf("❌ Error writing to WebSocket: %v", err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(p.ctx, writeWait)
			err := p.Conn.Ping(pingCtx)
			cancel()

			if err != nil {
				log.Printf("❌ Ping failed: %v", err)
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// resolveIdentity authenticates the handshake. A valid JWT wins; otherwise
// the connection gets a guest identity from query params.
func resolveIdentity(r *http.Request) battle.Identity {
	var tokenString string

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		if cookie, err := r.Cookie("token"); err == nil {
			tokenString = cookie.Value
		}
	}
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString != "" {
		jwtSecret := os.Getenv("JWT_SECRET")
		if jwtSecret == "" {
			jwtSecret = "studybattle-secret-change-in-production"
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("invalid signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err == nil && token.Valid {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				id := battle.Identity{}
				if v, ok := claims["user_id"].(string); ok {
					id.UserID = v
				}
				if v, ok := claims["username"].(string); ok {
					id.Username = v
				}
				if v, ok := claims["avatar"].(string); ok {
					id.Avatar = v
				}
				if id.UserID != "" {
					if id.Username == "" {
						id.Username = "Player" + id.UserID[:min(6, len(id.UserID))]
					}
					return id
				}
			}
		}
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = uuid.NewString()
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Guest" + userID[:min(6, len(userID))]
	}
	return battle.Identity{UserID: userID, Username: username}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// roomSnapshot is the lobby-facing view of a room. Questions are never
// included: answers stay server-side until reveal.
func roomSnapshot(room *models.BattleRoom, participants []models.Participant) map[string]any {
	list := make([]map[string]any, 0, len(participants))
	for _, p := range participants {
		list = append(list, map[string]any{
			"user_id":   p.UserID,
			"username":  p.Username,
			"avatar":    p.Avatar,
			"score":     p.Score,
			"is_active": p.IsActive,
			"is_host":   p.UserID == room.HostID,
		})
	}
	return map[string]any{
		"code":   room.Code,
		"status": room.Status,
		"host":   room.HostID,
		"settings": map[string]any{
			"max_players":       room.MaxPlayers,
			"time_per_question": room.TimePerQuestion,
			"question_count":    room.QuestionCount,
			"difficulty":        room.Difficulty,
			"allow_powerups":    room.AllowPowerUps,
		},
		"participants": list,
	}
}

func parsePayload(payload any) map[string]any {
	if payload == nil {
		return make(map[string]any)
	}
	if data, ok := payload.(map[string]any); ok {
		return data
	}
	return make(map[string]any)
}

func getString(data map[string]any, key string, defaultVal string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

func getInt(data map[string]any, key string, defaultVal int) int {
	if val, ok := data[key]; ok {
		return toInt(val)
	}
	return defaultVal
}

func toInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
