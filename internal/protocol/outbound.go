package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/roomrelay/internal/identity"
	"github.com/cory-johannsen/roomrelay/internal/room"
)

// Outbound envelope types not shared with inbound ones.
const (
	TypeConnected     = "connected"
	TypeAuthenticated = "authenticated"
	TypeRoomCreated   = "room_created"
	TypeRoomJoined    = "room_joined"
	TypePlayerJoined  = "player_joined"
	TypePlayerLeft    = "player_left"
	TypePlayerReady   = "player_ready"
	TypeChatMessage   = "chat_message"
	TypeGameState     = "game_state"
	TypePong          = "pong"
	TypeError         = "error"
)

// Error codes carried by error envelopes.
const (
	CodeProtocolError        = "protocol_error"
	CodeUnknownType          = "unknown_type"
	CodeAuthFailed           = "auth_failed"
	CodeNotAuthenticated     = "not_authenticated"
	CodeAlreadyAuthenticated = "already_authenticated"
	CodeRoomNotFound         = "room_not_found"
	CodeRoomFull             = "room_full"
	CodeAlreadyInRoom        = "already_in_room"
	CodeNotInRoom            = "not_in_room"
	CodeInvalidCapacity      = "invalid_capacity"
	CodeGameError            = "game_error"
	CodeInternalError        = "internal_error"
)

type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type Authenticated struct {
	Type string           `json:"type"`
	User identity.Profile `json:"user"`
}

type RoomCreated struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"room_id"`
	RoomType room.Kind `json:"room_type"`
	GameType string    `json:"game_type,omitempty"`
}

type RoomJoined struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"room_id"`
	RoomType room.Kind     `json:"room_type"`
	Players  []room.Player `json:"players"`
}

type PlayerJoined struct {
	Type   string      `json:"type"`
	RoomID string      `json:"room_id"`
	Player room.Player `json:"player"`
}

type PlayerLeft struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type PlayerReady struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Ready    bool   `json:"ready"`
}

type ChatMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	From      string `json:"from"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// GameActionRelay is the outbound form of a member's game action.
type GameActionRelay struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id"`
	PlayerID string          `json:"player_id"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type GameState struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id"`
	State  json.RawMessage `json:"state"`
}

type RoomInfoReply struct {
	Type string    `json:"type"`
	Room room.View `json:"room"`
}

type Pong struct {
	Type string `json:"type"`
}

// Error reports a failed request. Request is the inbound type that failed,
// when known.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

func NewConnected(sessionID string) Connected {
	return Connected{Type: TypeConnected, SessionID: sessionID}
}

func NewAuthenticated(user identity.Profile) Authenticated {
	return Authenticated{Type: TypeAuthenticated, User: user}
}

func NewRoomCreated(v room.View) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, RoomID: v.ID, RoomType: v.Kind, GameType: v.GameType}
}

func NewRoomJoined(v room.View) RoomJoined {
	players := v.Players
	if players == nil {
		players = []room.Player{}
	}
	return RoomJoined{Type: TypeRoomJoined, RoomID: v.ID, RoomType: v.Kind, Players: players}
}

func NewPlayerJoined(roomID string, p room.Player) PlayerJoined {
	return PlayerJoined{Type: TypePlayerJoined, RoomID: roomID, Player: p}
}

func NewPlayerLeft(roomID, playerID string) PlayerLeft {
	return PlayerLeft{Type: TypePlayerLeft, RoomID: roomID, PlayerID: playerID}
}

func NewPlayerReady(roomID, playerID string, ready bool) PlayerReady {
	return PlayerReady{Type: TypePlayerReady, RoomID: roomID, PlayerID: playerID, Ready: ready}
}

func NewChatMessage(roomID, from, username, content string, timestamp int64) ChatMessage {
	return ChatMessage{
		Type:      TypeChatMessage,
		RoomID:    roomID,
		From:      from,
		Username:  username,
		Content:   content,
		Timestamp: timestamp,
	}
}

func NewGameActionRelay(roomID, playerID, action string, data json.RawMessage) GameActionRelay {
	return GameActionRelay{Type: TypeGameAction, RoomID: roomID, PlayerID: playerID, Action: action, Data: data}
}

func NewGameState(roomID string, state json.RawMessage) GameState {
	return GameState{Type: TypeGameState, RoomID: roomID, State: state}
}

func NewRoomInfo(v room.View) RoomInfoReply {
	return RoomInfoReply{Type: TypeRoomInfo, Room: v}
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

func NewError(code, message, request string) Error {
	return Error{Type: TypeError, Code: code, Message: message, Request: request}
}

// Encode serializes an outbound envelope.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}
