// Package protocol defines the JSON envelopes exchanged with clients. Every
// envelope is an object whose "type" field names its variant. Inbound
// variants form a closed set: anything else is rejected with ErrUnknownType.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned for a well-formed envelope of an unrecognized type.
	ErrUnknownType = errors.New("unknown envelope type")
)

// Inbound envelope types.
const (
	TypeAuthenticate = "authenticate"
	TypeCreateRoom   = "create_room"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeSendMessage  = "send_message"
	TypeGameAction   = "game_action"
	TypePing         = "ping"
	TypeRoomInfo     = "room_info"
	TypeSetReady     = "set_ready"
	TypeLogout       = "logout"
)

// Message is a decoded inbound envelope.
type Message interface {
	Type() string
}

type Authenticate struct {
	Token string `json:"token"`
}

type CreateRoom struct {
	RoomType   string `json:"room_type"`
	GameType   string `json:"game_type,omitempty"`
	MaxPlayers *int   `json:"max_players,omitempty"`
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct{}

type SendMessage struct {
	Content string `json:"content"`
}

// GameAction is relayed opaquely; only the room's game handler reads Data.
type GameAction struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Ping struct{}

// RoomInfo asks for a room's view; an empty RoomID means the caller's room.
type RoomInfo struct {
	RoomID string `json:"room_id,omitempty"`
}

type SetReady struct {
	Ready bool `json:"ready"`
}

type Logout struct{}

func (Authenticate) Type() string { return TypeAuthenticate }
func (CreateRoom) Type() string   { return TypeCreateRoom }
func (JoinRoom) Type() string     { return TypeJoinRoom }
func (LeaveRoom) Type() string    { return TypeLeaveRoom }
func (SendMessage) Type() string  { return TypeSendMessage }
func (GameAction) Type() string   { return TypeGameAction }
func (Ping) Type() string         { return TypePing }
func (RoomInfo) Type() string     { return TypeRoomInfo }
func (SetReady) Type() string     { return TypeSetReady }
func (Logout) Type() string       { return TypeLogout }

// DecodeError reports why a frame was rejected and, when known, which
// request type it claimed to be.
type DecodeError struct {
	Request string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Request == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Request, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one inbound frame.
//
// Postcondition: Returns a Message of one of the inbound types, or a
// *DecodeError wrapping ErrMalformed or ErrUnknownType.
func Decode(frame []byte) (Message, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if head.Type == nil || *head.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	}
	typ := *head.Type

	var (
		msg Message
		err error
	)
	switch typ {
	case TypeAuthenticate:
		var m Authenticate
		if err = unmarshal(frame, &m); err == nil && m.Token == "" {
			err = missing("token")
		}
		msg = m
	case TypeCreateRoom:
		var m CreateRoom
		if err = unmarshal(frame, &m); err == nil && m.RoomType == "" {
			err = missing("room_type")
		}
		msg = m
	case TypeJoinRoom:
		var m JoinRoom
		if err = unmarshal(frame, &m); err == nil && m.RoomID == "" {
			err = missing("room_id")
		}
		msg = m
	case TypeLeaveRoom:
		msg = LeaveRoom{}
	case TypeSendMessage:
		var m SendMessage
		err = unmarshal(frame, &m)
		msg = m
	case TypeGameAction:
		var m GameAction
		if err = unmarshal(frame, &m); err == nil && m.Action == "" {
			err = missing("action")
		}
		msg = m
	case TypePing:
		msg = Ping{}
	case TypeRoomInfo:
		var m RoomInfo
		err = unmarshal(frame, &m)
		msg = m
	case TypeSetReady:
		var m SetReady
		err = unmarshal(frame, &m)
		msg = m
	case TypeLogout:
		msg = Logout{}
	default:
		return nil, &DecodeError{Request: typ, Err: fmt.Errorf("%w: %q", ErrUnknownType, typ)}
	}
	if err != nil {
		return nil, &DecodeError{Request: typ, Err: err}
	}
	return msg, nil
}

func unmarshal(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}

// RequestType extracts the request type recorded in a decode error.
func RequestType(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Request
	}
	return ""
}
