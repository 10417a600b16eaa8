// Package room owns the set of live rooms and the client → room index.
//
// Locking discipline: a room's own lock is always acquired before the client
// index is touched, and the index is never held while waiting on a room lock.
// The two concurrent maps are sharded, so unrelated rooms never contend on a
// single global lock.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyInRoom   = errors.New("already in a room")
	ErrNotInRoom       = errors.New("not in a room")
	ErrInvalidCapacity = errors.New("invalid room capacity")
	ErrInvalidRoomKind = errors.New("invalid room kind")
)

// Kind distinguishes chat rooms from game rooms.
type Kind string

const (
	KindChat Kind = "chat"
	KindGame Kind = "game"
)

// ParseKind accepts "chat" and "game" case-insensitively. "card_game" and
// "cardgame" are accepted as game with the card_game kind.
//
// Postcondition: Returns the kind and an implied game type ("" when none), or
// an error wrapping ErrInvalidRoomKind.
func ParseKind(s string) (Kind, string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chat":
		return KindChat, "", nil
	case "game":
		return KindGame, "", nil
	case "card_game", "cardgame":
		return KindGame, "card_game", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRoomKind, s)
	}
}

// Player is a room member's public view.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

type member struct {
	player Player
	seq    uint64
}

// Room is a bounded set of members plus an opaque game state payload.
type Room struct {
	id        string
	kind      Kind
	gameType  string
	capacity  int
	createdAt time.Time

	mu      sync.RWMutex
	members map[string]*member
	state   json.RawMessage
	// closed is set under mu when the room is removed from the registry;
	// a closed room accepts no further joins.
	closed bool
}

func newRoom(id string, kind Kind, gameType string, capacity int, now time.Time) *Room {
	return &Room{
		id:        id,
		kind:      kind,
		gameType:  gameType,
		capacity:  capacity,
		createdAt: now,
		members:   make(map[string]*member),
	}
}

// memberIDsLocked returns member ids in join order. Caller holds mu.
func (r *Room) memberIDsLocked() []string {
	ms := r.sortedLocked()
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.player.ID
	}
	return ids
}

func (r *Room) sortedLocked() []*member {
	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	return ms
}

// View is a read-only projection of a room.
type View struct {
	ID        string          `json:"room_id"`
	Kind      Kind            `json:"room_type"`
	GameType  string          `json:"game_type,omitempty"`
	Capacity  int             `json:"max_players"`
	Players   []Player        `json:"players"`
	State     json.RawMessage `json:"state,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *Room) viewLocked() View {
	ms := r.sortedLocked()
	players := make([]Player, len(ms))
	for i, m := range ms {
		players[i] = m.player
	}
	var state json.RawMessage
	if r.state != nil {
		state = append(json.RawMessage(nil), r.state...)
	}
	return View{
		ID:        r.id,
		Kind:      r.kind,
		GameType:  r.gameType,
		Capacity:  r.capacity,
		Players:   players,
		State:     state,
		CreatedAt: r.createdAt,
	}
}
