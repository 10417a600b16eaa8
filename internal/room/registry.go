package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/game"
)

// maxIndexRetries bounds how often an operation re-reads the client index
// after finding that the room it pointed at no longer lists the client.
const maxIndexRetries = 3

// Deliverer fans encoded envelopes out to clients.
type Deliverer interface {
	DeliverMany(ids []string, data []byte) int
}

// GameHandlers resolves the handler for a game room's game type.
type GameHandlers interface {
	Handler(kind string) (game.Handler, bool)
}

// Limits holds capacity defaults and bounds.
type Limits struct {
	LobbyID       string
	LobbyCapacity int
	ChatCapacity  int
	GameCapacity  int
	MaxCapacity   int
}

// CreateOptions describes a room to create.
type CreateOptions struct {
	Kind     Kind
	GameType string
	// Capacity of 0 selects the default for Kind.
	Capacity int
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// GameResult reports the outcome of ApplyGameAction.
type GameResult struct {
	RoomID string
	Kind   Kind
	// Applied is false when the room has no handler and the action is relay-only.
	Applied bool
	State   json.RawMessage
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Registry) { g.now = now }
}

// WithIDGenerator overrides room id generation.
func WithIDGenerator(newID func() string) Option {
	return func(g *Registry) { g.newID = newID }
}

// WithGames installs the game handler lookup used for game rooms.
func WithGames(h GameHandlers) Option {
	return func(g *Registry) { g.games = h }
}

// Registry owns every live room and the client → room index.
// All methods are safe for concurrent use.
//
// Invariants, observed under each room's lock:
//   - a room never holds more members than its capacity;
//   - a client is in a room's member set iff the index maps it to that room;
//   - a room with no members is absent from the registry, except between
//     creation and its first join (see Reap).
type Registry struct {
	rooms  cmap.ConcurrentMap[string, *Room]
	index  cmap.ConcurrentMap[string, string]
	out    Deliverer
	games  GameHandlers
	limits Limits
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
	seq    atomic.Uint64
}

// NewRegistry creates an empty Registry.
//
// Precondition: out and logger must be non-nil; limits.LobbyID non-empty and
// every capacity in limits positive.
func NewRegistry(limits Limits, out Deliverer, logger *zap.Logger, opts ...Option) *Registry {
	g := &Registry{
		rooms:  cmap.New[*Room](),
		index:  cmap.New[string](),
		out:    out,
		limits: limits,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LobbyID returns the reserved default room id.
func (g *Registry) LobbyID() string {
	return g.limits.LobbyID
}

// CreateRoom creates an empty room under a fresh id.
//
// Postcondition: Returns the new room's view, or an error wrapping
// ErrInvalidRoomKind, ErrInvalidCapacity or game.ErrUnknownKind.
func (g *Registry) CreateRoom(opts CreateOptions) (View, error) {
	capacity, err := g.capacityFor(opts)
	if err != nil {
		return View{}, err
	}
	if opts.Kind == KindGame && opts.GameType != "" && g.games != nil {
		if _, ok := g.games.Handler(opts.GameType); !ok {
			return View{}, fmt.Errorf("%w: %q", game.ErrUnknownKind, opts.GameType)
		}
	}

	for {
		id := g.newID()
		if id == g.limits.LobbyID {
			continue
		}
		r := newRoom(id, opts.Kind, opts.GameType, capacity, g.now())
		if !g.rooms.SetIfAbsent(id, r) {
			continue
		}
		g.logger.Info("room created",
			zap.String("room_id", id),
			zap.String("kind", string(opts.Kind)),
			zap.String("game_type", opts.GameType),
			zap.Int("capacity", capacity),
		)
		r.mu.RLock()
		v := r.viewLocked()
		r.mu.RUnlock()
		return v, nil
	}
}

func (g *Registry) capacityFor(opts CreateOptions) (int, error) {
	var def int
	switch opts.Kind {
	case KindChat:
		def = g.limits.ChatCapacity
	case KindGame:
		def = g.limits.GameCapacity
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoomKind, opts.Kind)
	}
	switch {
	case opts.Capacity == 0:
		return def, nil
	case opts.Capacity < 0 || opts.Capacity > g.limits.MaxCapacity:
		return 0, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidCapacity, opts.Capacity, g.limits.MaxCapacity)
	default:
		return opts.Capacity, nil
	}
}

// JoinRoom adds p to roomID. Joining the lobby id creates the lobby on demand.
//
// Postcondition: On success p is a member and the index maps p.ID to roomID;
// on failure nothing changed and the error wraps ErrRoomNotFound,
// ErrAlreadyInRoom or ErrRoomFull.
func (g *Registry) JoinRoom(roomID string, p Player) (View, error) {
	if roomID == g.limits.LobbyID {
		return g.JoinLobby(p)
	}
	r, ok := g.rooms.Get(roomID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return g.join(r, p)
}

// JoinLobby adds p to the lobby, creating the lobby if it does not exist.
func (g *Registry) JoinLobby(p Player) (View, error) {
	for {
		r := newRoom(g.limits.LobbyID, KindChat, "", g.limits.LobbyCapacity, g.now())
		if !g.rooms.SetIfAbsent(r.id, r) {
			existing, ok := g.rooms.Get(r.id)
			if !ok {
				continue
			}
			r = existing
		}
		v, err := g.join(r, p)
		if errors.Is(err, ErrRoomNotFound) {
			// The lobby emptied and closed between lookup and lock.
			continue
		}
		return v, err
	}
}

func (g *Registry) join(r *Room, p Player) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return View{}, fmt.Errorf("%w: %s", ErrRoomNotFound, r.id)
	}
	if g.index.Has(p.ID) {
		return View{}, fmt.Errorf("%w: client %s", ErrAlreadyInRoom, p.ID)
	}
	if len(r.members) >= r.capacity {
		return View{}, fmt.Errorf("%w: %s (%d/%d)", ErrRoomFull, r.id, len(r.members), r.capacity)
	}
	if !g.index.SetIfAbsent(p.ID, r.id) {
		return View{}, fmt.Errorf("%w: client %s", ErrAlreadyInRoom, p.ID)
	}
	r.members[p.ID] = &member{player: p, seq: g.seq.Add(1)}

	g.logger.Debug("client joined room",
		zap.String("client_id", p.ID),
		zap.String("room_id", r.id),
		zap.Int("members", len(r.members)),
	)
	return r.viewLocked(), nil
}

// LeaveRoom removes clientID from its room. If the room becomes empty it is
// removed from the registry under the same room lock, so no empty room is
// ever observable as joinable.
//
// Postcondition: Returns the room left and true, or "" and false when the
// client was in no room. Calling it again is a no-op.
func (g *Registry) LeaveRoom(clientID string) (string, bool) {
	for attempt := 0; attempt < maxIndexRetries; attempt++ {
		roomID, ok := g.index.Get(clientID)
		if !ok {
			return "", false
		}
		r, ok := g.rooms.Get(roomID)
		if !ok {
			g.index.RemoveCb(clientID, pointsAt(roomID))
			continue
		}
		if g.leave(r, clientID) {
			return roomID, true
		}
	}
	return "", false
}

func (g *Registry) leave(r *Room, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[clientID]; !ok {
		return false
	}
	delete(r.members, clientID)
	g.index.RemoveCb(clientID, pointsAt(r.id))

	g.logger.Debug("client left room",
		zap.String("client_id", clientID),
		zap.String("room_id", r.id),
		zap.Int("members", len(r.members)),
	)
	if len(r.members) == 0 {
		g.removeLocked(r)
		g.logger.Info("room removed", zap.String("room_id", r.id), zap.String("reason", "empty"))
	}
	return true
}

// removeLocked closes r and deletes it from the room map if it is still the
// registered instance. Caller holds r.mu for writing.
func (g *Registry) removeLocked(r *Room) {
	r.closed = true
	g.rooms.RemoveCb(r.id, func(_ string, cur *Room, exists bool) bool {
		return exists && cur == r
	})
}

func pointsAt(roomID string) cmap.RemoveCb[string, string] {
	return func(_ string, cur string, exists bool) bool {
		return exists && cur == roomID
	}
}

// RoomOf returns the room clientID currently belongs to.
func (g *Registry) RoomOf(clientID string) (string, bool) {
	return g.index.Get(clientID)
}

// Broadcast delivers data to every member of roomID except exclude (which may
// be empty). Membership is snapshotted under the room's read lock; clients
// joining or leaving concurrently may or may not be included.
//
// Postcondition: Returns the number of members whose queue accepted data.
func (g *Registry) Broadcast(roomID, exclude string, data []byte) int {
	r, ok := g.rooms.Get(roomID)
	if !ok {
		return 0
	}
	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	return g.out.DeliverMany(ids, data)
}

// Snapshot returns a read-only view of roomID.
func (g *Registry) Snapshot(roomID string) (View, bool) {
	r, ok := g.rooms.Get(roomID)
	if !ok {
		return View{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return View{}, false
	}
	return r.viewLocked(), true
}

// List returns views of every room, oldest first.
func (g *Registry) List() []View {
	views := make([]View, 0, g.rooms.Count())
	for _, r := range g.rooms.Items() {
		r.mu.RLock()
		if !r.closed {
			views = append(views, r.viewLocked())
		}
		r.mu.RUnlock()
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// Stats counts rooms and indexed members.
func (g *Registry) Stats() Stats {
	return Stats{
		Rooms:   g.rooms.Count(),
		Members: g.index.Count(),
	}
}

// SetReady updates clientID's readiness flag in its current room.
//
// Postcondition: Returns the room id, or an error wrapping ErrNotInRoom.
func (g *Registry) SetReady(clientID string, ready bool) (string, error) {
	var roomID string
	err := g.withMember(clientID, func(r *Room, m *member) error {
		m.player.Ready = ready
		roomID = r.id
		return nil
	})
	return roomID, err
}

// ApplyGameAction runs the room's game handler for an action by clientID and
// stores the resulting state. The handler runs under the room's write lock,
// so actions within one room are applied one at a time.
//
// Postcondition: Returns Applied=false for rooms without a handler (relay
// only). On a handler error the stored state is unchanged.
func (g *Registry) ApplyGameAction(clientID, action string, data json.RawMessage) (GameResult, error) {
	var res GameResult
	err := g.withMember(clientID, func(r *Room, _ *member) error {
		res.RoomID = r.id
		res.Kind = r.kind
		if r.kind != KindGame || r.gameType == "" || g.games == nil {
			return nil
		}
		h, ok := g.games.Handler(r.gameType)
		if !ok {
			return fmt.Errorf("%w: %q", game.ErrUnknownKind, r.gameType)
		}
		next, err := h.Apply(game.Context{Actor: clientID, Members: r.memberIDsLocked()}, r.state, action, data)
		if err != nil {
			return err
		}
		r.state = next
		res.Applied = true
		res.State = append(json.RawMessage(nil), next...)
		return nil
	})
	return res, err
}

// withMember runs fn under the write lock of clientID's room.
func (g *Registry) withMember(clientID string, fn func(*Room, *member) error) error {
	for attempt := 0; attempt < maxIndexRetries; attempt++ {
		roomID, ok := g.index.Get(clientID)
		if !ok {
			break
		}
		r, ok := g.rooms.Get(roomID)
		if !ok {
			continue
		}
		done, err := func() (bool, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			m, ok := r.members[clientID]
			if !ok || r.closed {
				return false, nil
			}
			return true, fn(r, m)
		}()
		if done {
			return err
		}
	}
	return fmt.Errorf("%w: client %s", ErrNotInRoom, clientID)
}

// Reap removes rooms that have had no members for at least grace since
// creation. Rooms that empty after being joined are removed by LeaveRoom; the
// only empty rooms Reap finds are ones whose creator never joined.
//
// Postcondition: Returns the ids of removed rooms.
func (g *Registry) Reap(now time.Time, grace time.Duration) []string {
	var reaped []string
	for _, r := range g.rooms.Items() {
		r.mu.Lock()
		if !r.closed && len(r.members) == 0 && now.Sub(r.createdAt) >= grace {
			g.removeLocked(r)
			reaped = append(reaped, r.id)
		}
		r.mu.Unlock()
	}
	return reaped
}
