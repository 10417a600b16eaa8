package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/identity"
	"github.com/cory-johannsen/roomrelay/internal/protocol"
	"github.com/cory-johannsen/roomrelay/internal/room"
	"github.com/cory-johannsen/roomrelay/internal/session"
)

// Conn is the router state for one connection. It is driven by a single
// goroutine (the session's inbound loop) and is not safe for concurrent use.
type Conn struct {
	r         *Router
	sessionID string
	out       session.Handle
	logger    *zap.Logger
	profile   *identity.Profile
}

// NewConn creates the router state for a freshly accepted connection. Replies
// to the connection are pushed to out.
//
// Precondition: sessionID must be non-empty; out must be non-nil.
func (r *Router) NewConn(sessionID string, out session.Handle) *Conn {
	return &Conn{
		r:         r,
		sessionID: sessionID,
		out:       out,
		logger:    r.logger.With(zap.String("session_id", sessionID)),
	}
}

// Authenticated reports whether the connection has completed authentication.
func (c *Conn) Authenticated() bool {
	return c.profile != nil
}

// ClientID returns the authenticated client id, or "" before authentication.
func (c *Conn) ClientID() string {
	if c.profile == nil {
		return ""
	}
	return c.profile.ID
}

// HandleFrame decodes and dispatches one inbound frame. Errors are reported to
// the client as error envelopes and never close the connection.
func (c *Conn) HandleFrame(ctx context.Context, frame []byte) Disposition {
	msg, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Debug("rejecting inbound frame", zap.Error(err))
		c.replyError(err, protocol.RequestType(err))
		return Continue
	}
	return c.Handle(ctx, msg)
}

// Handle dispatches one decoded message.
func (c *Conn) Handle(ctx context.Context, msg protocol.Message) Disposition {
	switch m := msg.(type) {
	case protocol.Ping:
		c.reply(protocol.NewPong())
		return Continue
	case protocol.Authenticate:
		c.handleAuthenticate(ctx, m)
		return Continue
	}

	if c.profile == nil {
		c.reply(protocol.NewError(protocol.CodeNotAuthenticated, "authenticate first", msg.Type()))
		return Continue
	}
	if !c.r.conns.Owns(c.profile.ID, c.out) {
		c.logger.Info("dropping request from superseded connection", zap.String("kind", msg.Type()))
		return Close
	}

	switch m := msg.(type) {
	case protocol.CreateRoom:
		c.handleCreateRoom(m)
	case protocol.JoinRoom:
		c.handleJoinRoom(m)
	case protocol.LeaveRoom:
		c.leave()
	case protocol.SendMessage:
		c.handleSendMessage(m)
	case protocol.GameAction:
		c.handleGameAction(m)
	case protocol.RoomInfo:
		c.handleRoomInfo(m)
	case protocol.SetReady:
		c.handleSetReady(m)
	case protocol.Logout:
		c.logger.Info("client logged out")
		return Close
	default:
		c.reply(protocol.NewError(protocol.CodeUnknownType, fmt.Sprintf("unhandled type %q", msg.Type()), msg.Type()))
	}
	return Continue
}

func (c *Conn) handleAuthenticate(ctx context.Context, m protocol.Authenticate) {
	if c.profile != nil {
		c.reply(protocol.NewError(protocol.CodeAlreadyAuthenticated, "already authenticated", m.Type()))
		return
	}
	prof, err := c.r.lookup(ctx, m.Token)
	if err != nil {
		c.logger.Info("authentication failed", zap.Error(err))
		c.reply(protocol.NewError(protocol.CodeAuthFailed, "authentication failed", m.Type()))
		return
	}

	c.profile = &prof
	c.logger = c.logger.With(zap.String("client_id", prof.ID))
	c.reply(protocol.NewAuthenticated(prof))
	if prev, ok := c.r.conns.Register(prof.ID, c.out); ok {
		c.logger.Info("client reconnected, closing previous connection")
		prev.Close()
	}
	c.logger.Info("client authenticated", zap.String("username", prof.Username))

	v, err := c.r.rooms.JoinLobby(c.player())
	switch {
	case err == nil:
		c.announceJoin(v)
	case errors.Is(err, room.ErrAlreadyInRoom):
		// A previous connection for this client still holds its membership.
		c.resume()
	default:
		c.logger.Warn("lobby join failed", zap.Error(err))
		c.replyError(err, m.Type())
	}
}

// resume tells a reconnected client which room it is still in.
func (c *Conn) resume() {
	roomID, ok := c.r.rooms.RoomOf(c.profile.ID)
	if !ok {
		return
	}
	if v, ok := c.r.rooms.Snapshot(roomID); ok {
		c.reply(protocol.NewRoomJoined(v))
	}
}

func (c *Conn) handleCreateRoom(m protocol.CreateRoom) {
	if cur, in := c.r.rooms.RoomOf(c.profile.ID); in && cur != c.r.rooms.LobbyID() {
		c.replyError(fmt.Errorf("%w: leave %s first", room.ErrAlreadyInRoom, cur), m.Type())
		return
	}
	kind, gameType, err := room.ParseKind(m.RoomType)
	if err != nil {
		c.replyError(err, m.Type())
		return
	}

	opts := room.CreateOptions{Kind: kind}
	if m.MaxPlayers != nil {
		if *m.MaxPlayers <= 0 {
			c.replyError(fmt.Errorf("%w: %d", room.ErrInvalidCapacity, *m.MaxPlayers), m.Type())
			return
		}
		opts.Capacity = *m.MaxPlayers
	}
	if kind == room.KindGame {
		if gameType == "" {
			gameType = m.GameType
		}
		if gameType == "" {
			gameType = c.r.defaultKind
		}
		k, err := c.r.games.Kind(gameType)
		if err != nil {
			c.replyError(err, m.Type())
			return
		}
		opts.GameType = k.Name
		if opts.Capacity == 0 && k.Capacity > 0 {
			opts.Capacity = k.Capacity
		}
	}

	v, err := c.r.rooms.CreateRoom(opts)
	if err != nil {
		c.replyError(err, m.Type())
		return
	}
	c.logger.Info("room created by client", zap.String("room_id", v.ID))
	c.reply(protocol.NewRoomCreated(v))

	joined, err := c.enter(v.ID)
	if err != nil {
		c.replyError(err, m.Type())
		return
	}
	c.announceJoin(joined)
}

func (c *Conn) handleJoinRoom(m protocol.JoinRoom) {
	v, err := c.enter(m.RoomID)
	if err != nil {
		c.replyError(err, m.Type())
		return
	}
	c.announceJoin(v)
}

// enter moves the client into roomID. A client waiting in the lobby leaves it
// implicitly; a client in any other room must leave_room first. If the join
// fails after leaving the lobby, the client is returned to the lobby.
func (c *Conn) enter(roomID string) (room.View, error) {
	lobby := c.r.rooms.LobbyID()
	cur, in := c.r.rooms.RoomOf(c.profile.ID)
	if !in || cur != lobby || roomID == lobby {
		return c.r.rooms.JoinRoom(roomID, c.player())
	}

	target, ok := c.r.rooms.Snapshot(roomID)
	if !ok {
		return room.View{}, fmt.Errorf("%w: %s", room.ErrRoomNotFound, roomID)
	}
	if len(target.Players) >= target.Capacity {
		return room.View{}, fmt.Errorf("%w: %s", room.ErrRoomFull, roomID)
	}

	c.leave()
	v, err := c.r.rooms.JoinRoom(roomID, c.player())
	if err != nil {
		if back, lerr := c.r.rooms.JoinLobby(c.player()); lerr == nil {
			c.announceJoin(back)
		}
		return room.View{}, err
	}
	return v, nil
}

// announceJoin confirms a join to the client and notifies the other members.
func (c *Conn) announceJoin(v room.View) {
	c.reply(protocol.NewRoomJoined(v))
	c.broadcast(v.ID, c.profile.ID, protocol.NewPlayerJoined(v.ID, c.player()))
}

// leave removes the client from its room and notifies the remaining members.
func (c *Conn) leave() {
	roomID, ok := c.r.rooms.LeaveRoom(c.profile.ID)
	if !ok {
		return
	}
	c.broadcast(roomID, "", protocol.NewPlayerLeft(roomID, c.profile.ID))
}

func (c *Conn) handleSendMessage(m protocol.SendMessage) {
	roomID, ok := c.r.rooms.RoomOf(c.profile.ID)
	if !ok {
		c.reply(protocol.NewError(protocol.CodeNotInRoom, room.ErrNotInRoom.Error(), m.Type()))
		return
	}
	msg := protocol.NewChatMessage(roomID, c.profile.ID, c.profile.Username, m.Content, c.r.now().Unix())
	c.broadcast(roomID, c.profile.ID, msg)
}

func (c *Conn) handleGameAction(m protocol.GameAction) {
	res, err := c.r.rooms.ApplyGameAction(c.profile.ID, m.Action, m.Data)
	if err != nil {
		if errors.Is(err, room.ErrNotInRoom) {
			c.replyError(err, m.Type())
			return
		}
		c.logger.Debug("game action rejected", zap.String("action", m.Action), zap.Error(err))
		code := codeFor(err)
		if code == protocol.CodeInternalError {
			code = protocol.CodeGameError
		}
		c.reply(protocol.NewError(code, game.Reason(err), m.Type()))
		return
	}

	c.broadcast(res.RoomID, c.profile.ID, protocol.NewGameActionRelay(res.RoomID, c.profile.ID, m.Action, m.Data))
	if res.Applied {
		c.broadcast(res.RoomID, "", protocol.NewGameState(res.RoomID, res.State))
	}
}

func (c *Conn) handleRoomInfo(m protocol.RoomInfo) {
	roomID := m.RoomID
	if roomID == "" {
		cur, ok := c.r.rooms.RoomOf(c.profile.ID)
		if !ok {
			c.reply(protocol.NewError(protocol.CodeNotInRoom, room.ErrNotInRoom.Error(), m.Type()))
			return
		}
		roomID = cur
	}
	v, ok := c.r.rooms.Snapshot(roomID)
	if !ok {
		c.reply(protocol.NewError(protocol.CodeRoomNotFound, fmt.Sprintf("%s: %s", room.ErrRoomNotFound, roomID), m.Type()))
		return
	}
	c.reply(protocol.NewRoomInfo(v))
}

func (c *Conn) handleSetReady(m protocol.SetReady) {
	roomID, err := c.r.rooms.SetReady(c.profile.ID, m.Ready)
	if err != nil {
		c.replyError(err, m.Type())
		return
	}
	c.broadcast(roomID, "", protocol.NewPlayerReady(roomID, c.profile.ID, m.Ready))
}

// Cleanup releases the client's room membership and connection registration.
// A superseded connection leaves the membership to its successor unless no
// connection is registered for the client any more. Safe to call more than
// once.
func (c *Conn) Cleanup() {
	if c.profile == nil {
		return
	}
	if !c.r.conns.Owns(c.profile.ID, c.out) {
		if c.r.conns.Has(c.profile.ID) {
			c.logger.Debug("connection superseded, skipping room cleanup")
			return
		}
		c.leave()
		c.logger.Debug("no live connection for client, releasing membership")
		return
	}
	c.leave()
	c.r.conns.UnregisterIf(c.profile.ID, c.out)
	c.logger.Info("client disconnected")
}

func (c *Conn) player() room.Player {
	return room.Player{ID: c.profile.ID, Username: c.profile.Username}
}

func (c *Conn) reply(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		c.logger.Error("encoding reply", zap.Error(err))
		return
	}
	if err := c.out.Push(data); err != nil {
		c.logger.Debug("dropping reply", zap.Error(err))
	}
}

func (c *Conn) replyError(err error, request string) {
	code := codeFor(err)
	msg := err.Error()
	if code == protocol.CodeInternalError {
		c.logger.Error("request failed", zap.String("kind", request), zap.Error(err))
		msg = "internal error"
	}
	c.reply(protocol.NewError(code, msg, request))
}

func (c *Conn) broadcast(roomID, exclude string, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		c.logger.Error("encoding broadcast", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	c.r.rooms.Broadcast(roomID, exclude, data)
}
