package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/roomrelay/internal/frontend/admin"
	"github.com/cory-johannsen/roomrelay/internal/room"
	"github.com/cory-johannsen/roomrelay/internal/session"
)

func newServer(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	conns := session.NewRegistry(logger)
	rooms := room.NewRegistry(room.Limits{
		LobbyID:       "lobby",
		LobbyCapacity: 100,
		ChatCapacity:  50,
		GameCapacity:  4,
		MaxCapacity:   1000,
	}, conns, logger)

	mux := http.NewServeMux()
	admin.NewHandler(rooms, conns, admin.CounterFunc(func() int { return 7 }), logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rooms
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStats(t *testing.T) {
	srv, rooms := newServer(t)
	_, err := rooms.JoinLobby(room.Player{ID: "42", Username: "alice"})
	require.NoError(t, err)
	_, err = rooms.CreateRoom(room.CreateOptions{Kind: room.KindChat})
	require.NoError(t, err)

	var body admin.StatsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/stats", &body))
	assert.Equal(t, 2, body.Rooms)
	assert.Equal(t, 1, body.Members)
	assert.Equal(t, 0, body.Clients)
	assert.Equal(t, 7, body.Connections)
}

func TestListRooms(t *testing.T) {
	srv, rooms := newServer(t)
	created, err := rooms.CreateRoom(room.CreateOptions{Kind: room.KindChat})
	require.NoError(t, err)

	var body struct {
		Rooms []room.View `json:"rooms"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/rooms", &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, created.ID, body.Rooms[0].ID)
	assert.Equal(t, room.KindChat, body.Rooms[0].Kind)
}

func TestRoomDetail(t *testing.T) {
	srv, rooms := newServer(t)
	v, err := rooms.JoinLobby(room.Player{ID: "42", Username: "alice"})
	require.NoError(t, err)

	var got room.View
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/rooms/"+v.ID, &got))
	assert.Equal(t, "lobby", got.ID)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "alice", got.Players[0].Username)
}

func TestRoomDetail_NotFound(t *testing.T) {
	srv, _ := newServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/rooms/nope", &body))
	assert.Equal(t, "room not found", body["error"])
}
