package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/roomrelay/internal/config"
	"github.com/cory-johannsen/roomrelay/internal/frontend/admin"
	"github.com/cory-johannsen/roomrelay/internal/frontend/websocket"
	"github.com/cory-johannsen/roomrelay/internal/game/cardgame"
	"github.com/cory-johannsen/roomrelay/internal/protocol"
	"github.com/cory-johannsen/roomrelay/internal/testutil"
)

const wait = 2 * time.Second

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Identity.StaticTokens = map[string]config.StaticIdentity{
		"tok-alice": {ID: "42", Username: "alice"},
		"tok-bob":   {ID: "43", Username: "bob"},
	}
	return cfg
}

func startRelay(t *testing.T, cfg config.Config) (*app, string) {
	t.Helper()
	a, err := build(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(a.mux)
	t.Cleanup(func() {
		a.ws.Stop()
		srv.Close()
		a.scripts.Close()
	})
	return a, srv.URL
}

func login(t *testing.T, base, token string) *testutil.WSClient {
	t.Helper()
	c := testutil.NewWSClient(t, base+websocket.Path)
	c.ReadUntil(protocol.TypeConnected, wait)
	c.Send(map[string]string{"type": "authenticate", "token": token})
	c.ReadUntil(protocol.TypeAuthenticated, wait)
	c.ReadUntil(protocol.TypeRoomJoined, wait)
	return c
}

func TestBuild_RegistersCardGame(t *testing.T) {
	a, err := build(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.scripts.Close()
	assert.Contains(t, a.games.Names(), cardgame.KindName)
}

func TestBuild_UnknownDefaultKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Games.DefaultKind = "chess"
	_, err := build(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestEndToEnd_CardGame(t *testing.T) {
	_, base := startRelay(t, testConfig(t))
	alice := login(t, base, "tok-alice")
	bob := login(t, base, "tok-bob")

	alice.Send(map[string]any{"type": "create_room", "room_type": "game"})
	var created protocol.RoomCreated
	alice.ReadUntil(protocol.TypeRoomCreated, wait).Decode(t, &created)
	assert.Equal(t, cardgame.KindName, created.GameType)
	alice.ReadUntil(protocol.TypeRoomJoined, wait)

	bob.Send(map[string]any{"type": "join_room", "room_id": created.RoomID})
	bob.ReadUntil(protocol.TypeRoomJoined, wait)
	alice.ReadUntil(protocol.TypePlayerJoined, wait)

	alice.Send(map[string]any{"type": "game_action", "action": cardgame.ActionStart, "data": map[string]any{}})

	var relay protocol.GameActionRelay
	bob.ReadUntil(protocol.TypeGameAction, wait).Decode(t, &relay)
	assert.Equal(t, cardgame.ActionStart, relay.Action)

	for _, c := range []*testutil.WSClient{alice, bob} {
		var gs protocol.GameState
		c.ReadUntil(protocol.TypeGameState, wait).Decode(t, &gs)
		assert.Equal(t, created.RoomID, gs.RoomID)

		var st cardgame.State
		require.NoError(t, json.Unmarshal(gs.State, &st))
		assert.Equal(t, cardgame.PhasePlaying, st.GamePhase)
		assert.Len(t, st.PlayerHands["42"], cardgame.HandSize)
		assert.Len(t, st.PlayerHands["43"], cardgame.HandSize)
		assert.Len(t, st.Deck, 52-2*cardgame.HandSize)
	}
}

func TestEndToEnd_ScriptedKind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tally.lua"), []byte(`
		function apply(state, action, data, ctx)
			state = state or { total = 0 }
			if action ~= "add" then return nil, "only add" end
			state.total = state.total + data.n
			return state
		end
	`), 0644))
	catPath := filepath.Join(dir, "games.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte("kinds:\n  - name: tally\n    script: tally.lua\n    capacity: 2\n"), 0644))

	cfg := testConfig(t)
	cfg.Games.Catalogue = catPath
	_, base := startRelay(t, cfg)
	alice := login(t, base, "tok-alice")

	alice.Send(map[string]any{"type": "create_room", "room_type": "game", "game_type": "tally"})
	alice.ReadUntil(protocol.TypeRoomJoined, wait)

	alice.Send(map[string]any{"type": "game_action", "action": "add", "data": map[string]int{"n": 3}})
	var gs protocol.GameState
	alice.ReadUntil(protocol.TypeGameState, wait).Decode(t, &gs)
	assert.JSONEq(t, `{"total":3}`, string(gs.State))

	alice.Send(map[string]any{"type": "game_action", "action": "sub", "data": map[string]int{"n": 1}})
	var e protocol.Error
	alice.ReadUntil(protocol.TypeError, wait).Decode(t, &e)
	assert.Equal(t, protocol.CodeGameError, e.Code)
	assert.Equal(t, "only add", e.Message)
}

func TestEndToEnd_AdminStats(t *testing.T) {
	_, base := startRelay(t, testConfig(t))
	login(t, base, "tok-alice")

	resp, err := http.Get(base + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats admin.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.Members)
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Connections)
}

func TestEndToEnd_ShippedHighCard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Games.Catalogue = filepath.Join("..", "..", "content", "games", "catalogue.yaml")
	_, base := startRelay(t, cfg)
	alice := login(t, base, "tok-alice")
	bob := login(t, base, "tok-bob")

	alice.Send(map[string]any{"type": "create_room", "room_type": "game", "game_type": "high_card"})
	var created protocol.RoomCreated
	alice.ReadUntil(protocol.TypeRoomCreated, wait).Decode(t, &created)
	bob.Send(map[string]any{"type": "join_room", "room_id": created.RoomID})
	bob.ReadUntil(protocol.TypeRoomJoined, wait)

	alice.Send(map[string]any{"type": "game_action", "action": "deal"})
	alice.ReadUntil(protocol.TypeGameState, wait)
	alice.Send(map[string]any{"type": "game_action", "action": "draw"})
	alice.ReadUntil(protocol.TypeGameState, wait)
	bob.Send(map[string]any{"type": "game_action", "action": "draw"})

	var gs protocol.GameState
	alice.ReadUntil(protocol.TypeGameState, wait).Decode(t, &gs)
	var st struct {
		Phase  string         `json:"phase"`
		Round  int            `json:"round"`
		Draws  map[string]int `json:"draws"`
		Winner string         `json:"winner"`
	}
	require.NoError(t, json.Unmarshal(gs.State, &st))
	assert.Equal(t, "finished", st.Phase)
	assert.Equal(t, 1, st.Round)
	assert.Len(t, st.Draws, 2)
	assert.Contains(t, []string{"42", "43"}, st.Winner)
}
