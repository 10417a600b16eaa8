package game_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/roomrelay/internal/game"
)

func echoHandler() game.Handler {
	return game.HandlerFunc(func(_ game.Context, state json.RawMessage, _ string, _ json.RawMessage) (json.RawMessage, error) {
		return state, nil
	})
}

func TestReject_WrapsErrRejected(t *testing.T) {
	err := game.Reject("not your turn (%s)", "bob")
	assert.True(t, errors.Is(err, game.ErrRejected))
	assert.Equal(t, "not your turn (bob)", game.Reason(err))
}

func TestReason_PassesThroughOtherErrors(t *testing.T) {
	assert.Equal(t, "boom", game.Reason(errors.New("boom")))
	assert.Equal(t, "", game.Reason(nil))
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := game.NewRegistry()
	require.NoError(t, reg.Register(game.Kind{Name: "echo", Capacity: 3, Handler: echoHandler()}))

	k, err := reg.Kind("echo")
	require.NoError(t, err)
	assert.Equal(t, 3, k.Capacity)

	h, ok := reg.Handler("echo")
	assert.True(t, ok)
	assert.NotNil(t, h)
	assert.Equal(t, []string{"echo"}, reg.Names())
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := game.NewRegistry()
	_, err := reg.Kind("chess")
	assert.ErrorIs(t, err, game.ErrUnknownKind)
	_, ok := reg.Handler("chess")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := game.NewRegistry()
	require.NoError(t, reg.Register(game.Kind{Name: "echo", Handler: echoHandler()}))
	assert.Error(t, reg.Register(game.Kind{Name: "echo", Handler: echoHandler()}))
}

func TestRegistry_PreconditionsPanic(t *testing.T) {
	reg := game.NewRegistry()
	assert.Panics(t, func() { _ = reg.Register(game.Kind{Handler: echoHandler()}) })
	assert.Panics(t, func() { _ = reg.Register(game.Kind{Name: "x"}) })
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadCatalogue_ResolvesRelativeScripts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "games.yaml")
	writeFile(t, path, `
kinds:
  - name: counter
    script: scripts/counter.lua
    capacity: 6
  - name: abs
    script: /opt/games/abs.lua
`)

	c, err := game.LoadCatalogue(path)
	require.NoError(t, err)
	require.Len(t, c.Kinds, 2)
	assert.Equal(t, filepath.Join(dir, "scripts/counter.lua"), c.Kinds[0].Script)
	assert.Equal(t, 6, c.Kinds[0].Capacity)
	assert.Equal(t, "/opt/games/abs.lua", c.Kinds[1].Script)
}

func TestLoadCatalogue_Errors(t *testing.T) {
	cases := map[string]string{
		"missing name":      "kinds:\n  - script: a.lua\n",
		"missing script":    "kinds:\n  - name: a\n",
		"duplicate":         "kinds:\n  - name: a\n    script: a.lua\n  - name: a\n    script: b.lua\n",
		"negative capacity": "kinds:\n  - name: a\n    script: a.lua\n    capacity: -1\n",
		"bad yaml":          "kinds: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "games.yaml")
			writeFile(t, path, content)
			_, err := game.LoadCatalogue(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogue_MissingFile(t *testing.T) {
	_, err := game.LoadCatalogue("/nonexistent/games.yaml")
	assert.Error(t, err)
}
