package scripting

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/game/dice"
)

// applyFn is the global every game script must define:
//
//	function apply(state, action, data, ctx) return new_state end
//	function apply(state, action, data, ctx) return nil, "reason" end
const applyFn = "apply"

// ErrNoScript is returned when a kind has no loaded script.
var ErrNoScript = errors.New("no script loaded for kind")

// vm is one kind's interpreter. A GopherLua state is single-threaded, so
// every call holds mu.
type vm struct {
	mu   sync.Mutex
	L    *lua.LState
	path string
}

// Manager owns one sandboxed LState per script-defined game kind.
//
// Manager is safe for concurrent Apply. Calls to the same kind are serialized;
// different kinds run concurrently.
type Manager struct {
	mu        sync.RWMutex
	vms       map[string]*vm
	src       dice.Source
	instLimit int
	logger    *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: src and logger must be non-nil; instLimit >= 0 (0 uses
// DefaultInstructionLimit).
// Postcondition: Returns a non-nil Manager with no kinds loaded.
func NewManager(src dice.Source, instLimit int, logger *zap.Logger) *Manager {
	if src == nil {
		panic("scripting.NewManager: precondition violated: src must be non-nil")
	}
	if logger == nil {
		panic("scripting.NewManager: precondition violated: logger must be non-nil")
	}
	return &Manager{
		vms:       make(map[string]*vm),
		src:       src,
		instLimit: instLimit,
		logger:    logger,
	}
}

// Load creates a sandboxed VM for kind, registers the engine.* modules and
// executes the script at path. Loading a kind again replaces its VM.
//
// Precondition: kind must be non-empty.
// Postcondition: Returns an error if the script fails to run or does not
// define a global apply function.
func (m *Manager) Load(kind, path string) error {
	L, err := m.build(kind, path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old, ok := m.vms[kind]
	m.vms[kind] = &vm{L: L, path: path}
	m.mu.Unlock()

	if ok {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.logger.Info("game script loaded", zap.String("kind", kind), zap.String("path", path))
	return nil
}

func (m *Manager) build(kind, path string) (*lua.LState, error) {
	L := NewSandboxedState()
	m.RegisterModules(L, kind)

	release := Limit(L, m.instLimit)
	err := L.DoFile(path)
	release()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading %q for %q: %w", path, kind, err)
	}
	if L.GetGlobal(applyFn).Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("scripting: %q for %q does not define function %s", path, kind, applyFn)
	}
	return L, nil
}

// Kinds returns the loaded kind names in sorted order.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.vms))
	for name := range m.vms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply calls kind's apply function with the decoded state, action, data and
// a ctx table {actor = ..., members = {...}}.
//
// A nil first return rejects the action with the second return as reason.
// A Lua runtime error, including an exhausted instruction budget, returns a
// non-rejection error and the kind's VM is rebuilt from its script.
//
// Postcondition: On success returns the new state encoded as JSON.
func (m *Manager) Apply(kind string, ctx game.Context, state json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	v, ok := m.vms[kind]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoScript, kind)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	L := v.L

	st, err := FromJSON(L, state)
	if err != nil {
		return nil, err
	}
	d, err := FromJSON(L, data)
	if err != nil {
		return nil, game.Reject("invalid action data")
	}
	ctxT := L.NewTable()
	ctxT.RawSetString("actor", lua.LString(ctx.Actor))
	members := L.CreateTable(len(ctx.Members), 0)
	for _, id := range ctx.Members {
		members.Append(lua.LString(id))
	}
	ctxT.RawSetString("members", members)

	release := Limit(L, m.instLimit)
	err = L.CallByParam(lua.P{
		Fn:      L.GetGlobal(applyFn),
		NRet:    2,
		Protect: true,
	}, st, lua.LString(action), d, ctxT)
	release()
	if err != nil {
		m.logger.Warn("game script runtime error",
			zap.String("kind", kind),
			zap.String("action", action),
			zap.Error(err),
		)
		m.rebuildLocked(kind, v)
		return nil, fmt.Errorf("scripting: %q action %q: %w", kind, action, err)
	}

	ret := L.Get(-2)
	reason := L.Get(-1)
	L.Pop(2)

	if ret == lua.LNil {
		if reason == lua.LNil {
			return nil, game.Reject("action %q not allowed", action)
		}
		return nil, game.Reject("%s", lua.LVAsString(reason))
	}
	out, err := ToJSON(ret)
	if err != nil {
		return nil, fmt.Errorf("scripting: %q action %q: %w", kind, action, err)
	}
	return out, nil
}

// rebuildLocked replaces v's state with a fresh one loaded from its script.
// If the reload fails the old state is kept.
//
// Precondition: v.mu must be held.
func (m *Manager) rebuildLocked(kind string, v *vm) {
	L, err := m.build(kind, v.path)
	if err != nil {
		m.logger.Error("game script reload failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	v.L.Close()
	v.L = L
}

// Handler returns a game.Handler that dispatches to kind's script.
func (m *Manager) Handler(kind string) game.Handler {
	return game.HandlerFunc(func(ctx game.Context, state json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error) {
		return m.Apply(kind, ctx, state, action, data)
	})
}

// Register loads every catalogue entry and registers it as a game kind.
//
// Precondition: reg and cat must be non-nil.
// Postcondition: Stops at the first entry that fails to load or register.
func (m *Manager) Register(reg *game.Registry, cat *game.Catalogue) error {
	for _, e := range cat.Kinds {
		if err := m.Load(e.Name, e.Script); err != nil {
			return err
		}
		if err := reg.Register(game.Kind{
			Name:     e.Name,
			Capacity: e.Capacity,
			Handler:  m.Handler(e.Name),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, v := range m.vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
		delete(m.vms, kind)
	}
}
