package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/game/dice"
)

// RegisterModules registers the engine.* Lua table into L:
//
//	engine.log.debug(msg) / engine.log.info(msg) / engine.log.warn(msg)
//	engine.random(n)   -- uniform integer in [1, n]
//	engine.shuffle(t)  -- shuffles the sequence t in place and returns it
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState, kind string) {
	engine := L.NewTable()
	engine.RawSetString("log", m.newLogModule(L, kind))
	engine.RawSetString("random", L.NewFunction(m.luaRandom))
	engine.RawSetString("shuffle", L.NewFunction(m.luaShuffle))
	L.SetGlobal("engine", engine)
}

func (m *Manager) newLogModule(L *lua.LState, kind string) *lua.LTable {
	logger := m.logger.With(zap.String("kind", kind))
	mod := L.NewTable()
	for name, fn := range map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
	} {
		fn := fn
		mod.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			fn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	return mod
}

func (m *Manager) luaRandom(L *lua.LState) int {
	n := L.CheckInt(1)
	if n < 1 {
		L.ArgError(1, "n must be >= 1")
		return 0
	}
	L.Push(lua.LNumber(m.src.Intn(n) + 1))
	return 1
}

func (m *Manager) luaShuffle(L *lua.LState) int {
	t := L.CheckTable(1)
	n := t.Len()
	dice.Shuffle(m.src, n, func(i, j int) {
		a, b := t.RawGetInt(i+1), t.RawGetInt(j+1)
		t.RawSetInt(i+1, b)
		t.RawSetInt(j+1, a)
	})
	L.Push(t)
	return 1
}
