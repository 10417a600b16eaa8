package scripting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds table nesting when converting Lua values to JSON, which
// also rejects self-referencing tables.
const maxDepth = 64

// FromJSON decodes raw JSON into a Lua value. Empty input is nil.
func FromJSON(L *lua.LState, raw json.RawMessage) (lua.LValue, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return lua.LNil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return lua.LNil, fmt.Errorf("decoding JSON for script: %w", err)
	}
	return toLua(L, v), nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lua.LString(x.String())
		}
		return lua.LNumber(f)
	case string:
		return lua.LString(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// ToJSON encodes a Lua value as JSON. A table whose keys are exactly 1..n is
// an array; any other non-empty table is an object; an empty table is {}.
//
// Postcondition: Returns an error for functions, userdata, threads, channels,
// non-finite numbers, or nesting deeper than maxDepth.
func ToJSON(v lua.LValue) (json.RawMessage, error) {
	g, err := toGo(v, 0)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding script value: %w", err)
	}
	return data, nil
}

func toGo(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("script value nested deeper than %d", maxDepth)
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("script produced non-finite number")
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		return tableToGo(x, depth)
	default:
		return nil, fmt.Errorf("script produced unsupported %s value", v.Type())
	}
}

func tableToGo(t *lua.LTable, depth int) (any, error) {
	n := t.MaxN()
	total := 0
	t.ForEach(func(_, _ lua.LValue) { total++ })

	if n > 0 && n == total {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			e, err := toGo(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		return arr, nil
	}

	obj := make(map[string]any, total)
	var keys []lua.LValue
	t.ForEach(func(k, _ lua.LValue) { keys = append(keys, k) })
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		var key string
		switch kk := k.(type) {
		case lua.LString:
			key = string(kk)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kk), 'f', -1, 64)
		default:
			return nil, fmt.Errorf("script table has unsupported %s key", k.Type())
		}
		e, err := toGo(t.RawGet(k), depth+1)
		if err != nil {
			return nil, err
		}
		obj[key] = e
	}
	return obj, nil
}
