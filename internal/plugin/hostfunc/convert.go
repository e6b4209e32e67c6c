package hostfunc

import lua "github.com/yuin/gopher-lua"

// LuaValueToGo converts a Lua value to a plain Go value. Tables become
// []any when array-shaped and map[string]any otherwise.
func LuaValueToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if isArray(val) {
			return luaTableToSlice(val)
		}
		return LuaTableToMap(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// LuaTableToMap converts a Lua table to a Go map[string]any.
func LuaTableToMap(tbl *lua.LTable) map[string]any {
	result := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		result[k.String()] = LuaValueToGo(v)
	})
	return result
}

// isArray reports whether a Lua table is array-shaped (sequential integer
// keys starting from 1, no other keys). An empty table counts as an array.
// A table mixing an array part with string keys converts as a map so no
// entry is dropped.
func isArray(tbl *lua.LTable) bool {
	count := 0
	mixed := false
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		if _, ok := k.(lua.LNumber); !ok {
			mixed = true
		}
	})
	return count == 0 || (!mixed && count == tbl.MaxN())
}

func luaTableToSlice(tbl *lua.LTable) []any {
	var result []any
	tbl.ForEach(func(k, v lua.LValue) {
		if _, ok := k.(lua.LNumber); ok {
			result = append(result, LuaValueToGo(v))
		}
	})
	return result
}

// GoValueToLua converts a plain Go value to its Lua representation.
// Unsupported types become nil.
func GoValueToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, GoValueToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, GoValueToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
