package workload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LoadScript runs a Lua script that returns the desired workloads as a
// table. The script can `require("installd")` for os, arch and log helpers.
//
//	local installd = require("installd")
//	return {
//	  { name = "tools", components = {
//	    { id = "mingw", desiredState = installd.os == "windows" and "installed" or "uninstalled" },
//	  } },
//	}
func LoadScript(ctx context.Context, path string, p Platform) ([]Workload, error) {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	L.PreloadModule("installd", moduleLoader(p))

	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("failed to run workload script %s: %w", path, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: script %s returned %s, want table", ErrInvalidWorkload, path, ret.Type())
	}

	// Round-trip through JSON so the script uses the same field names as
	// the HTTP API.
	data, err := json.Marshal(luaToGo(tbl))
	if err != nil {
		return nil, fmt.Errorf("failed to encode script result: %w", err)
	}
	var workloads []Workload
	if err := json.Unmarshal(data, &workloads); err != nil {
		return nil, fmt.Errorf("%w: script %s: %v", ErrInvalidWorkload, path, err)
	}

	if err := Validate(workloads); err != nil {
		return nil, err
	}
	log.Debug().Str("script", path).Int("workloads", len(workloads)).Msg("Loaded workloads from script")
	return workloads, nil
}

func moduleLoader(p Platform) lua.LGFunction {
	return func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetField(mod, "os", lua.LString(p.OS))
		L.SetField(mod, "arch", lua.LString(p.Arch))
		L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
			log.Info().Str("source", "lua").Msg(L.CheckString(1))
			return 0
		}))
		L.Push(mod)
		return 1
	}
}

// luaToGo converts a Lua value to a Go value. Tables whose keys are exactly
// 1..n become slices; any other table becomes a map keyed by string.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		n := 0
		dense := true
		val.ForEach(func(k, _ lua.LValue) {
			n++
			num, ok := k.(lua.LNumber)
			if !ok || float64(num) != float64(int64(num)) || num < 1 {
				dense = false
			}
		})
		// Keys are distinct, so n integer keys all within 1..n leave no gaps.
		if dense {
			val.ForEach(func(k, _ lua.LValue) {
				if int64(k.(lua.LNumber)) > int64(n) {
					dense = false
				}
			})
		}

		// An empty table decodes as an empty list.
		if dense {
			arr := make([]any, n)
			val.ForEach(func(k, v lua.LValue) {
				arr[int64(k.(lua.LNumber))-1] = luaToGo(v)
			})
			return arr
		}

		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}
