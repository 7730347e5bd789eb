// Package scripting embeds a Lua interpreter for the evolvable layer
// tick rules: Go owns the world state, scripts own the policy.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Single-goroutine access only:
// each layer actor owns a private engine built from its own factory
// call, so a crashed actor gets a fresh VM on restart.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all .lua files from the
// given directory. A missing directory yields an engine with no hooks.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log.Named("lua")}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load layer scripts: %w", err)
	}
	return e, nil
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// HasHook reports whether the scripts define a global function with
// this name.
func (e *Engine) HasHook(name string) bool {
	return e.vm.GetGlobal(name).Type() == lua.LTFunction
}

// TickEntity is one layer entity summary handed to a tick hook.
type TickEntity struct {
	ID         string
	Type       string
	X          int
	Y          int
	Active     bool
	Properties map[string]any
}

// TickContext holds pre-packed data for one layer tick hook call.
type TickContext struct {
	Zone       string
	Layer      string
	TickNumber uint64
	Source     string
	Width      int
	Height     int
	Metadata   map[string]any
	Entities   []TickEntity
}

// Command is one mutation a hook hands back. Op selects the fields
// that matter: set_tile uses X/Y/Glyph, set_property uses
// EntityID/Key/Value, deactivate uses EntityID.
type Command struct {
	Op       string
	X        int
	Y        int
	Glyph    string
	EntityID string
	Key      string
	Value    any
}

// RunLayerTick calls the named hook with a context table and decodes
// the returned command list. A hook returning nil means no changes.
func (e *Engine) RunLayerTick(hook string, tc TickContext) ([]Command, error) {
	fn := e.vm.GetGlobal(hook)
	if fn == lua.LNil {
		return nil, fmt.Errorf("lua function %s not found", hook)
	}

	// Build context table
	t := e.vm.NewTable()
	t.RawSetString("zone", lua.LString(tc.Zone))
	t.RawSetString("layer", lua.LString(tc.Layer))
	t.RawSetString("tick_number", lua.LNumber(tc.TickNumber))
	t.RawSetString("source", lua.LString(tc.Source))
	t.RawSetString("width", lua.LNumber(tc.Width))
	t.RawSetString("height", lua.LNumber(tc.Height))
	t.RawSetString("metadata", goToLua(e.vm, tc.Metadata))

	ents := e.vm.NewTable()
	for _, en := range tc.Entities {
		et := e.vm.NewTable()
		et.RawSetString("id", lua.LString(en.ID))
		et.RawSetString("type", lua.LString(en.Type))
		et.RawSetString("x", lua.LNumber(en.X))
		et.RawSetString("y", lua.LNumber(en.Y))
		et.RawSetString("active", lua.LBool(en.Active))
		et.RawSetString("properties", goToLua(e.vm, en.Properties))
		ents.Append(et)
	}
	t.RawSetString("entities", ents)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return nil, fmt.Errorf("lua %s: %w", hook, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if result == lua.LNil {
		return nil, nil
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua %s returned %s, want table", hook, result.Type())
	}

	var cmds []Command
	rt.ForEach(func(_, v lua.LValue) {
		ct, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		cmds = append(cmds, Command{
			Op:       lua.LVAsString(ct.RawGetString("op")),
			X:        int(lua.LVAsNumber(ct.RawGetString("x"))),
			Y:        int(lua.LVAsNumber(ct.RawGetString("y"))),
			Glyph:    lua.LVAsString(ct.RawGetString("glyph")),
			EntityID: lua.LVAsString(ct.RawGetString("entity_id")),
			Key:      lua.LVAsString(ct.RawGetString("key")),
			Value:    luaToGo(ct.RawGetString("value")),
		})
	})
	return cmds, nil
}

// goToLua converts plain Go values (the yaml/json subset) to Lua.
func goToLua(vm *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case map[string]any:
		t := vm.NewTable()
		for k, item := range val {
			t.RawSetString(k, goToLua(vm, item))
		}
		return t
	case []any:
		t := vm.NewTable()
		for _, item := range val {
			t.Append(goToLua(vm, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// luaToGo converts a Lua value back to the plain Go subset.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// Array part wins when present, else a string map.
		if val.Len() > 0 {
			out := make([]any, 0, val.Len())
			for i := 1; i <= val.Len(); i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[lua.LVAsString(k)] = luaToGo(item)
		})
		return out
	default:
		return nil
	}
}
