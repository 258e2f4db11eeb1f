// Package luashow builds shows from a Lua script instead of a timings file.
// The script declares tracks and cue times; compilation goes through the
// same topology resolution and validation as the YAML loader, so a script
// referencing an unknown target or preset name fails at load time.
package luashow

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Module provides the "show" Lua module.
//
// Script API:
//
//	local show = require("show")
//	show.track("song.mp3", function(t)
//	    t:at(0, "all", show.preset(1))
//	    t:at(12.5, "trunk", show.scene{ on = true, bri = 128 })
//	    t:at(20, "porch", show.preset_name("Chase"))
//	end)
//
// ERROR HANDLING CONVENTION:
//   - track(), at(): setup failures raise a Lua error; the script is
//     declarative and a bad cue means the whole show is unusable.
type Module struct {
	topo    *show.Topology
	presets show.PresetResolver

	tracks map[string][]show.Event
	order  []string
}

// NewModule creates a show module bound to one topology.
func NewModule(topo *show.Topology, presets show.PresetResolver) *Module {
	return &Module{
		topo:    topo,
		presets: presets,
		tracks:  make(map[string][]show.Event),
	}
}

// Loader is the module loader for Lua
func (m *Module) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "track", L.NewFunction(m.track))
	L.SetField(mod, "preset", L.NewFunction(m.preset))
	L.SetField(mod, "preset_name", L.NewFunction(m.presetName))
	L.SetField(mod, "scene", L.NewFunction(m.scene))

	L.Push(mod)
	return 1
}

const actionKindKey = "__action"

// preset(n) - reference a device preset by slot number
func (m *Module) preset(L *lua.LState) int {
	slot := L.CheckInt(1)
	if slot < 0 {
		L.RaiseError("preset slot must be >= 0, got %d", slot)
		return 0
	}
	tbl := L.NewTable()
	L.SetField(tbl, actionKindKey, lua.LString("preset"))
	L.SetField(tbl, "slot", lua.LNumber(slot))
	L.Push(tbl)
	return 1
}

// preset_name(name) - reference a device preset by its stored name
func (m *Module) presetName(L *lua.LState) int {
	name := L.CheckString(1)
	tbl := L.NewTable()
	L.SetField(tbl, actionKindKey, lua.LString("preset_name"))
	L.SetField(tbl, "name", lua.LString(name))
	L.Push(tbl)
	return 1
}

// scene(tbl) - an inline state patch (on/bri/transition/seg)
func (m *Module) scene(L *lua.LState) int {
	spec := L.CheckTable(1)
	tbl := L.NewTable()
	L.SetField(tbl, actionKindKey, lua.LString("scene"))
	L.SetField(tbl, "spec", spec)
	L.Push(tbl)
	return 1
}

// track(name, fn) - declare a track and populate it through the builder
func (m *Module) track(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	if _, exists := m.tracks[name]; exists {
		L.RaiseError("track %q declared twice", name)
		return 0
	}
	m.tracks[name] = nil
	m.order = append(m.order, name)

	builder := L.NewTable()
	L.SetField(builder, "at", L.NewFunction(m.atFunc(name)))

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, builder); err != nil {
		L.RaiseError("track %q: %s", name, err.Error())
	}
	return 0
}

// t:at(time, target, action) - place a cue on the track
func (m *Module) atFunc(track string) lua.LGFunction {
	return func(L *lua.LState) int {
		// arg 1 is the builder table (method call)
		at := float64(L.CheckNumber(2))
		target := L.CheckString(3)
		actionTbl := L.CheckTable(4)

		if at < 0 {
			L.RaiseError("track %q: cue time must be >= 0, got %v", track, at)
			return 0
		}

		action, err := m.parseAction(actionTbl)
		if err != nil {
			L.RaiseError("track %q at %vs: %s", track, at, err.Error())
			return 0
		}

		cues, err := show.CompileCue(m.topo, m.presets, target, action)
		if err != nil {
			L.RaiseError("track %q at %vs: %s", track, at, err.Error())
			return 0
		}

		m.tracks[track] = append(m.tracks[track], show.Event{
			Time: show.Seconds(at),
			Cues: cues,
		})
		return 0
	}
}

func (m *Module) parseAction(tbl *lua.LTable) (show.Action, error) {
	kind := tbl.RawGetString(actionKindKey)
	if kind == lua.LNil {
		return show.Action{}, fmt.Errorf("action must be built with show.preset, show.preset_name or show.scene")
	}

	switch kind.String() {
	case "preset":
		slot := int(lua.LVAsNumber(tbl.RawGetString("slot")))
		return show.Action{Preset: &slot}, nil
	case "preset_name":
		return show.Action{PresetName: tbl.RawGetString("name").String()}, nil
	case "scene":
		spec, ok := tbl.RawGetString("spec").(*lua.LTable)
		if !ok {
			return show.Action{}, fmt.Errorf("scene spec missing")
		}
		scene, err := luaToScene(spec)
		if err != nil {
			return show.Action{}, err
		}
		return show.Action{Scene: scene}, nil
	default:
		return show.Action{}, fmt.Errorf("unknown action kind %q", kind.String())
	}
}

// luaToScene converts a Lua table to a Scene by round-tripping through JSON.
// The Scene field tags already speak the device dialect, so this keeps the
// Lua keys identical to the YAML and wire keys.
func luaToScene(tbl *lua.LTable) (*show.Scene, error) {
	raw, err := json.Marshal(luaToGo(tbl))
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	var scene show.Scene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &scene, nil
}

// Build assembles the declared tracks into a Show. Tracks keep the order and
// tie semantics of the YAML loader: cues placed at the same time all fire.
func (m *Module) Build() (*show.Show, error) {
	if len(m.tracks) == 0 {
		return nil, fmt.Errorf("script declared no tracks")
	}
	s := &show.Show{Tracks: make(map[string]*show.Timeline, len(m.tracks))}
	for _, name := range m.order {
		events := m.tracks[name]
		if len(events) == 0 {
			return nil, fmt.Errorf("track %q has no cues", name)
		}
		s.Tracks[name] = show.NewTimeline(events)
	}
	return s, nil
}

// Load executes a show script and returns the compiled show. The Lua state
// lives only for the duration of the call; scripts are build-time
// declarations, not a runtime extension point.
func Load(path string, topo *show.Topology, presets show.PresetResolver) (*show.Show, error) {
	L := lua.NewState()
	defer L.Close()

	m := NewModule(topo, presets)
	L.PreloadModule("show", m.Loader)
	L.PreloadModule("log", logLoader)

	log.Info().Str("path", path).Msg("Loading show script")
	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("show script: %w", err)
	}

	built, err := m.Build()
	if err != nil {
		return nil, fmt.Errorf("show script %s: %w", path, err)
	}
	log.Info().Int("tracks", len(built.Tracks)).Msg("Show script loaded")
	return built, nil
}

// luaToGo converts a Lua value to a Go value
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok {
				if idx := int(num); idx > maxIdx {
					maxIdx = idx
				}
			} else {
				isArray = false
			}
		})

		if isArray && maxIdx > 0 {
			arr := make([]interface{}, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				if num, ok := k.(lua.LNumber); ok {
					arr[int(num)-1] = luaToGo(v)
				}
			})
			return arr
		}

		obj := make(map[string]interface{})
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
