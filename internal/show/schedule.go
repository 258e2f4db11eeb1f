package show

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PresetResolver maps device-stored preset names to preset indices for a
// specific controller. Backed by the preset index cache; lookups happen at
// load time only.
type PresetResolver interface {
	PresetID(id ControllerID, name string) (int, bool)
}

// scheduleFile mirrors the timings YAML:
//
//	songs:
//	  spooky.mp3:
//	    - time: 0.0
//	      targets:
//	        trunk_master: {preset: 1}
//	        porch:        {scene: {on: true, bri: 200}}
type scheduleFile struct {
	Songs map[string][]scheduleEvent `yaml:"songs"`
}

type scheduleEvent struct {
	Time    *float64             `yaml:"time"`
	Targets map[string]actionDef `yaml:"targets"`
}

type actionDef struct {
	Preset     *int   `yaml:"preset"`
	PresetName string `yaml:"preset_name"`
	Scene      *Scene `yaml:"scene"`
}

// LoadSchedule reads and compiles a timings file against a validated
// topology. Every problem is a configuration error surfaced here, before
// any playback begins.
func LoadSchedule(path string, topo *Topology, presets PresetResolver) (*Show, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	if len(file.Songs) == 0 {
		return nil, fmt.Errorf("schedule %s defines no songs", path)
	}

	s := &Show{Tracks: make(map[string]*Timeline, len(file.Songs))}
	for track, rawEvents := range file.Songs {
		events := make([]Event, 0, len(rawEvents))
		for i, raw := range rawEvents {
			ev, err := compileEvent(topo, presets, raw)
			if err != nil {
				return nil, fmt.Errorf("track %q event #%d: %w", track, i, err)
			}
			events = append(events, ev)
		}
		s.Tracks[track] = NewTimeline(events)
	}
	return s, nil
}

func compileEvent(topo *Topology, presets PresetResolver, raw scheduleEvent) (Event, error) {
	if raw.Time == nil {
		return Event{}, fmt.Errorf("missing time")
	}
	if *raw.Time < 0 {
		return Event{}, fmt.Errorf("negative time %.3f", *raw.Time)
	}
	if len(raw.Targets) == 0 {
		return Event{}, fmt.Errorf("event at %.3fs has no targets", *raw.Time)
	}
	ev := Event{Time: Seconds(*raw.Time)}
	for ref, def := range raw.Targets {
		action := Action{Preset: def.Preset, PresetName: def.PresetName, Scene: def.Scene}
		cues, err := CompileCue(topo, presets, ref, action)
		if err != nil {
			return Event{}, err
		}
		ev.Cues = append(ev.Cues, cues...)
	}
	return ev, nil
}

// CompileCue resolves a target reference and validates its action. Actions
// referencing a preset by name are expanded to one cue per controller, each
// carrying the index that controller stores the preset under; a name missing
// from the preset index fails the load. Shared by the YAML loader and the
// Lua show builder.
func CompileCue(topo *Topology, presets PresetResolver, ref string, action Action) ([]Cue, error) {
	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("target %q: %w", ref, err)
	}
	target, err := topo.Resolve(ref)
	if err != nil {
		return nil, err
	}
	for _, ctrl := range target.Controllers {
		if ctrl.Type != ControllerTypeHue {
			continue
		}
		if action.Preset != nil || action.PresetName != "" {
			return nil, fmt.Errorf("target %q: hue controller %q cannot recall presets", ref, ctrl.ID)
		}
		if action.Scene != nil {
			if len(action.Scene.Segments) > 0 {
				return nil, fmt.Errorf("target %q: hue controller %q does not support segments", ref, ctrl.ID)
			}
			if action.Scene.On == nil {
				return nil, fmt.Errorf("target %q: scenes for hue controller %q must set 'on' explicitly", ref, ctrl.ID)
			}
		}
	}
	if action.PresetName == "" {
		return []Cue{{Target: target, Action: action}}, nil
	}

	// Preset indices are device-local: the same name may live in different
	// slots on different controllers, so the cue splits per controller.
	if presets == nil {
		return nil, fmt.Errorf("target %q: preset_name %q used but no preset index loaded (run 'presets fetch')", ref, action.PresetName)
	}
	cues := make([]Cue, 0, len(target.Controllers))
	for _, ctrl := range target.Controllers {
		idx, ok := presets.PresetID(ctrl.ID, action.PresetName)
		if !ok {
			return nil, fmt.Errorf("target %q: preset %q not found in index for controller %q", ref, action.PresetName, ctrl.ID)
		}
		cues = append(cues, Cue{
			Target: ResolvedTarget{Ref: ref, Controllers: []*Controller{ctrl}},
			Action: Action{Preset: &idx},
		})
	}
	return cues, nil
}
