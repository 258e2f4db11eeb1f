// Package show holds the domain model for a light show: controller topology,
// scheduled events and the per-track timeline the scheduler sweeps over.
package show

import (
	"fmt"
	"time"
)

// ControllerID identifies a single controller within a topology.
type ControllerID string

// ControllerType selects the client used to talk to a controller.
type ControllerType string

const (
	ControllerTypeWLED ControllerType = "wled"
	ControllerTypeHue  ControllerType = "hue"
)

// Controller is one addressable lighting device. A controller may be
// reachable via several redundant URLs; any one of them satisfies a command.
type Controller struct {
	ID          ControllerID
	Type        ControllerType
	URLs        []string
	Token       string // hue only: bridge application key
	HueGroup    string // hue only: group name on the bridge
	Description string
}

// ResolvedTarget is a command addressee expanded to concrete controllers.
// Controllers are de-duplicated; declaration order is kept only so logs are
// deterministic, delivery itself is unordered.
type ResolvedTarget struct {
	Ref         string
	Controllers []*Controller
}

// Scene is a sparse light-state patch. Nil fields are left untouched on the
// device. Field names follow the WLED JSON state API.
type Scene struct {
	On         *bool     `yaml:"on,omitempty" json:"on,omitempty"`
	Bri        *uint8    `yaml:"bri,omitempty" json:"bri,omitempty"`
	Transition *int      `yaml:"transition,omitempty" json:"transition,omitempty"`
	Segments   []Segment `yaml:"seg,omitempty" json:"seg,omitempty"`
}

// Segment is a sparse per-segment patch within a Scene.
type Segment struct {
	ID        *int     `yaml:"id,omitempty" json:"id,omitempty"`
	Effect    *int     `yaml:"fx,omitempty" json:"fx,omitempty"`
	Speed     *uint8   `yaml:"sx,omitempty" json:"sx,omitempty"`
	Intensity *uint8   `yaml:"ix,omitempty" json:"ix,omitempty"`
	Palette   *int     `yaml:"pal,omitempty" json:"pal,omitempty"`
	Colors    [][]int  `yaml:"col,omitempty" json:"col,omitempty"`
	Reverse   *bool    `yaml:"rev,omitempty" json:"rev,omitempty"`
	Frozen    *bool    `yaml:"frz,omitempty" json:"frz,omitempty"`
	Grouping  *int     `yaml:"grp,omitempty" json:"grp,omitempty"`
	Names     []string `yaml:"-" json:"-"`
}

// IsEmpty reports whether the scene patches nothing.
func (s *Scene) IsEmpty() bool {
	return s.On == nil && s.Bri == nil && s.Transition == nil && len(s.Segments) == 0
}

// Action is a single command applied to every controller of a target.
// Exactly one of Preset or Scene is set after load-time validation;
// PresetName references are resolved to indices before a show starts.
type Action struct {
	Preset     *int
	PresetName string
	Scene      *Scene
}

// Validate checks that the action is well-formed. Called at load time;
// a malformed action is a configuration error, never a mid-show surprise.
func (a Action) Validate() error {
	set := 0
	if a.Preset != nil {
		if *a.Preset < 0 {
			return fmt.Errorf("%w: preset index %d is negative", ErrInvalidAction, *a.Preset)
		}
		set++
	}
	if a.PresetName != "" {
		set++
	}
	if a.Scene != nil {
		if a.Scene.IsEmpty() {
			return fmt.Errorf("%w: scene patches no fields", ErrInvalidAction)
		}
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of preset, preset_name or scene must be set", ErrInvalidAction)
	}
	return nil
}

// String renders the action for log records.
func (a Action) String() string {
	switch {
	case a.Preset != nil:
		return fmt.Sprintf("preset:%d", *a.Preset)
	case a.PresetName != "":
		return fmt.Sprintf("preset_name:%s", a.PresetName)
	case a.Scene != nil:
		return "scene"
	default:
		return "none"
	}
}

// Cue binds one resolved target to one action within an event.
type Cue struct {
	Target ResolvedTarget
	Action Action
}

// Event is a single timepoint in a track. All cues of an event fire in the
// same tick; cue order within an event carries no delivery guarantee.
type Event struct {
	Time time.Duration
	Cues []Cue
}

// Seconds converts a schedule timestamp in fractional seconds to the
// internal representation.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
