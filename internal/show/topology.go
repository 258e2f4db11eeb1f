package show

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTarget is returned when a reference names neither a
	// controller nor a group.
	ErrUnknownTarget = errors.New("unknown target reference")

	// ErrEmptyGroup is returned when a group resolves to zero controllers.
	ErrEmptyGroup = errors.New("group resolves to no controllers")

	// ErrInvalidAction marks a malformed action definition.
	ErrInvalidAction = errors.New("invalid action")
)

// Topology maps controller IDs to controllers and group names to ordered
// member lists. It is read-only after Validate; resolution is a pure
// function of the topology and the reference.
type Topology struct {
	Controllers map[ControllerID]*Controller
	Groups      map[string][]ControllerID
}

// Validate checks internal consistency: every group member must name a
// defined controller, no group may be empty or shadow a controller ID, and
// every controller needs at least one endpoint. Fails closed on the first
// problem; a topology that passes cannot produce a resolution error later.
func (t *Topology) Validate() error {
	for id, ctrl := range t.Controllers {
		if len(ctrl.URLs) == 0 {
			return fmt.Errorf("controller %q has no endpoint URLs", id)
		}
		switch ctrl.Type {
		case ControllerTypeWLED:
		case ControllerTypeHue:
			if ctrl.Token == "" {
				return fmt.Errorf("hue controller %q requires a token", id)
			}
		default:
			return fmt.Errorf("controller %q has unknown type %q", id, ctrl.Type)
		}
	}
	for name, members := range t.Groups {
		if _, clash := t.Controllers[ControllerID(name)]; clash {
			return fmt.Errorf("group %q shadows a controller with the same name", name)
		}
		if len(members) == 0 {
			return fmt.Errorf("%w: %q", ErrEmptyGroup, name)
		}
		for _, member := range members {
			if _, ok := t.Controllers[member]; !ok {
				return fmt.Errorf("group %q references undefined controller %q", name, member)
			}
		}
	}
	return nil
}

// Resolve expands a target reference (controller ID or group name) into a
// flat, de-duplicated controller set. Declaration order is preserved for
// deterministic logging only.
func (t *Topology) Resolve(ref string) (ResolvedTarget, error) {
	if ctrl, ok := t.Controllers[ControllerID(ref)]; ok {
		return ResolvedTarget{Ref: ref, Controllers: []*Controller{ctrl}}, nil
	}
	members, ok := t.Groups[ref]
	if !ok {
		return ResolvedTarget{}, fmt.Errorf("%w: %q", ErrUnknownTarget, ref)
	}
	seen := make(map[ControllerID]struct{}, len(members))
	controllers := make([]*Controller, 0, len(members))
	for _, member := range members {
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		ctrl, defined := t.Controllers[member]
		if !defined {
			return ResolvedTarget{}, fmt.Errorf("group %q references undefined controller %q", ref, member)
		}
		controllers = append(controllers, ctrl)
	}
	if len(controllers) == 0 {
		return ResolvedTarget{}, fmt.Errorf("%w: %q", ErrEmptyGroup, ref)
	}
	return ResolvedTarget{Ref: ref, Controllers: controllers}, nil
}
