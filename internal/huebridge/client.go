// Package huebridge drives Philips Hue groups as show controllers.
package huebridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amimof/huego"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Client applies show actions to Hue bridges. Only scene actions are
// supported; preset recalls are rejected at schedule load time, so Apply
// never sees one.
type Client struct {
	timeout time.Duration

	mu     sync.Mutex
	groups map[string]int // "host/groupName" -> bridge group ID
}

// NewClient creates a Hue backend client.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		timeout: timeout,
		groups:  make(map[string]int),
	}
}

// Apply sends a scene patch to the controller's configured group on the
// bridge at host. The group name is resolved to a bridge group ID once and
// cached for the rest of the show.
func (c *Client) Apply(ctx context.Context, host string, ctrl *show.Controller, action show.Action) error {
	if action.Scene == nil {
		return fmt.Errorf("action %s not executable against hue bridge", action)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bridge := &huego.Bridge{Host: host, User: ctrl.Token}

	groupID, err := c.resolveGroup(ctx, bridge, host, ctrl.HueGroup)
	if err != nil {
		return err
	}

	state := sceneToState(action.Scene)
	if _, err := bridge.SetGroupStateContext(ctx, groupID, state); err != nil {
		return fmt.Errorf("set group %d state: %w", groupID, err)
	}
	return nil
}

func (c *Client) resolveGroup(ctx context.Context, bridge *huego.Bridge, host, name string) (int, error) {
	// Group 0 is the bridge-defined "all lights" group.
	if name == "" {
		return 0, nil
	}

	key := host + "/" + name
	c.mu.Lock()
	id, ok := c.groups[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	groups, err := bridge.GetGroupsContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		if g.Name == name {
			c.mu.Lock()
			c.groups[key] = g.ID
			c.mu.Unlock()
			return g.ID, nil
		}
	}
	return 0, fmt.Errorf("hue group %q not found on bridge %s", name, host)
}

// sceneToState maps the sparse show scene onto a Hue group state. Segment
// fields have no Hue counterpart and are rejected at load time, and load
// validation guarantees On is set, so the mandatory huego.State.On field is
// never sent unintentionally.
func sceneToState(scene *show.Scene) huego.State {
	state := huego.State{}
	if scene.On != nil {
		state.On = *scene.On
	}
	if scene.Bri != nil {
		state.Bri = *scene.Bri
	}
	if scene.Transition != nil {
		state.TransitionTime = uint16(*scene.Transition)
	}
	return state
}
