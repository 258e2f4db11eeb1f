package player

import (
	"sync"
	"time"
)

// ManualClock is a transport backed by the wall clock instead of an audio
// stream. Used for silent dry-runs and tests: same interface, same
// generation semantics, no speaker.
type ManualClock struct {
	mu      sync.Mutex
	offset  time.Duration
	started time.Time
	playing bool
	gen     uint64
}

// NewManualClock creates a stopped clock at position zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Position reports the simulated playback offset.
func (c *ManualClock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *ManualClock) positionLocked() time.Duration {
	if !c.playing {
		return c.offset
	}
	return c.offset + time.Since(c.started)
}

// Generation reports the discontinuity counter.
func (c *ManualClock) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Playing reports whether the clock is advancing.
func (c *ManualClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Play starts (or resumes) the clock. Starting a run counts as a
// discontinuity only when Restart or SeekTo are used; plain resume is not.
func (c *ManualClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return
	}
	c.started = time.Now()
	c.playing = true
}

// TogglePause freezes or resumes the clock. Not a discontinuity.
func (c *ManualClock) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.offset = c.offset + time.Since(c.started)
		c.playing = false
	} else {
		c.started = time.Now()
		c.playing = true
	}
	return !c.playing
}

// SeekTo jumps the clock to an absolute position and bumps the generation.
func (c *ManualClock) SeekTo(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	c.offset = pos
	c.started = time.Now()
	c.gen++
	return nil
}

// SeekBy jumps the clock relative to the current position.
func (c *ManualClock) SeekBy(delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.positionLocked() + delta
	if pos < 0 {
		pos = 0
	}
	c.offset = pos
	c.started = time.Now()
	c.gen++
	return nil
}

// Restart rewinds to zero, resumes, and bumps the generation.
func (c *ManualClock) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
	c.started = time.Now()
	c.playing = true
	c.gen++
	return nil
}
