// Package scheduler converts a moving, pausable, seekable playback clock
// into a stream of dispatched show commands.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/dispatch"
	"github.com/dokzlo13/wledsync/internal/show"
)

// Transport supplies playback position samples. Position is monotonic
// within a generation; the generation counter increments on every
// discontinuity (seek, restart, track change).
type Transport interface {
	Position() time.Duration
	Generation() uint64
	Playing() bool
}

// State of the scheduler.
type State int

const (
	// StateIdle means no track is loaded.
	StateIdle State = iota
	// StateArmed means a track is loaded and the cursor sits before the
	// first event, waiting for the clock to start moving.
	StateArmed
	// StateRunning means the scheduler is actively sweeping the clock.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// beforeStart is the cursor position before the first tick. It sits below
// zero so the half-open sweep (last, pos] includes events at t=0.
const beforeStart = time.Duration(-1)

// Scheduler owns the per-track schedule cursor and drives the dispatcher.
// Ticks are strictly serialized by the mutex; dispatch is fire-and-forget,
// so nothing on the tick path waits for the network.
type Scheduler struct {
	transport  Transport
	dispatcher dispatch.Dispatcher

	tickInterval time.Duration
	wake         chan struct{}

	// Schedule cursor. One tick at a time mutates it; the timeline itself
	// is immutable and needs no locking.
	mu         sync.Mutex
	state      State
	trackID    string
	timeline   *show.Timeline
	nextIndex  int
	lastPos    time.Duration
	generation uint64
}

// New creates a scheduler in the Idle state.
func New(transport Transport, dispatcher dispatch.Dispatcher, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}
	return &Scheduler{
		transport:    transport,
		dispatcher:   dispatcher,
		tickInterval: tickInterval,
		wake:         make(chan struct{}, 1),
		state:        StateIdle,
	}
}

// Load arms the scheduler for a track: cursor to index 0, current transport
// generation captured, nothing fired. Loading is idempotent; loading the
// same track twice just resets the cursor again.
func (s *Scheduler) Load(trackID string, timeline *show.Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateArmed
	s.trackID = trackID
	s.timeline = timeline
	s.nextIndex = 0
	s.lastPos = beforeStart
	s.generation = s.transport.Generation()

	log.Info().
		Str("track", trackID).
		Int("events", timeline.Len()).
		Uint64("generation", s.generation).
		Msg("Track loaded")
	s.notify()
}

// Unload returns the scheduler to Idle from any state.
func (s *Scheduler) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return
	}
	log.Info().Str("track", s.trackID).Msg("Track unloaded")
	s.state = StateIdle
	s.trackID = ""
	s.timeline = nil
	s.nextIndex = 0
	s.lastPos = beforeStart
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TrackID returns the loaded track, or "" when idle.
func (s *Scheduler) TrackID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackID
}

// NextIndex returns the cursor position (index of the next unfired event).
func (s *Scheduler) NextIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// notify wakes the run loop for an immediate tick.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run polls the transport at the tick cadence until the context is
// cancelled. The cadence bounds how late an event fires relative to its
// timestamp; it does not affect correctness of event selection.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("tick_interval", s.tickInterval).Msg("Scene scheduler started")

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scene scheduler stopping")
			return nil
		case <-s.wake:
			s.Tick(ctx)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick advances the cursor against the transport's current position and
// dispatches every event the clock has passed since the previous tick.
// Also safe to call from a push-based transport; concurrent ticks are
// serialized by the cursor lock.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || s.timeline == nil {
		return
	}

	gen := s.transport.Generation()
	pos := s.transport.Position()

	if gen < s.generation {
		// Stale sample racing a newer discontinuity; only the latest
		// generation's state is authoritative.
		log.Debug().Uint64("sample", gen).Uint64("current", s.generation).
			Msg("Discarding stale generation sample")
		return
	}
	if gen != s.generation {
		s.catchUp(ctx, gen, pos, "generation change")
		return
	}

	if s.state == StateArmed {
		if pos > 0 {
			// Track loaded while the clock already sits mid-track: catch
			// up to the intended state instead of replaying the prefix.
			s.catchUp(ctx, gen, pos, "loaded mid-track")
			return
		}
		if !s.transport.Playing() {
			return
		}
		s.state = StateRunning
	}

	if pos == s.lastPos {
		// Paused, or the clock simply has not advanced between ticks.
		return
	}
	if pos < s.lastPos {
		// Backward movement without a generation bump violates the
		// transport contract; recover as a discontinuity.
		s.catchUp(ctx, gen, pos, "backward position")
		return
	}

	// All events in (lastPos, pos], in ascending time order. The half-open
	// interval guarantees exactly-once firing as the clock sweeps forward,
	// even when one tick jumps over several events.
	events := s.timeline.EventsInRange(s.lastPos, pos)
	for _, ev := range events {
		log.Debug().
			Str("track", s.trackID).
			Float64("event_time", ev.Time.Seconds()).
			Float64("position", pos.Seconds()).
			Int("cues", len(ev.Cues)).
			Msg("Firing event")
		for _, cue := range ev.Cues {
			s.dispatcher.Dispatch(ctx, ev.Time, cue)
		}
	}
	if len(events) > 0 {
		_, idx, _ := s.timeline.LastAt(pos)
		s.nextIndex = idx + 1
	}
	s.lastPos = pos
}

// catchUp handles a discontinuity: skipped intermediate events are never
// replayed, only the latest state-defining events at or before the new
// position fire (the full tie batch at that timestamp, so no target of the
// batch is left stale). The cursor then continues from there.
func (s *Scheduler) catchUp(ctx context.Context, gen uint64, pos time.Duration, reason string) {
	log.Info().
		Str("track", s.trackID).
		Str("reason", reason).
		Uint64("generation", gen).
		Float64("position", pos.Seconds()).
		Msg("Playback discontinuity, catching up")

	ev, idx, ok := s.timeline.LastAt(pos)
	if !ok {
		// Seek landed before the first event: everything ahead counts as
		// not yet fired again.
		s.nextIndex = 0
	} else {
		first := idx
		for first > 0 && s.timeline.At(first-1).Time == ev.Time {
			first--
		}
		for i := first; i <= idx; i++ {
			batch := s.timeline.At(i)
			for _, cue := range batch.Cues {
				s.dispatcher.Dispatch(ctx, batch.Time, cue)
			}
		}
		s.nextIndex = idx + 1
	}

	s.generation = gen
	s.lastPos = pos
	if s.state == StateArmed {
		s.state = StateRunning
	}
}
