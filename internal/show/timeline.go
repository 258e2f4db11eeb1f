package show

import (
	"sort"
	"time"
)

// Timeline is an immutable, time-ordered sequence of events for one track.
// Events at the same timestamp are all retained; the stable sort keeps their
// declaration order.
type Timeline struct {
	events []Event
}

// NewTimeline builds a timeline from an event list. The input slice is
// copied and stably sorted ascending by time.
func NewTimeline(events []Event) *Timeline {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})
	return &Timeline{events: sorted}
}

// Len returns the number of events.
func (tl *Timeline) Len() int {
	return len(tl.events)
}

// At returns the event at index i.
func (tl *Timeline) At(i int) Event {
	return tl.events[i]
}

// Events returns the underlying ordered slice. Callers must not mutate it.
func (tl *Timeline) Events() []Event {
	return tl.events
}

// Duration returns the timestamp of the last event, or zero for an empty
// timeline.
func (tl *Timeline) Duration() time.Duration {
	if len(tl.events) == 0 {
		return 0
	}
	return tl.events[len(tl.events)-1].Time
}

// EventsInRange returns all events with time in the half-open interval
// (from, to]. This is the tick primitive: sweeping a moving clock with
// consecutive calls yields every event exactly once, with no gaps, however
// unevenly the positions step.
func (tl *Timeline) EventsInRange(from, to time.Duration) []Event {
	lo := sort.Search(len(tl.events), func(i int) bool {
		return tl.events[i].Time > from
	})
	hi := sort.Search(len(tl.events), func(i int) bool {
		return tl.events[i].Time > to
	})
	if lo >= hi {
		return nil
	}
	return tl.events[lo:hi]
}

// LastAt returns the latest event with time <= at and its index. Used on
// discontinuities (seek, restart) to catch up to the current intended state
// without replaying every intermediate event. For several events sharing
// that timestamp the last declared one wins.
func (tl *Timeline) LastAt(at time.Duration) (Event, int, bool) {
	hi := sort.Search(len(tl.events), func(i int) bool {
		return tl.events[i].Time > at
	})
	if hi == 0 {
		return Event{}, -1, false
	}
	return tl.events[hi-1], hi - 1, true
}

// Show is a validated collection of timelines keyed by track ID. Built once
// at configuration load; immutable afterwards.
type Show struct {
	Tracks map[string]*Timeline
}

// Track returns the timeline for a track ID.
func (s *Show) Track(id string) (*Timeline, bool) {
	tl, ok := s.Tracks[id]
	return tl, ok
}

// TrackIDs returns all track IDs in sorted order.
func (s *Show) TrackIDs() []string {
	ids := make([]string, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
