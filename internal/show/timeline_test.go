package show

import (
	"testing"
	"time"
)

func intPtr(v int) *int {
	return &v
}

func eventAt(seconds float64, ref string) Event {
	return Event{
		Time: Seconds(seconds),
		Cues: []Cue{{
			Target: ResolvedTarget{Ref: ref},
			Action: Action{Preset: intPtr(1)},
		}},
	}
}

func TestTimeline_SortsAscending(t *testing.T) {
	tl := NewTimeline([]Event{
		eventAt(10, "c"),
		eventAt(0, "a"),
		eventAt(5, "b"),
	})

	var prev time.Duration = -1
	for i := 0; i < tl.Len(); i++ {
		if tl.At(i).Time < prev {
			t.Fatalf("events not sorted: index %d has time %v after %v", i, tl.At(i).Time, prev)
		}
		prev = tl.At(i).Time
	}
}

func TestTimeline_StableSortKeepsDeclarationOrderForTies(t *testing.T) {
	tl := NewTimeline([]Event{
		eventAt(3, "first"),
		eventAt(3, "second"),
		eventAt(1, "before"),
	})

	if tl.At(1).Cues[0].Target.Ref != "first" || tl.At(2).Cues[0].Target.Ref != "second" {
		t.Errorf("tied events reordered: got %q then %q",
			tl.At(1).Cues[0].Target.Ref, tl.At(2).Cues[0].Target.Ref)
	}
}

func TestTimeline_EventsInRange(t *testing.T) {
	tl := NewTimeline([]Event{
		eventAt(0, "a"),
		eventAt(5, "b"),
		eventAt(5, "b2"),
		eventAt(10, "c"),
	})

	tests := []struct {
		name string
		from float64
		to   float64
		want []string
	}{
		{"everything", -1, 100, []string{"a", "b", "b2", "c"}},
		{"from_is_exclusive", 0, 5, []string{"b", "b2"}},
		{"to_is_inclusive", 4, 5, []string{"b", "b2"}},
		{"empty_interior", 6, 9, nil},
		{"zero_width", 5, 5, nil},
		{"includes_time_zero", -0.001, 0, []string{"a"}},
		{"tail", 5, 20, []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tl.EventsInRange(Seconds(tt.from), Seconds(tt.to))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, ev := range got {
				if ev.Cues[0].Target.Ref != tt.want[i] {
					t.Errorf("event %d: got %q, want %q", i, ev.Cues[0].Target.Ref, tt.want[i])
				}
			}
		})
	}
}

func TestTimeline_SweepCoversEveryEventExactlyOnce(t *testing.T) {
	// Consecutive half-open sweeps must partition the timeline: no event
	// fires twice, none is skipped, regardless of how unevenly the clock steps.
	tl := NewTimeline([]Event{
		eventAt(0, "e0"),
		eventAt(1.5, "e1"),
		eventAt(1.5, "e2"),
		eventAt(3, "e3"),
		eventAt(7, "e4"),
		eventAt(7.25, "e5"),
	})

	positions := []float64{0, 0.5, 1.5, 1.5, 2, 6.9, 8}
	fired := make(map[string]int)
	last := Seconds(-1)
	for _, p := range positions {
		pos := Seconds(p)
		for _, ev := range tl.EventsInRange(last, pos) {
			fired[ev.Cues[0].Target.Ref]++
		}
		last = pos
	}

	if len(fired) != tl.Len() {
		t.Fatalf("fired %d distinct events, want %d: %v", len(fired), tl.Len(), fired)
	}
	for ref, count := range fired {
		if count != 1 {
			t.Errorf("event %q fired %d times, want 1", ref, count)
		}
	}
}

func TestTimeline_LastAt(t *testing.T) {
	tl := NewTimeline([]Event{
		eventAt(0, "a"),
		eventAt(5, "b"),
		eventAt(10, "c"),
	})

	tests := []struct {
		name    string
		at      float64
		wantRef string
		wantIdx int
		wantOK  bool
	}{
		{"before_first", -0.5, "", -1, false},
		{"exactly_first", 0, "a", 0, true},
		{"between", 7, "b", 1, true},
		{"exactly_last", 10, "c", 2, true},
		{"past_end", 99, "c", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, idx, ok := tl.LastAt(Seconds(tt.at))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if idx != tt.wantIdx {
				t.Errorf("idx = %d, want %d", idx, tt.wantIdx)
			}
			if ok && ev.Cues[0].Target.Ref != tt.wantRef {
				t.Errorf("ref = %q, want %q", ev.Cues[0].Target.Ref, tt.wantRef)
			}
		})
	}
}

func TestTimeline_LastAtPrefersLastDeclaredOnTie(t *testing.T) {
	tl := NewTimeline([]Event{
		eventAt(5, "first"),
		eventAt(5, "second"),
	})

	ev, _, ok := tl.LastAt(Seconds(5))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Cues[0].Target.Ref != "second" {
		t.Errorf("got %q, want the last declared event at the tied timestamp", ev.Cues[0].Target.Ref)
	}
}

func TestTimeline_Empty(t *testing.T) {
	tl := NewTimeline(nil)
	if got := tl.EventsInRange(Seconds(0), Seconds(100)); got != nil {
		t.Errorf("expected no events, got %v", got)
	}
	if _, _, ok := tl.LastAt(Seconds(100)); ok {
		t.Error("LastAt on empty timeline should report no event")
	}
	if tl.Duration() != 0 {
		t.Errorf("Duration = %v, want 0", tl.Duration())
	}
}
