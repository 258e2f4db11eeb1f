package show

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleTimings = `
songs:
  spooky.mp3:
    - time: 12.5
      targets:
        porch: {preset: 2}
    - time: 0
      targets:
        trunk:   {preset: 1}
        outdoor: {scene: {on: true, bri: 200}}
  calm.wav:
    - time: 3.25
      targets:
        hallway: {scene: {on: false}}
`

func writeTimings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSchedule(t *testing.T) {
	topo := testTopology()
	s, err := LoadSchedule(writeTimings(t, sampleTimings), topo, nil)
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}

	if got := s.TrackIDs(); len(got) != 2 {
		t.Fatalf("tracks = %v, want 2", got)
	}

	tl, ok := s.Track("spooky.mp3")
	if !ok {
		t.Fatal("spooky.mp3 missing")
	}
	if tl.Len() != 2 {
		t.Fatalf("events = %d, want 2", tl.Len())
	}
	// events come out time-sorted regardless of file order
	if tl.At(0).Time != 0 || tl.At(1).Time != 12500*time.Millisecond {
		t.Errorf("event times = %v, %v; want 0 and 12.5s", tl.At(0).Time, tl.At(1).Time)
	}
	// the t=0 event carries both targets, group fan-out resolved
	first := tl.At(0)
	if len(first.Cues) != 2 {
		t.Fatalf("t=0 cues = %d, want 2", len(first.Cues))
	}
	for _, cue := range first.Cues {
		if cue.Target.Ref == "outdoor" && len(cue.Target.Controllers) < 2 {
			t.Errorf("group outdoor resolved to %d controllers", len(cue.Target.Controllers))
		}
	}

	calm, _ := s.Track("calm.wav")
	scene := calm.At(0).Cues[0].Action.Scene
	if scene == nil || scene.On == nil || *scene.On {
		t.Errorf("hallway scene = %+v, want on=false", scene)
	}
}

func TestLoadScheduleRejectsBadFiles(t *testing.T) {
	topo := testTopology()
	tests := []struct {
		name string
		body string
	}{
		{"no songs", "songs: {}\n"},
		{"missing time", "songs:\n  a.mp3:\n    - targets:\n        trunk: {preset: 1}\n"},
		{"negative time", "songs:\n  a.mp3:\n    - time: -1\n      targets:\n        trunk: {preset: 1}\n"},
		{"no targets", "songs:\n  a.mp3:\n    - time: 0\n"},
		{"unknown target", "songs:\n  a.mp3:\n    - time: 0\n      targets:\n        ghost: {preset: 1}\n"},
		{"both preset and scene", "songs:\n  a.mp3:\n    - time: 0\n      targets:\n        trunk: {preset: 1, scene: {on: true}}\n"},
		{"preset name without index", "songs:\n  a.mp3:\n    - time: 0\n      targets:\n        trunk: {preset_name: Chase}\n"},
		{"hue preset", "songs:\n  a.mp3:\n    - time: 0\n      targets:\n        hallway: {preset: 1}\n"},
		{"not yaml", "][\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSchedule(writeTimings(t, tt.body), topo, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
