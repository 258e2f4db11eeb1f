// Package player provides the playback transports the scheduler tracks:
// a beep-backed audio player and a wall-clock stand-in for silent runs.
package player

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/rs/zerolog/log"
)

// Player plays one audio track at a time and exposes the playback clock.
// Every discontinuity (seek, restart, track change) bumps the generation
// counter so the scheduler can tell a jump from normal forward progress.
type Player struct {
	buffer time.Duration

	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	track    string
	gen      uint64

	// Set from beep's end-of-stream callback, which runs under the speaker
	// lock. Atomic, not p.mu, to keep the lock order one-way.
	finished atomic.Bool
}

// NewPlayer creates a player. buffer sets the speaker buffer length; larger
// values survive scheduling hiccups, smaller values reduce latency between
// the reported position and audible sound.
func NewPlayer(buffer time.Duration) *Player {
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	return &Player{buffer: buffer}
}

func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return stream, format, nil
	case ".wav":
		stream, format, err := wav.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return stream, format, nil
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}

// Play loads and starts a track, replacing whatever was playing before.
// A track change is a discontinuity.
func (p *Player) Play(path string) error {
	stream, format, err := decode(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer != nil {
		speaker.Clear()
		p.streamer.Close()
	}

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(p.buffer)); err != nil {
		stream.Close()
		return fmt.Errorf("init speaker: %w", err)
	}

	p.streamer = stream
	p.format = format
	p.track = path
	p.finished.Store(false)
	p.gen++

	p.ctrl = &beep.Ctrl{Streamer: beep.Seq(stream, beep.Callback(func() {
		p.finished.Store(true)
	}))}
	speaker.Play(p.ctrl)

	log.Info().
		Str("track", path).
		Float64("duration", format.SampleRate.D(stream.Len()).Seconds()).
		Msg("Playback started")
	return nil
}

// Position reports the playback offset of the current track.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos)
}

// Generation reports the discontinuity counter.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Playing reports whether the clock is advancing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil || p.ctrl == nil || p.finished.Load() {
		return false
	}
	speaker.Lock()
	paused := p.ctrl.Paused
	speaker.Unlock()
	return !paused
}

// Finished reports whether the current track ran to its end.
func (p *Player) Finished() bool {
	return p.finished.Load()
}

// TogglePause flips between paused and playing. Pausing is not a
// discontinuity: the position simply stops moving.
func (p *Player) TogglePause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl == nil {
		return false
	}
	speaker.Lock()
	p.ctrl.Paused = !p.ctrl.Paused
	paused := p.ctrl.Paused
	speaker.Unlock()
	log.Info().Bool("paused", paused).Msg("Playback pause toggled")
	return paused
}

// SeekBy jumps the clock by delta (negative seeks backwards), clamped to
// the track bounds.
func (p *Player) SeekBy(delta time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return fmt.Errorf("no track loaded")
	}
	speaker.Lock()
	current := p.format.SampleRate.D(p.streamer.Position())
	speaker.Unlock()
	return p.seekToLocked(current + delta)
}

// SeekTo jumps the clock to an absolute position.
func (p *Player) SeekTo(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return fmt.Errorf("no track loaded")
	}
	return p.seekToLocked(pos)
}

// Restart rewinds to the beginning and resumes.
func (p *Player) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return fmt.Errorf("no track loaded")
	}
	if err := p.seekToLocked(0); err != nil {
		return err
	}
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// seekToLocked performs the clamped seek and bumps the generation.
// Caller holds p.mu.
func (p *Player) seekToLocked(pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	sample := p.format.SampleRate.N(pos)
	speaker.Lock()
	if max := p.streamer.Len() - 1; sample > max {
		sample = max
	}
	err := p.streamer.Seek(sample)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	p.finished.Store(false)
	p.gen++
	log.Info().Float64("position", p.format.SampleRate.D(sample).Seconds()).Uint64("generation", p.gen).Msg("Playback seek")
	return nil
}

// Stop halts playback and unloads the track.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return
	}
	speaker.Clear()
	p.streamer.Close()
	p.streamer = nil
	p.ctrl = nil
	p.track = ""
	p.gen++
}

// Track returns the path of the loaded track, or "".
func (p *Player) Track() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}
