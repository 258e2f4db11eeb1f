package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/config"
	"github.com/dokzlo13/wledsync/internal/dispatch"
	"github.com/dokzlo13/wledsync/internal/huebridge"
	"github.com/dokzlo13/wledsync/internal/luashow"
	"github.com/dokzlo13/wledsync/internal/player"
	"github.com/dokzlo13/wledsync/internal/presets"
	"github.com/dokzlo13/wledsync/internal/scheduler"
	"github.com/dokzlo13/wledsync/internal/show"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// Transport is the playback surface the interactive commands drive. Both the
// audio player and the silent dry-run clock satisfy it.
type Transport interface {
	scheduler.Transport
	TogglePause() bool
	SeekBy(delta time.Duration) error
	SeekTo(pos time.Duration) error
	Restart() error
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Topology *show.Topology
	Presets  *presets.Index
	WLED     *wled.Client
	Hue      *huebridge.Client

	// Compiled show and the engine that runs it
	Show       *show.Show
	Dispatcher dispatch.Dispatcher
	Scheduler  *scheduler.Scheduler
	Transport  Transport

	audio *player.Player // nil in dry-run mode
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, dryRun bool) (*Services, error) {
	s := &Services{cfg: cfg}

	topo, err := cfg.Topology()
	if err != nil {
		return nil, err
	}
	s.Topology = topo

	idx, err := presets.Open(cfg.Presets.Path)
	if err != nil {
		return nil, err
	}
	s.Presets = idx

	s.WLED = wled.NewClient(cfg.Dispatch.HTTPTimeout.Duration(), cfg.Dispatch.ConnectTimeout.Duration())
	s.Hue = huebridge.NewClient(cfg.Dispatch.HTTPTimeout.Duration())

	// Compile the show up front so bad cues fail before anything plays.
	// Timings file and script may both be present; their tracks merge.
	if cfg.Show.Timings != "" {
		s.Show, err = show.LoadSchedule(cfg.Show.Timings, topo, idx)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	if cfg.Script != "" {
		scripted, err := luashow.Load(cfg.Script, topo, idx)
		if err != nil {
			s.Close()
			return nil, err
		}
		if s.Show == nil {
			s.Show = scripted
		} else {
			for id, timeline := range scripted.Tracks {
				if _, dup := s.Show.Tracks[id]; dup {
					s.Close()
					return nil, fmt.Errorf("track %q defined in both %s and %s", id, cfg.Show.Timings, cfg.Script)
				}
				s.Show.Tracks[id] = timeline
			}
		}
	}

	if dryRun {
		log.Info().Msg("Dry-run mode: no device commands, no audio")
		s.Dispatcher = dispatch.NewDryRun(cfg.Dispatch.OutcomeQueue)
		s.Transport = player.NewManualClock()
	} else {
		backends := map[show.ControllerType]dispatch.ApplyFunc{
			show.ControllerTypeWLED: func(ctx context.Context, endpoint string, _ *show.Controller, action show.Action) error {
				return s.WLED.Apply(ctx, endpoint, action)
			},
			show.ControllerTypeHue: s.Hue.Apply,
		}
		s.Dispatcher = dispatch.NewEngine(backends, dispatch.Options{
			Concurrency:  cfg.Dispatch.Concurrency,
			QueueSize:    cfg.Dispatch.OutcomeQueue,
			Retries:      cfg.Dispatch.Retries,
			RetryBackoff: cfg.Dispatch.RetryBackoff.Duration(),
			Timeout:      cfg.Dispatch.Timeout.Duration(),
			RateLimit:    cfg.Dispatch.RateLimitRPS,
		})
		s.audio = player.NewPlayer(cfg.Player.Buffer.Duration())
		s.Transport = s.audio
	}

	s.Scheduler = scheduler.New(s.Transport, s.Dispatcher, cfg.Player.TickInterval.Duration())

	return s, nil
}

// Start launches the background loops: the scheduler tick loop and the
// outcome drain.
func (s *Services) Start(ctx context.Context) {
	go dispatch.LogOutcomes(ctx, s.Dispatcher.Outcomes())
	go func() {
		if err := s.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduler stopped")
		}
	}()
}

// StartTrack arms the scheduler for a track and starts its audio. In dry-run
// mode the wall clock stands in for the audio stream.
func (s *Services) StartTrack(track string) error {
	timeline, ok := s.Show.Track(track)
	if !ok {
		return fmt.Errorf("track %q not in show (have: %s)", track, strings.Join(s.Show.TrackIDs(), ", "))
	}

	// Start the transport first so the scheduler captures the fresh
	// generation when it arms.
	if s.audio != nil {
		if err := s.audio.Play(s.cfg.SongPath(track)); err != nil {
			return fmt.Errorf("play %q: %w", track, err)
		}
	} else {
		if err := s.Transport.Restart(); err != nil {
			return err
		}
	}

	s.Scheduler.Load(track, timeline)
	log.Info().
		Str("track", track).
		Int("events", timeline.Len()).
		Dur("duration", timeline.Duration()).
		Msg("Track started")
	return nil
}

// Finished reports whether the current track's audio has played out. Always
// false on the dry-run clock; the caller decides when a silent run is done.
func (s *Services) Finished() bool {
	if s.audio != nil {
		return s.audio.Finished()
	}
	return false
}

// Stop gracefully stops all services.
func (s *Services) Stop(timeout time.Duration) error {
	s.Scheduler.Unload()
	if s.audio != nil {
		s.audio.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Dispatcher.Close(ctx)

	s.Close()
	return err
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Presets != nil {
		s.Presets.Close()
	}
}
