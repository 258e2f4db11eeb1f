package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/app"
	"github.com/dokzlo13/wledsync/internal/config"
	"github.com/dokzlo13/wledsync/internal/presets"
	"github.com/dokzlo13/wledsync/internal/show"
	"github.com/dokzlo13/wledsync/internal/wled"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	song := flag.String("song", "", "Track to play (defaults to the only track in the show)")
	dryRun := flag.Bool("dry-run", false, "Log device commands instead of sending them, no audio")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	command := "play"
	args := flag.Args()
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "play":
		runPlay(cfg, *song, *dryRun || cfg.DryRun)
	case "schedule":
		runSchedule(cfg)
	case "presets":
		runPresets(cfg, args[1:])
	default:
		log.Fatal().Str("command", command).Msg("Unknown command (want play, schedule or presets)")
	}
}

func runPlay(cfg *config.Config, song string, dryRun bool) {
	application, err := app.New(cfg, dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	svc := application.Services()

	if song == "" {
		tracks := svc.Show.TrackIDs()
		if len(tracks) != 1 {
			log.Fatal().Strs("tracks", tracks).Msg("Show has several tracks, pick one with --song")
		}
		song = tracks[0]
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	if err := svc.StartTrack(song); err != nil {
		log.Error().Err(err).Msg("Failed to start track")
		application.Stop()
		os.Exit(1)
	}

	go readCommands(application, svc)

	// Shut down once the audio plays out. The dry-run clock never finishes,
	// so the silent run ends when the position passes the last event.
	timeline, _ := svc.Show.Track(song)
	dryRunEnd := timeline.Duration() + 2*time.Second

	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-application.Done():
			shutdown(application)
			return
		case <-poll.C:
			if svc.Finished() {
				log.Info().Str("track", song).Msg("Track finished")
				shutdown(application)
				return
			}
			if dryRun && svc.Transport.Playing() && svc.Transport.Position() > dryRunEnd {
				log.Info().Str("track", song).Msg("Dry run complete")
				shutdown(application)
				return
			}
		}
	}
}

func shutdown(application *app.App) {
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// readCommands drives the transport from stdin:
//
//	pause          toggle pause
//	seek +5s/-10s  relative seek
//	seek 1m30s     absolute seek
//	restart        rewind to zero and resume
//	quit           stop and exit
func readCommands(application *app.App, svc *app.Services) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "pause", "p":
			paused := svc.Transport.TogglePause()
			log.Info().Bool("paused", paused).Msg("Pause toggled")
		case "seek", "s":
			if len(fields) < 2 {
				log.Warn().Msg("Usage: seek <duration>, e.g. seek +5s or seek 1m30s")
				continue
			}
			if err := seek(svc, fields[1]); err != nil {
				log.Warn().Err(err).Msg("Seek failed")
			}
		case "restart", "r":
			if err := svc.Transport.Restart(); err != nil {
				log.Warn().Err(err).Msg("Restart failed")
			}
		case "quit", "q":
			application.Shutdown()
			return
		default:
			log.Warn().Str("input", fields[0]).Msg("Unknown command (want pause, seek, restart or quit)")
		}
	}
}

func seek(svc *app.Services, arg string) error {
	d, err := time.ParseDuration(arg)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", arg, err)
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		return svc.Transport.SeekBy(d)
	}
	return svc.Transport.SeekTo(d)
}

// runSchedule prints the compiled show, one line per cue, exactly as the
// scheduler will fire it.
func runSchedule(cfg *config.Config) {
	svc := mustServices(cfg)
	defer svc.Close()

	for _, track := range svc.Show.TrackIDs() {
		timeline, _ := svc.Show.Track(track)
		fmt.Printf("%s (%d events, %s)\n", track, timeline.Len(), timeline.Duration())
		for _, ev := range timeline.Events() {
			for _, cue := range ev.Cues {
				ids := make([]string, 0, len(cue.Target.Controllers))
				for _, ctrl := range cue.Target.Controllers {
					ids = append(ids, string(ctrl.ID))
				}
				fmt.Printf("  %8s  %-12s -> %s  [%s]\n",
					ev.Time, cue.Target.Ref, cue.Action.String(), strings.Join(ids, ", "))
			}
		}
	}
}

// runPresets talks to the preset index and devices directly. It must work
// before the show compiles: fetching the index is what makes preset_name
// references resolvable in the first place.
func runPresets(cfg *config.Config, args []string) {
	if len(args) == 0 {
		log.Fatal().Msg("Usage: presets fetch | presets upload <dir> [controller]")
	}

	topo, err := cfg.Topology()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid topology")
	}
	idx, err := presets.Open(cfg.Presets.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preset index")
	}
	defer idx.Close()
	client := wled.NewClient(cfg.Dispatch.HTTPTimeout.Duration(), cfg.Dispatch.ConnectTimeout.Duration())

	ctx, cancel := context.WithTimeout(app.SignalContext(), 2*time.Minute)
	defer cancel()

	switch args[0] {
	case "fetch":
		if err := idx.Refresh(ctx, topo, client); err != nil {
			log.Fatal().Err(err).Msg("Preset fetch incomplete")
		}
		log.Info().Msg("Preset index up to date")
	case "upload":
		if len(args) < 2 {
			log.Fatal().Msg("Usage: presets upload <dir> [controller]")
		}
		dir := args[1]
		only := show.ControllerID("")
		if len(args) > 2 {
			only = show.ControllerID(args[2])
		}
		for id, ctrl := range topo.Controllers {
			if ctrl.Type != show.ControllerTypeWLED {
				continue
			}
			if only != "" && id != only {
				continue
			}
			if err := presets.Upload(ctx, client, ctrl, dir); err != nil {
				log.Fatal().Err(err).Str("controller", string(id)).Msg("Preset upload failed")
			}
		}
		log.Info().Msg("Presets uploaded")
	default:
		log.Fatal().Str("subcommand", args[0]).Msg("Unknown presets subcommand (want fetch or upload)")
	}
}

// mustServices builds the service container for the one-shot commands. The
// dry-run dispatcher keeps them from touching devices.
func mustServices(cfg *config.Config) *app.Services {
	svc, err := app.NewServices(cfg, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	return svc
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
