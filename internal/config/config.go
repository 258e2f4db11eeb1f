package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig                   `yaml:"log"`
	Controllers map[string]ControllerConfig `yaml:"controllers"`
	Groups      map[string][]string         `yaml:"groups"`
	Show        ShowConfig                  `yaml:"show"`
	Script      string                      `yaml:"script"` // optional Lua show builder
	Dispatch    DispatchConfig              `yaml:"dispatch"`
	Player      PlayerConfig                `yaml:"player"`
	Presets     PresetsConfig               `yaml:"presets"`
	DryRun      bool                        `yaml:"dry_run"`

	ShutdownTimeout Duration `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// ControllerConfig describes one lighting controller
type ControllerConfig struct {
	Type        string   `yaml:"type"`  // wled (default) or hue
	URLs        []string `yaml:"urls"`  // redundant endpoints for the same device
	Token       string   `yaml:"token"` // hue bridge application key
	Group       string   `yaml:"group"` // hue bridge group name ("" = all lights)
	Description string   `yaml:"description"`
}

// ShowConfig locates the schedule and audio files
type ShowConfig struct {
	Timings  string `yaml:"timings"`   // path to the timings YAML
	SongsDir string `yaml:"songs_dir"` // directory holding audio files; default: <timings dir>/songs
}

// DispatchConfig tunes the dispatch facade
type DispatchConfig struct {
	Timeout        Duration `yaml:"timeout"`         // overall deadline per controller command
	HTTPTimeout    Duration `yaml:"http_timeout"`    // per-request timeout against a device
	ConnectTimeout Duration `yaml:"connect_timeout"` // TCP connect timeout against a device
	Retries        int      `yaml:"retries"`         // extra attempt passes after the first
	RetryBackoff   Duration `yaml:"retry_backoff"`   // pause between attempt passes
	Concurrency    int      `yaml:"concurrency"`     // max simultaneous endpoint commands
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`  // commands per second across the facade
	OutcomeQueue   int      `yaml:"outcome_queue"`   // outcome record queue size
}

// PlayerConfig tunes playback and the tick cadence
type PlayerConfig struct {
	TickInterval Duration `yaml:"tick_interval"` // scheduler poll cadence
	Buffer       Duration `yaml:"buffer"`        // speaker buffer length
}

// PresetsConfig contains preset index settings
type PresetsConfig struct {
	Path string `yaml:"db_path"` // SQLite database path
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Presets.Path == "" {
		cfg.Presets.Path = "./wledsync.sqlite"
	}

	// Dispatch defaults: show commands are worthless when late, keep them short
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = Duration(2 * time.Second)
	}
	if cfg.Dispatch.HTTPTimeout == 0 {
		cfg.Dispatch.HTTPTimeout = Duration(500 * time.Millisecond)
	}
	if cfg.Dispatch.ConnectTimeout == 0 {
		cfg.Dispatch.ConnectTimeout = Duration(200 * time.Millisecond)
	}
	if cfg.Dispatch.Retries == 0 {
		cfg.Dispatch.Retries = 2
	}
	if cfg.Dispatch.RetryBackoff == 0 {
		cfg.Dispatch.RetryBackoff = Duration(100 * time.Millisecond)
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 8
	}
	if cfg.Dispatch.RateLimitRPS == 0 {
		cfg.Dispatch.RateLimitRPS = 50.0
	}
	if cfg.Dispatch.OutcomeQueue == 0 {
		cfg.Dispatch.OutcomeQueue = 256
	}

	// Player defaults
	if cfg.Player.TickInterval == 0 {
		cfg.Player.TickInterval = Duration(50 * time.Millisecond)
	}
	if cfg.Player.Buffer == 0 {
		cfg.Player.Buffer = Duration(100 * time.Millisecond)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if cfg.Show.Timings == "" && cfg.Script == "" {
		return nil, fmt.Errorf("config: either show.timings or script must be set")
	}
	if len(cfg.Controllers) == 0 {
		return nil, fmt.Errorf("config: no controllers defined")
	}

	return &cfg, nil
}

// Topology builds and validates the controller topology from the config.
func (c *Config) Topology() (*show.Topology, error) {
	topo := &show.Topology{
		Controllers: make(map[show.ControllerID]*show.Controller, len(c.Controllers)),
		Groups:      make(map[string][]show.ControllerID, len(c.Groups)),
	}
	for id, cc := range c.Controllers {
		ctype := show.ControllerType(cc.Type)
		if cc.Type == "" {
			ctype = show.ControllerTypeWLED
		}
		urls := make([]string, 0, len(cc.URLs))
		for _, u := range cc.URLs {
			urls = append(urls, strings.TrimSpace(u))
		}
		topo.Controllers[show.ControllerID(id)] = &show.Controller{
			ID:          show.ControllerID(id),
			Type:        ctype,
			URLs:        urls,
			Token:       cc.Token,
			HueGroup:    cc.Group,
			Description: cc.Description,
		}
	}
	for name, members := range c.Groups {
		ids := make([]show.ControllerID, 0, len(members))
		for _, m := range members {
			ids = append(ids, show.ControllerID(m))
		}
		topo.Groups[name] = ids
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	return topo, nil
}

// SongPath resolves a track ID to an audio file path.
func (c *Config) SongPath(track string) string {
	dir := c.Show.SongsDir
	if dir == "" {
		base := "."
		if c.Show.Timings != "" {
			base = filepath.Dir(c.Show.Timings)
		}
		dir = filepath.Join(base, "songs")
	}
	return filepath.Join(dir, track)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
