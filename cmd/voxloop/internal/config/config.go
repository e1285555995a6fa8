// Package config loads the voxloop configuration file.
//
// The file lives at os.UserConfigDir()/voxloop/config.yaml. Every value
// has a working default, so a missing file is not an error. Values can
// be overridden per field with VOXLOOP_* environment variables, and the
// command line overrides both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/voxloop/voxloop/pkg/cli"
	"github.com/voxloop/voxloop/pkg/jsontime"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "VOXLOOP_CONFIG"

// DefaultPrompt is the shipped text persona, used when neither config
// nor client supply one.
const DefaultPrompt = "You are a helpful voice assistant. Keep your answers short and conversational."

// Config is the top-level voxloop configuration.
type Config struct {
	// Listen is the gateway bind address used by serve.
	Listen string `yaml:"listen"`

	// Server is the base URL that read commands target.
	Server string `yaml:"server"`

	Runner  Runner  `yaml:"runner"`
	Voices  Voices  `yaml:"voices"`
	Store   Store   `yaml:"store"`
	Session Session `yaml:"session"`
	Log     Log     `yaml:"log"`

	// Path is where the config was loaded from, empty when running on
	// defaults.
	Path string `yaml:"-"`
}

// Runner selects the speech model backend for serve.
type Runner struct {
	// URL is the model runner websocket endpoint.
	URL string `yaml:"url"`

	// Sim replaces the runner with the in-process simulated backend.
	Sim bool `yaml:"sim,omitempty"`
}

// Voices locates persona voice artifacts.
type Voices struct {
	Dir string `yaml:"dir"`

	// Bucket and Prefix point voices sync at an S3 mirror.
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// Store configures the session transcript store.
type Store struct {
	Dir string `yaml:"dir"`

	// InMemory keeps transcripts in process memory, for development.
	InMemory bool `yaml:"in_memory,omitempty"`
}

// Session carries per-session defaults.
type Session struct {
	// Prompt is the default text persona.
	Prompt string `yaml:"prompt"`

	// ReadyTimeout bounds how long serve waits for the backend to
	// become ready before sessions are refused.
	ReadyTimeout jsontime.Duration `yaml:"ready_timeout,omitempty"`
}

// Log configures the serve logger.
type Log struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`  // debug, info, warn or error
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	paths, err := cli.NewPaths()
	if err != nil {
		return nil, fmt.Errorf("resolve config paths: %w", err)
	}
	return &Config{
		Listen: ":8000",
		Server: "http://127.0.0.1:8000",
		Runner: Runner{
			URL: "ws://127.0.0.1:8998",
		},
		Voices: Voices{
			Dir: paths.VoicesDir(),
		},
		Store: Store{
			Dir: paths.StoreDir(),
		},
		Session: Session{
			Prompt:       DefaultPrompt,
			ReadyTimeout: jsontime.Duration(300 * time.Second),
		},
		Log: Log{
			Format: "text",
			Level:  "info",
		},
	}, nil
}

// Load reads the configuration from path. An empty path falls back to
// VOXLOOP_CONFIG and then the default location. A missing file yields
// the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		paths, err := cli.NewPaths()
		if err != nil {
			return nil, fmt.Errorf("resolve config paths: %w", err)
		}
		path = paths.ConfigFile()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply.
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Path = path
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes the configuration to path, for config init.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setenv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setenv(&c.Listen, "VOXLOOP_LISTEN")
	setenv(&c.Server, "VOXLOOP_SERVER")
	setenv(&c.Runner.URL, "VOXLOOP_RUNNER_URL")
	setenv(&c.Voices.Dir, "VOXLOOP_VOICES_DIR")
	setenv(&c.Voices.Bucket, "VOXLOOP_VOICES_BUCKET")
	setenv(&c.Voices.Prefix, "VOXLOOP_VOICES_PREFIX")
	setenv(&c.Voices.Region, "VOXLOOP_VOICES_REGION")
	setenv(&c.Store.Dir, "VOXLOOP_STORE_DIR")
	setenv(&c.Session.Prompt, "VOXLOOP_PROMPT")
	setenv(&c.Log.Format, "VOXLOOP_LOG_FORMAT")
	setenv(&c.Log.Level, "VOXLOOP_LOG_LEVEL")
	if v := os.Getenv("VOXLOOP_RUNNER_SIM"); v == "1" || v == "true" {
		c.Runner.Sim = true
	}
}
