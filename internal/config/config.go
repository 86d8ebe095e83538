// Package config loads engine settings from an optional YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/runengine/internal/engine"
)

// Environment variables that override file values.
const (
	EnvBeamlineID  = "RUNENGINE_BEAMLINE_ID"
	EnvOwner       = "RUNENGINE_OWNER"
	EnvScanIDStart = "RUNENGINE_SCAN_ID_START"
)

// Config holds engine settings.
type Config struct {
	BeamlineID   string         `yaml:"beamline_id"`
	Owner        string         `yaml:"owner"`
	ScanIDStart  int64          `yaml:"scan_id_start"` // scan_id of the first run
	PollInterval time.Duration  `yaml:"poll_interval"` // e.g. "10ms"
	EmitTimeout  time.Duration  `yaml:"emit_timeout"`  // e.g. "5s"
	QueueSize    int            `yaml:"queue_size"`    // per document kind
	MaxSteps     int            `yaml:"max_steps"`     // 0 = unlimited
	Metadata     map[string]any `yaml:"metadata"`      // added to every RunStart
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BeamlineID:   "sim",
		Owner:        os.Getenv("USER"),
		ScanIDStart:  1,
		PollInterval: engine.DefaultPollInterval,
		EmitTimeout:  engine.DefaultEmitTimeout,
		QueueSize:    engine.DefaultQueueSize,
	}
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with environment overrides.
//
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing, so values can come from a .env file loaded with
// LoadDotEnv. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: load: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvBeamlineID); ok {
		c.BeamlineID = v
	}
	if v, ok := os.LookupEnv(EnvOwner); ok {
		c.Owner = v
	}
	if v, ok := os.LookupEnv(EnvScanIDStart); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvScanIDStart, err)
		}
		c.ScanIDStart = n
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.BeamlineID == "" {
		return fmt.Errorf("config: beamline_id is required")
	}
	if c.ScanIDStart < 1 {
		return fmt.Errorf("config: scan_id_start must be at least 1, got %d", c.ScanIDStart)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.EmitTimeout <= 0 {
		return fmt.Errorf("config: emit_timeout must be positive, got %s", c.EmitTimeout)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("config: max_steps must not be negative, got %d", c.MaxSteps)
	}
	return nil
}

// EngineOptions converts the configuration to engine options.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithBeamlineID(c.BeamlineID),
		engine.WithOwner(c.Owner),
		engine.WithScanIDStart(c.ScanIDStart),
		engine.WithPollInterval(c.PollInterval),
		engine.WithEmitTimeout(c.EmitTimeout),
		engine.WithQueueSize(c.QueueSize),
		engine.WithMaxSteps(c.MaxSteps),
		engine.WithMetadata(c.Metadata),
	}
}
