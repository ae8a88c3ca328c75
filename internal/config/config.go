// Package config loads spoolscan settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Camera device kinds.
const (
	DeviceNone   = "none"
	DeviceGocv   = "gocv"
	DeviceReplay = "replay"
)

// Config is the full set of settings.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	Timeout      time.Duration `yaml:"timeout"`
	SessionFile  string        `yaml:"session_file"`
	Camera       Camera        `yaml:"camera"`
	OTLPEndpoint string        `yaml:"otlp_endpoint"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
}

// Camera configures live capture.
type Camera struct {
	Device        string        `yaml:"device"`
	RearIndex     int           `yaml:"rear_index"`
	FallbackIndex int           `yaml:"fallback_index"`
	ReplayDir     string        `yaml:"replay_dir"`
	SampleRate    float64       `yaml:"sample_rate"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:      "http://localhost:8000",
		Timeout:     30 * time.Second,
		SessionFile: filepath.Join(configDir(), "session.yaml"),
		Camera: Camera{
			Device:        DeviceGocv,
			RearIndex:     0,
			FallbackIndex: 0,
			SampleRate:    10,
			OpenTimeout:   10 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// DefaultPath is where Load looks when no file is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".spoolscan"
	}
	return filepath.Join(dir, "spoolscan")
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is an error only when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from SPOOLSCAN_* variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"SPOOLSCAN_API_URL":       &c.APIURL,
		"SPOOLSCAN_SESSION_FILE":  &c.SessionFile,
		"SPOOLSCAN_OTLP_ENDPOINT": &c.OTLPEndpoint,
		"SPOOLSCAN_LOG_LEVEL":     &c.LogLevel,
		"SPOOLSCAN_LOG_FORMAT":    &c.LogFormat,
		"SPOOLSCAN_CAMERA":        &c.Camera.Device,
		"SPOOLSCAN_REPLAY_DIR":    &c.Camera.ReplayDir,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SPOOLSCAN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SPOOLSCAN_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("SPOOLSCAN_SAMPLE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SPOOLSCAN_SAMPLE_RATE: %w", err)
		}
		c.Camera.SampleRate = f
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api_url %q", c.APIURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	switch c.Camera.Device {
	case DeviceNone, DeviceGocv:
	case DeviceReplay:
		if c.Camera.ReplayDir == "" {
			return errors.New("camera.replay_dir is required for the replay device")
		}
	default:
		return fmt.Errorf("unknown camera device %q (want gocv, replay or none)", c.Camera.Device)
	}
	if c.Camera.SampleRate <= 0 {
		return errors.New("camera.sample_rate must be positive")
	}
	return nil
}
