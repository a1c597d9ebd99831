// Package config assembles the monitor configuration from defaults, an
// optional YAML file, and PPE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/ppe-monitor/internal/connection"
	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/fps"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/internal/webmonitor"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PPE_"

// ColorOverride replaces or adds one entry of the overlay palette.
type ColorOverride struct {
	Key   string `yaml:"key"`
	Color string `yaml:"color"`
}

// Config is the full process configuration.
type Config struct {
	Connection connection.Config `yaml:"connection" envPrefix:"WS_"`
	Health     health.Config     `yaml:"health" envPrefix:"HEALTH_"`
	Monitor    webmonitor.Config `yaml:"monitor" envPrefix:"MONITOR_"`

	Processor struct {
		MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	} `yaml:"processor"`

	FPS struct {
		Window int `yaml:"window" env:"FPS_WINDOW"`
	} `yaml:"fps"`

	// Frame bounds the frame size accepted from the backend and drawn.
	Frame struct {
		MaxWidth  int `yaml:"max_width" env:"FRAME_MAX_WIDTH"`
		MaxHeight int `yaml:"max_height" env:"FRAME_MAX_HEIGHT"`
	} `yaml:"frame"`

	Overlay struct {
		FontSize float64         `yaml:"font_size" env:"FONT_SIZE"`
		Colors   []ColorOverride `yaml:"colors"`
	} `yaml:"overlay"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
		Color bool   `yaml:"color" env:"LOG_COLOR"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Connection = connection.DefaultConfig()
	cfg.Health = health.DefaultConfig()
	cfg.Monitor = webmonitor.DefaultConfig()
	cfg.Processor.MinConfidence = detection.DefaultMinConfidence
	cfg.FPS.Window = fps.DefaultWindowSize
	cfg.Frame.MaxWidth = detection.MaxFrameWidth
	cfg.Frame.MaxHeight = detection.MaxFrameHeight
	cfg.Overlay.FontSize = overlay.DefaultConfig().FontSize
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides. A missing file is an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values no component can normalise on its own.
func (c Config) Validate() error {
	var errs []error
	if c.Processor.MinConfidence <= 0 || c.Processor.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("processor.min_confidence %v outside (0,1]", c.Processor.MinConfidence))
	}
	if c.FPS.Window < 2 {
		errs = append(errs, fmt.Errorf("fps.window %d must be at least 2", c.FPS.Window))
	}
	if c.Connection.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("connection.max_retries %d must be at least 1", c.Connection.MaxRetries))
	}
	if c.Frame.MaxWidth <= 0 || c.Frame.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("frame.max_width/max_height %dx%d must be positive", c.Frame.MaxWidth, c.Frame.MaxHeight))
	}
	if _, err := c.ColorMap(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ColorMap returns the default palette with the configured overrides applied.
func (c Config) ColorMap() (overlay.ColorMap, error) {
	var bad []string
	entries := lo.FilterMap(c.Overlay.Colors, func(o ColorOverride, _ int) (overlay.ColorEntry, bool) {
		col, err := overlay.ParseColor(o.Color)
		if err != nil || o.Key == "" {
			bad = append(bad, fmt.Sprintf("%q=%q", o.Key, o.Color))
			return overlay.ColorEntry{}, false
		}
		return overlay.ColorEntry{Key: o.Key, Color: col}, true
	})
	if len(bad) > 0 {
		return overlay.ColorMap{}, fmt.Errorf("overlay.colors: invalid entries %v", bad)
	}
	return overlay.DefaultColorMap().With(entries...), nil
}

// OverlayConfig returns renderer geometry with the configured font size and
// frame bounds.
func (c Config) OverlayConfig() overlay.Config {
	oc := overlay.DefaultConfig()
	if c.Overlay.FontSize > 0 {
		oc.FontSize = c.Overlay.FontSize
	}
	oc.MaxSurfaceWidth, oc.MaxSurfaceHeight = c.Frame.MaxWidth, c.Frame.MaxHeight
	return oc
}

// HealthConfig returns the polling configuration with the frame bounds applied.
func (c Config) HealthConfig() health.Config {
	hc := c.Health
	hc.MaxFrameWidth, hc.MaxFrameHeight = c.Frame.MaxWidth, c.Frame.MaxHeight
	return hc
}

// NewProcessor builds the detection processor for this configuration.
func (c Config) NewProcessor() *detection.Processor {
	return detection.NewProcessor(c.Processor.MinConfidence).WithMaxFrameSize(c.Frame.MaxWidth, c.Frame.MaxHeight)
}
