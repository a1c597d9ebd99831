package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	RenderFPS         int           `yaml:"render_fps" env:"RENDER_FPS"`
	JPEGQuality       int           `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	StatusInterval    time.Duration `yaml:"status_interval" env:"STATUS_INTERVAL"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout" env:"PROCESSING_TIMEOUT"`
	ViolationWindow   int           `yaml:"violation_window" env:"VIOLATION_WINDOW"`
	CORSOrigins       []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		RenderFPS:         30,
		JPEGQuality:       75,
		StatusInterval:    2 * time.Second,
		ProcessingTimeout: 2 * time.Second,
		ViolationWindow:   50,
		CORSOrigins:       []string{"*"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.RenderFPS <= 0 {
		c.RenderFPS = d.RenderFPS
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = d.ProcessingTimeout
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = d.ViolationWindow
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = d.CORSOrigins
	}
	return c
}

// RenderInterval is the period between overlay frames.
func (c Config) RenderInterval() time.Duration {
	return time.Second / time.Duration(c.withDefaults().RenderFPS)
}
