// Package config loads prismmesh settings from the environment.
//
// Every field has a PRISM_ prefixed variable and a default, so an empty
// environment yields a working local setup:
//
//	PRISM_POLL_INTERVAL   receive wait bound of every link (50ms)
//	PRISM_LINK_BUFFER     pulses buffered per link direction (64)
//	PRISM_SHUTDOWN_GRACE  wait per dependency on extinguish (1s)
//	PRISM_VALIDATE        validate wavefront inputs against schemas (true)
//	PRISM_MAX_INVOCATIONS concurrent façade invocations, 0 is unlimited (0)
//	PRISM_LOG_LEVEL       debug, info, warn or error (info)
//	PRISM_LOG_FORMAT      text or json (text)
//	PRISM_SPECTRUM_DIR    directory of additional spectrum documents
//	PRISM_MODEL_PROVIDER  backend of ai:completion: openai, anthropic or mock
//	PRISM_MODEL           model name passed to the backend
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/multiplexer"
)

// Config holds the process level settings.
type Config struct {
	PollInterval   time.Duration `env:"PRISM_POLL_INTERVAL" envDefault:"50ms"`
	LinkBuffer     int           `env:"PRISM_LINK_BUFFER" envDefault:"64"`
	ShutdownGrace  time.Duration `env:"PRISM_SHUTDOWN_GRACE" envDefault:"1s"`
	Validate       bool          `env:"PRISM_VALIDATE" envDefault:"true"`
	MaxInvocations int           `env:"PRISM_MAX_INVOCATIONS" envDefault:"0"`

	LogLevel  string `env:"PRISM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PRISM_LOG_FORMAT" envDefault:"text"`

	SpectrumDir string `env:"PRISM_SPECTRUM_DIR"`

	ModelProvider string `env:"PRISM_MODEL_PROVIDER"`
	Model         string `env:"PRISM_MODEL"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, core.Wrap(core.KindValidation, err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that parse but cannot be used.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return core.Errorf(core.KindValidation, "PRISM_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.LinkBuffer < 0 {
		return core.Errorf(core.KindValidation, "PRISM_LINK_BUFFER must not be negative, got %d", c.LinkBuffer)
	}
	if c.ShutdownGrace < 0 {
		return core.Errorf(core.KindValidation, "PRISM_SHUTDOWN_GRACE must not be negative, got %s", c.ShutdownGrace)
	}
	if c.MaxInvocations < 0 {
		return core.Errorf(core.KindValidation, "PRISM_MAX_INVOCATIONS must not be negative, got %d", c.MaxInvocations)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return core.Wrap(core.KindValidation, err, "PRISM_LOG_LEVEL")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return core.Errorf(core.KindValidation, "PRISM_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	switch c.ModelProvider {
	case "", "openai", "anthropic", "mock":
	default:
		return core.Errorf(core.KindValidation, "unknown PRISM_MODEL_PROVIDER %q", c.ModelProvider)
	}
	return nil
}

// Logger builds a MeshLogger writing to w with the configured level and format.
func (c *Config) Logger(w io.Writer) *logging.MeshLogger {
	level, _ := logging.ParseLevel(c.LogLevel)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: c.LogFormat,
		Output: w,
	})
}

// Multiplexer copies the link and instance settings into o.
func (c *Config) Multiplexer(o *multiplexer.Options) {
	o.PollInterval = c.PollInterval
	o.LinkBuffer = c.LinkBuffer
	o.ShutdownGrace = c.ShutdownGrace
	o.Validate = c.Validate
}

// String renders the settings for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("poll=%s buffer=%d grace=%s validate=%t max_invocations=%d log=%s/%s spectrum_dir=%q model=%s/%s",
		c.PollInterval, c.LinkBuffer, c.ShutdownGrace, c.Validate, c.MaxInvocations,
		c.LogLevel, c.LogFormat, c.SpectrumDir, c.ModelProvider, c.Model)
}
