package logging

import (
	"fmt"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string
	Caller bool
	Fields map[string]string
}

// NewDefaultConfig returns console output at info level.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
	}
}

// FromSettings converts the loaded logging section into a Config.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		level, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		cfg.Level = level
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	cfg.Caller = s.Caller
	return cfg, cfg.Validate()
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if c.Level < TraceLevel || c.Level > zapcore.FatalLevel {
		return fmt.Errorf("invalid level %v", c.Level)
	}
	return nil
}
