// Package logging builds the zerolog loggers used across loong.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel   = "LOONG_LOG_LEVEL"
	EnvLogFormat  = "LOONG_LOG_FORMAT"
	EnvLogNoColor = "LOONG_LOG_NOCOLOR"
)

// Config selects level, output format and an optional rotating file sink.
type Config struct {
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"` // console or json
	NoColor bool   `toml:"no_color" yaml:"no_color"`

	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  20,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

// New builds the process logger, installs it as the zerolog global and
// returns it. Extra writers (for example a ChanWriter feeding the TUI) receive
// the same events. The returned closer flushes the file sink, if any.
func New(cfg Config, app string, extra ...io.Writer) (zerolog.Logger, io.Closer) {
	applyEnvOverrides(&cfg)

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if len(extra) == 0 {
		writers = append(writers, consoleOrJSON(cfg, os.Stderr))
	}
	writers = append(writers, extra...)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, lj)
		closer = lj
	}

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("app", app).
		Logger()
	log.Logger = logger
	return logger, closer
}

func consoleOrJSON(cfg Config, out io.Writer) io.Writer {
	if strings.EqualFold(cfg.Format, "json") {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if _, ok := ParseLevel(v); ok {
			cfg.Level = v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel accepts the level names used in config files and env vars.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
