// Package logging configures logrus for gamenet processes and provides the
// field helpers the other packages log with.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and sinks of the process logger.
type Config struct {
	Level  string     `mapstructure:"level" yaml:"level"`
	Format string     `mapstructure:"format" yaml:"format"`
	File   FileConfig `mapstructure:"file" yaml:"file"`

	// FlushLog forces debug level so channels log every datagram.
	FlushLog bool `mapstructure:"flush_log" yaml:"flush_log"`
}

// FileConfig describes an optional rotated log file.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ErrUnsupportedFormat is returned for a format other than text, json or prefixed.
var ErrUnsupportedFormat = errors.New("unsupported log format")

// Configure applies cfg to logger, or to the standard logrus logger when
// logger is nil. The returned closer releases the log file, if any.
func Configure(cfg Config, logger *logrus.Logger) (io.Closer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.FlushLog {
		level = logrus.DebugLevel
	}

	formatter, err := newFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}

	var closer io.Closer = nopCloser{}
	var out io.Writer = os.Stderr
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("log file output requires a path")
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)
	return closer, nil
}

// ParseLevel converts a level name; the empty string selects info.
func ParseLevel(name string) (logrus.Level, error) {
	if name == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(strings.ToLower(name))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	case "prefixed":
		return &prefixed.TextFormatter{FullTimestamp: true, ForceFormatting: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s (must be text, json or prefixed)", ErrUnsupportedFormat, format)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
