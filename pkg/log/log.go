package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/lumberjack/v2"
	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a log verbosity name as written in config and flags
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Rotation defaults for the log file
const (
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// File, when set, receives a JSON copy of every entry through a
	// rotating writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel accepts level names in any case, plus "warning". Unknown
// names fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Init replaces the global logger. The returned closer releases the log
// file, if any.
func Init(cfg Config) io.Closer {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := rotatingFile(cfg)
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

func rotatingFile(cfg Config) *lumberjack.Logger {
	_ = os.MkdirAll(filepath.Dir(cfg.File), 0755)

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, defaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, defaultMaxAgeDays),
		Compress:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithComponent returns a child logger tagged with a sentinel component
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithUpgrade returns a child logger scoped to one upgrade attempt
func WithUpgrade(upgradeID, nodeComponent string) zerolog.Logger {
	return Logger.With().
		Str("component", "upgrade").
		Str("upgrade_id", upgradeID).
		Str("node_component", nodeComponent).
		Logger()
}
