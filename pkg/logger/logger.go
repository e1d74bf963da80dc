package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls logger construction
type Config struct {
	Level       string
	ServiceName string
}

// Logger wraps zerolog with service-scoped context
type Logger struct {
	zerolog.Logger
}

// New creates a logger writing JSON to stdout
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	zl := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	return &Logger{zl}
}

// Nop returns a logger that discards everything, for tests
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}
