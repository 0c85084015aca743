package telemetry

import (
	"fmt"
	"log"

	"github.com/decred/slog"

	"real-pet/battle/logging"
)

// Logger is the printf-style logger taken by battle components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// Discard drops every line.
var Discard Logger = LoggerFunc(nil)

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &stdAdapter{logger: logger}
}

type stdAdapter struct {
	logger *log.Logger
}

func (l *stdAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// WrapSlog adapts a subsystem logger from a decred/slog backend. Lines are
// written at info level.
func WrapSlog(logger slog.Logger) Logger {
	return &slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger slog.Logger
}

func (l *slogAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Infof(format, args...)
}

// ParseLevel converts a level name such as "debug" or "warn".
func ParseLevel(name string) (slog.Level, error) {
	level, ok := slog.LevelFromString(name)
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// Metrics is the counter surface taken by battle components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging router metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

// NopMetrics returns a Metrics that drops every update.
func NopMetrics() Metrics {
	return &metricsAdapter{}
}
