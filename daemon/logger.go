package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/GoCodeAlone/labmodular"
)

// SlogLogger adapts a *slog.Logger to labmodular.Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewLogger builds a text or JSON slog logger writing to w at level
// ("debug", "info", "warn" or "error").
func NewLogger(w io.Writer, level, format string) (*SlogLogger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &SlogLogger{l: slog.New(h)}, nil
}

func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// cronLogger routes scheduler messages to a labmodular.Logger.
type cronLogger struct {
	logger labmodular.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("Autosave scheduler: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("Autosave scheduler: "+msg, append(keysAndValues, "error", err)...)
}
