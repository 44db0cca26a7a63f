package labmodular

// Logger defines the interface for registry and transport logging.
// It uses structured logging with key-value pairs so that any structured
// logger (slog, zap, logrus, ...) can sit behind it:
//
//	logger.Info("Module activated", "module", "counter", "state", "activated")
//
// Example adapter over log/slog:
//
//	type SlogLogger struct{ l *slog.Logger }
//
//	func (s SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
//	func (s SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
//	func (s SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
//	func (s SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
type Logger interface {
	// Info logs normal lifecycle events such as activation and exposure.
	Info(msg string, args ...any)

	// Error logs failures that were handled but must be noted, e.g. a status
	// value that could not be persisted.
	Error(msg string, args ...any)

	// Warn logs unusual conditions such as a missing config option with the
	// warn policy.
	Warn(msg string, args ...any)

	// Debug logs diagnostic detail such as resolved bindings and activation order.
	Debug(msg string, args ...any)
}

// NopLogger discards everything. It is the default when no logger is configured.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}
