package logger

// Log levels used across the application.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// New returns a logger configured with the provided level.
// Each call builds an independent instance; the composition root owns it
// and hands it to the components that log.
func New(level string) *Logger {
	return newZapLogger(level)
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return newNopLogger()
}
