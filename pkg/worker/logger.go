package worker

import "pullplatypus/internal"

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) {
	defaultLogger.Printf(format, args...)
}

var defaultLogger = internal.NewLogger("worker")
