package logger

import "sync"

var (
	globalLogger *SystemLogger
	mu           sync.RWMutex
)

// SetGlobal installs the process-wide logger used by bootstrap code and
// middleware that has no injected logger
func SetGlobal(l *SystemLogger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *SystemLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = NewSystemLogger(nil, SystemLoggerConfig{
			EnableConsole: true,
			MinLevel:      LevelInfo,
			Service:       "payflow",
			Version:       "1.0.0",
			Environment:   "development",
		})
	}
	return globalLogger
}

// Info logs an info message using the global logger
func Info(message string, ctx ...LogContext) {
	GetGlobalLogger().log(LevelInfo, message, ctx...)
}

// Warn logs a warning message using the global logger
func Warn(message string, ctx ...LogContext) {
	GetGlobalLogger().log(LevelWarn, message, ctx...)
}

// Error logs an error message using the global logger
func Error(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().log(LevelError, message, withError(err, ctx))
}

// Fatal logs a fatal message using the global logger and exits
func Fatal(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Fatal(message, err, ctx...)
}
