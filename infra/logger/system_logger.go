package logger

import (
	"context"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelOrder = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// ParseLevel converts a configured level name, defaulting to info
func ParseLevel(level string) LogLevel {
	l := LogLevel(strings.ToLower(strings.TrimSpace(level)))
	if _, ok := levelOrder[l]; ok {
		return l
	}
	return LevelInfo
}

// SystemLog represents a structured system log entry
type SystemLog struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Component   string         `json:"component"`
	Function    string         `json:"function"`
	File        string         `json:"file"`
	Line        int            `json:"line"`
	Gateway     string         `json:"gateway,omitempty"`
	PaymentID   string         `json:"payment_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Environment string         `json:"environment"`
	Service     string         `json:"service"`
	Version     string         `json:"version"`
}

// Indexer ships log entries to a search backend
type Indexer interface {
	LogSystemEvent(ctx context.Context, entry any) error
}

// SystemLogger writes structured logs to the console and optionally to OpenSearch
type SystemLogger struct {
	console          *zap.Logger
	indexer          Indexer
	enableConsole    bool
	enableOpenSearch bool
	minLevel         LogLevel
	service          string
	version          string
	environment      string
}

// SystemLoggerConfig represents configuration for system logger
type SystemLoggerConfig struct {
	EnableConsole    bool     `yaml:"enable_console"`
	EnableOpenSearch bool     `yaml:"enable_opensearch"`
	MinLevel         LogLevel `yaml:"min_level"`
	Service          string   `yaml:"service"`
	Version          string   `yaml:"version"`
	Environment      string   `yaml:"environment"`

	// Console overrides the zap logger used for console output.
	Console *zap.Logger `yaml:"-"`
}

// LogContext holds contextual information for logging
type LogContext struct {
	Gateway   string
	PaymentID string
	RequestID string
	Fields    map[string]any
}

// NewSystemLogger creates a new system logger
func NewSystemLogger(indexer Indexer, config SystemLoggerConfig) *SystemLogger {
	console := config.Console
	if console == nil {
		console = newConsole()
	}
	if config.MinLevel == "" {
		config.MinLevel = LevelInfo
	}
	return &SystemLogger{
		console:          console,
		indexer:          indexer,
		enableConsole:    config.EnableConsole,
		enableOpenSearch: config.EnableOpenSearch && indexer != nil,
		minLevel:         config.MinLevel,
		service:          config.Service,
		version:          config.Version,
		environment:      config.Environment,
	}
}

// NewNop returns a logger that drops everything
func NewNop() *SystemLogger {
	return &SystemLogger{console: zap.NewNop(), minLevel: LevelFatal}
}

func newConsole() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	return zap.New(core)
}

// Debug logs a debug message
func (sl *SystemLogger) Debug(message string, ctx ...LogContext) {
	sl.log(LevelDebug, message, ctx...)
}

// Info logs an info message
func (sl *SystemLogger) Info(message string, ctx ...LogContext) {
	sl.log(LevelInfo, message, ctx...)
}

// Warn logs a warning message
func (sl *SystemLogger) Warn(message string, ctx ...LogContext) {
	sl.log(LevelWarn, message, ctx...)
}

// Error logs an error message
func (sl *SystemLogger) Error(message string, err error, ctx ...LogContext) {
	sl.log(LevelError, message, withError(err, ctx))
}

// Fatal logs a fatal message and exits
func (sl *SystemLogger) Fatal(message string, err error, ctx ...LogContext) {
	sl.log(LevelFatal, message, withError(err, ctx))
	_ = sl.console.Sync()
	os.Exit(1)
}

func withError(err error, ctx []LogContext) LogContext {
	logCtx := LogContext{}
	if len(ctx) > 0 {
		logCtx = ctx[0]
	}
	fields := make(map[string]any, len(logCtx.Fields)+1)
	for k, v := range logCtx.Fields {
		fields[k] = v
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logCtx.Fields = fields
	return logCtx
}

// log is the core logging function
func (sl *SystemLogger) log(level LogLevel, message string, ctx ...LogContext) {
	if !sl.shouldLog(level) {
		return
	}

	pc, file, line, ok := runtime.Caller(2)
	function := "unknown"
	if !ok {
		file = "unknown"
		line = 0
	} else if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
		if idx := strings.LastIndex(function, "."); idx != -1 {
			function = function[idx+1:]
		}
	}

	entry := SystemLog{
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Message:     message,
		Component:   sl.extractComponent(file),
		Function:    function,
		File:        file,
		Line:        line,
		Environment: sl.environment,
		Service:     sl.service,
		Version:     sl.version,
	}

	if len(ctx) > 0 {
		logCtx := ctx[0]
		entry.Gateway = logCtx.Gateway
		entry.PaymentID = logCtx.PaymentID
		entry.RequestID = logCtx.RequestID
		entry.Fields = logCtx.Fields
		if errMsg, ok := logCtx.Fields["error"].(string); ok {
			entry.Error = errMsg
		}
	}

	if sl.enableConsole {
		sl.logToConsole(entry)
	}

	if sl.enableOpenSearch {
		go sl.logToOpenSearch(entry)
	}
}

// shouldLog checks if the log level should be logged
func (sl *SystemLogger) shouldLog(level LogLevel) bool {
	return levelOrder[level] >= levelOrder[sl.minLevel]
}

// extractComponent extracts component name from file path
// e.g. /src/payflow/gateway/stripe/stripe.go -> gateway/stripe
func (sl *SystemLogger) extractComponent(file string) string {
	parts := strings.Split(file, "/")

	for i, part := range parts {
		if part == "payflow" && i+1 < len(parts) {
			if i+2 < len(parts) {
				return parts[i+1] + "/" + parts[i+2]
			}
			return parts[i+1]
		}
	}

	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}

	return "unknown"
}

func (sl *SystemLogger) logToConsole(entry SystemLog) {
	fields := make([]zap.Field, 0, len(entry.Fields)+4)
	fields = append(fields, zap.String("component", entry.Component))
	if entry.Gateway != "" {
		fields = append(fields, zap.String("gateway", entry.Gateway))
	}
	if entry.PaymentID != "" {
		fields = append(fields, zap.String("payment_id", entry.PaymentID))
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	for key, value := range entry.Fields {
		fields = append(fields, zap.Any(key, value))
	}

	switch entry.Level {
	case LevelDebug:
		sl.console.Debug(entry.Message, fields...)
	case LevelInfo:
		sl.console.Info(entry.Message, fields...)
	case LevelWarn:
		sl.console.Warn(entry.Message, fields...)
	default:
		sl.console.Error(entry.Message, fields...)
	}
}

// logToOpenSearch logs to OpenSearch asynchronously
func (sl *SystemLogger) logToOpenSearch(entry SystemLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sl.indexer.LogSystemEvent(ctx, entry); err != nil {
		log.Printf("Failed to log to OpenSearch: %v", err)
	}
}

// Sync flushes buffered console output
func (sl *SystemLogger) Sync() error {
	return sl.console.Sync()
}

// WithContext creates a new logger with context
func (sl *SystemLogger) WithContext(ctx LogContext) *ContextLogger {
	return &ContextLogger{
		systemLogger: sl,
		context:      ctx,
	}
}

// ContextLogger wraps SystemLogger with a fixed context
type ContextLogger struct {
	systemLogger *SystemLogger
	context      LogContext
}

func (cl *ContextLogger) Debug(message string) {
	cl.systemLogger.log(LevelDebug, message, cl.context)
}

func (cl *ContextLogger) Info(message string) {
	cl.systemLogger.log(LevelInfo, message, cl.context)
}

func (cl *ContextLogger) Warn(message string) {
	cl.systemLogger.log(LevelWarn, message, cl.context)
}

func (cl *ContextLogger) Error(message string, err error) {
	cl.systemLogger.log(LevelError, message, withError(err, []LogContext{cl.context}))
}

// AddField adds a field to the context
func (cl *ContextLogger) AddField(key string, value any) *ContextLogger {
	if cl.context.Fields == nil {
		cl.context.Fields = make(map[string]any)
	}
	cl.context.Fields[key] = value
	return cl
}
