// Package logger provides structured logging for the one-app-api service.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// DebugLevel logs debug messages
	DebugLevel LogLevel = iota
	// InfoLevel logs info messages
	InfoLevel
	// WarnLevel logs warning messages
	WarnLevel
	// ErrorLevel logs error messages
	ErrorLevel
	// FatalLevel logs fatal messages and exits
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a log level from string
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// LogFormat represents the output format
type LogFormat int

const (
	// TextFormat outputs logs in human-readable text format
	TextFormat LogFormat = iota
	// JSONFormat outputs logs in JSON format
	JSONFormat
)

// ParseLogFormat parses a log format from string
func ParseLogFormat(format string) LogFormat {
	if strings.EqualFold(format, "json") {
		return JSONFormat
	}
	return TextFormat
}

// Logger represents a structured logger
type Logger struct {
	level   LogLevel
	format  LogFormat
	output  io.Writer
	mu      *sync.Mutex
	fields  map[string]interface{}
	service string
}

// Config represents logger configuration
type Config struct {
	Level   LogLevel
	Format  LogFormat
	Output  io.Writer
	Service string
	Fields  map[string]interface{}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = &Config{}
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Fields == nil {
		config.Fields = make(map[string]interface{})
	}

	return &Logger{
		level:   config.Level,
		format:  config.Format,
		output:  config.Output,
		mu:      &sync.Mutex{},
		fields:  config.Fields,
		service: config.Service,
	}
}

// NewDefaultLogger creates a JSON logger at info level
func NewDefaultLogger(service string) *Logger {
	return NewLogger(&Config{
		Level:   InfoLevel,
		Format:  JSONFormat,
		Output:  os.Stdout,
		Service: service,
	})
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:   l.level,
		format:  l.format,
		output:  l.output,
		mu:      l.mu,
		fields:  merged,
		service: l.service,
	}
}

// WithError creates a new logger carrying the error message
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(message string, args ...interface{}) {
	l.log(DebugLevel, message, args...)
}

// Info logs an info message
func (l *Logger) Info(message string, args ...interface{}) {
	l.log(InfoLevel, message, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, args ...interface{}) {
	l.log(WarnLevel, message, args...)
}

// Error logs an error message
func (l *Logger) Error(message string, args ...interface{}) {
	l.log(ErrorLevel, message, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, args ...interface{}) {
	l.log(FatalLevel, message, args...)
	os.Exit(1)
}

// SetLevel changes the minimum level the logger emits
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// IsLevelEnabled reports whether level would be emitted
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string, args ...interface{}) {
	if level < l.level {
		return
	}

	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}

	entry := &LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   message,
		Service:   l.service,
		Fields:    make(map[string]interface{}),
	}

	for k, v := range l.fields {
		if k == "request_id" {
			if s, ok := v.(string); ok {
				entry.RequestID = s
				continue
			}
		}
		entry.Fields[k] = v
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	l.writeEntry(entry)
}

func (l *Logger) writeEntry(entry *LogEntry) {
	var output string

	switch l.format {
	case JSONFormat:
		data, err := json.Marshal(entry)
		if err != nil {
			// Fallback to simple format if JSON marshaling fails
			output = fmt.Sprintf("%s [%s] %s\n", entry.Timestamp, entry.Level, entry.Message)
		} else {
			output = string(data) + "\n"
		}
	default:
		output = l.formatTextEntry(entry)
	}

	l.mu.Lock()
	l.output.Write([]byte(output))
	l.mu.Unlock()
}

func (l *Logger) formatTextEntry(entry *LogEntry) string {
	timestamp := entry.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
		timestamp = t.Format("2006-01-02 15:04:05.000")
	}

	parts := []string{
		timestamp,
		fmt.Sprintf("[%s]", entry.Level),
	}
	if entry.Service != "" {
		parts = append(parts, fmt.Sprintf("service=%s", entry.Service))
	}
	if entry.RequestID != "" {
		parts = append(parts, fmt.Sprintf("request_id=%s", entry.RequestID))
	}
	parts = append(parts, entry.Message)
	for k, v := range entry.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}

	return strings.Join(parts, " ") + "\n"
}

var defaultLogger = NewDefaultLogger("one-app-api")

// SetDefault replaces the package-level logger
func SetDefault(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetDefault returns the package-level logger
func GetDefault() *Logger {
	return defaultLogger
}
