package component

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	// LogLevelDebug represents debug-level logs
	LogLevelDebug LogLevel = "DEBUG"
	// LogLevelInfo represents informational logs
	LogLevelInfo LogLevel = "INFO"
	// LogLevelWarn represents warning logs
	LogLevelWarn LogLevel = "WARN"
	// LogLevelError represents error logs
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is the payload mirrored to logs.<runtime>.<component>.
type LogEntry struct {
	Timestamp   string   `json:"timestamp"` // RFC3339 format
	Level       LogLevel `json:"level"`
	Runtime     string   `json:"runtime"`
	Component   string   `json:"component"`
	ComponentID int64    `json:"component_id"`
	Message     string   `json:"message"`
	Stack       string   `json:"stack,omitempty"`
}

// Publisher is the subset of *nats.Conn used to mirror log entries.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Logger writes to the runtime slog.Logger and, when a publisher is
// configured, mirrors each entry as JSON.
type Logger struct {
	component   string
	componentID int64
	runtimeID   string
	pub         Publisher
	logger      *slog.Logger
}

// NewLogger creates a component logger. pub may be nil.
func NewLogger(component string, componentID int64, runtimeID string, pub Publisher, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		component:   component,
		componentID: componentID,
		runtimeID:   runtimeID,
		pub:         pub,
		logger:      logger,
	}
}

// Subject returns the subject entries are mirrored to.
func (cl *Logger) Subject() string {
	return fmt.Sprintf("logs.%s.%s", cl.runtimeID, cl.component)
}

// Debug logs a debug-level message
func (cl *Logger) Debug(msg string, args ...any) {
	cl.DebugContext(context.Background(), msg, args...)
}

// Info logs an info-level message
func (cl *Logger) Info(msg string, args ...any) {
	cl.InfoContext(context.Background(), msg, args...)
}

// Warn logs a warning-level message
func (cl *Logger) Warn(msg string, args ...any) {
	cl.WarnContext(context.Background(), msg, args...)
}

// Error logs an error-level message with optional error details
func (cl *Logger) Error(msg string, err error, args ...any) {
	cl.ErrorContext(context.Background(), msg, err, args...)
}

// DebugContext logs a debug-level message with context
func (cl *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	cl.logger.DebugContext(ctx, msg, args...)
	cl.publish(ctx, LogLevelDebug, msg, "")
}

// InfoContext logs an info-level message with context
func (cl *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	cl.logger.InfoContext(ctx, msg, args...)
	cl.publish(ctx, LogLevelInfo, msg, "")
}

// WarnContext logs a warning-level message with context
func (cl *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	cl.logger.WarnContext(ctx, msg, args...)
	cl.publish(ctx, LogLevelWarn, msg, "")
}

// ErrorContext logs an error-level message with optional error details and context
func (cl *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	stack := ""
	if err != nil {
		stack = fmt.Sprintf("%+v", err)
		args = append(args, "error", err)
	}
	cl.logger.ErrorContext(ctx, msg, args...)
	cl.publish(ctx, LogLevelError, msg, stack)
}

func (cl *Logger) publish(ctx context.Context, level LogLevel, message, stack string) {
	pub := cl.pub
	if pub == nil || ctx.Err() != nil {
		return
	}

	entry := LogEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Level:       level,
		Runtime:     cl.runtimeID,
		Component:   cl.component,
		ComponentID: cl.componentID,
		Message:     message,
		Stack:       stack,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cl.logger.Error("Failed to marshal log entry", "error", err)
		return
	}

	subject := cl.Subject()
	if err := pub.Publish(subject, data); err != nil {
		// local only, publishing again would recurse
		cl.logger.Error("Failed to publish log entry", "error", err, "subject", subject)
	}
}
