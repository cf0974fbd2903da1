// Package logger provides structured JSON logging with PII redaction.
package logger

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	level         = new(slog.LevelVar)
	defaultLogger = New(os.Stderr, true)
)

// New builds a JSON logger writing to w. With redact set, email addresses in
// any string field are masked.
func New(w io.Writer, redact bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if redact {
		opts.ReplaceAttr = redactAttr
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetLevel sets the minimum level from its name (debug, info, warn, error).
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetDefault replaces the package-level logger
func SetDefault(l *slog.Logger) { defaultLogger = l }

// Default returns the package-level logger
func Default() *slog.Logger { return defaultLogger }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...any) { defaultLogger.Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...any) { defaultLogger.Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...any) { defaultLogger.Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...any) { defaultLogger.Error(msg, fields...) }

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	val := a.Value.String()
	if strings.Contains(strings.ToLower(a.Key), "email") {
		return slog.String(a.Key, RedactEmail(val))
	}
	if a.Key == slog.MessageKey {
		return a
	}
	return slog.String(a.Key, emailRegex.ReplaceAllStringFunc(val, RedactEmail))
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
