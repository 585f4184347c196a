// Package logger is the process-wide structured logger.
//
// Call sites use the package-level helpers with alternating key/value pairs:
//
//	logger.Info("campaign created", "campaign_id", id, "audience", n)
//
// Values under keys mentioning email, and any email-shaped substrings in
// other string values, are masked when PII redaction is on (the default).
package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu        sync.RWMutex
	base      = mustDefault()
	redactPII = true
)

func mustDefault() *zap.Logger {
	l, err := build("info", "json")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func build(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build(zap.AddCallerSkip(1))
}

// Init replaces the default logger. format is "json" or "console".
func Init(level, format string, redact bool) error {
	l, err := build(level, format)
	if err != nil {
		return err
	}
	mu.Lock()
	base = l
	redactPII = redact
	mu.Unlock()
	return nil
}

// Use installs an already-built zap logger. Mostly useful in tests.
func Use(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the underlying zap logger for components that take one.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetRedactPII enables or disables PII redaction.
func SetRedactPII(r bool) {
	mu.Lock()
	redactPII = r
	mu.Unlock()
}

// Sync flushes buffered entries. Call before exit.
func Sync() { _ = L().Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { write(zapcore.DebugLevel, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { write(zapcore.InfoLevel, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { write(zapcore.WarnLevel, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { write(zapcore.ErrorLevel, msg, fields) }

func write(level zapcore.Level, msg string, kv []interface{}) {
	mu.RLock()
	l, redact := base, redactPII
	mu.RUnlock()

	ce := l.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(toFields(kv, redact)...)
}

// toFields turns key/value pairs into zap fields. A trailing key without a
// value is dropped.
func toFields(kv []interface{}, redact bool) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		switch v := kv[i+1].(type) {
		case string:
			fields = append(fields, zap.String(key, maybeRedact(key, v, redact)))
		case error:
			fields = append(fields, zap.String(key, maybeRedact(key, v.Error(), redact)))
		case fmt.Stringer:
			fields = append(fields, zap.String(key, maybeRedact(key, v.String(), redact)))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	return fields
}

func maybeRedact(key, val string, redact bool) string {
	if !redact {
		return val
	}
	return redactPIIValue(key, val)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail keeps the first two characters of the local part and the
// domain, so support can still tell customers apart in logs:
// ana.lopez@shop.io becomes an***@shop.io. Local parts of two characters or
// fewer are hidden entirely. Anything that is not a single-@ address
// becomes ***@***.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
