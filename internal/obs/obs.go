// Package obs holds the process-wide structured logger and the request
// correlation fields attached to every log line.
package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation identifies the request a log line belongs to.
type Correlation struct {
	RequestID   string
	TraceID     string
	Traceparent string
	UserUUID    string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Init configures the global JSON logger on stderr. Later calls are no-ops.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.TrimSpace(s)))
	return l, err
}

// SetOutputForTests redirects the global logger to w at debug level and
// returns a function restoring the previous logger.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prevLogger, prevLevel := logger, level.Level()
	logger = newLogger(w)
	level.Set(slog.LevelDebug)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		logger = prevLogger
		if logger == nil {
			logger = newLogger(os.Stderr)
		}
		level.Set(prevLevel)
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				if t, ok := attr.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	}))
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger carrying the correlation fields of ctx.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	if attrs := correlationAttrs(CorrelationFromContext(ctx)); len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

// WithCorrelation returns a context carrying its own copy of corr. Fields
// already present in ctx are kept where corr leaves them empty.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	merged := CorrelationFromContext(ctx)
	if corr.RequestID != "" {
		merged.RequestID = corr.RequestID
	}
	if corr.TraceID != "" {
		merged.TraceID = corr.TraceID
	}
	if corr.Traceparent != "" {
		merged.Traceparent = corr.Traceparent
	}
	if corr.UserUUID != "" {
		merged.UserUUID = corr.UserUUID
	}
	return context.WithValue(ctx, correlationContextKey{}, &merged)
}

// WithUserID records the authenticated user's public UUID. The value is
// written into the request's correlation in place, so the access log line
// emitted by an outer middleware carries it too.
func WithUserID(ctx context.Context, userUUID string) context.Context {
	userUUID = strings.TrimSpace(userUUID)
	if corr, ok := ctx.Value(correlationContextKey{}).(*Correlation); ok {
		corr.UserUUID = userUUID
		return ctx
	}
	return WithCorrelation(ctx, Correlation{UserUUID: userUUID})
}

// CorrelationFromContext returns the correlation fields of ctx.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	if corr, ok := ctx.Value(correlationContextKey{}).(*Correlation); ok && corr != nil {
		return *corr
	}
	return Correlation{}
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 8)
	if corr.RequestID != "" {
		attrs = append(attrs, "request_id", corr.RequestID)
	}
	if corr.TraceID != "" {
		attrs = append(attrs, "trace_id", corr.TraceID)
	}
	if corr.Traceparent != "" {
		attrs = append(attrs, "traceparent", corr.Traceparent)
	}
	if corr.UserUUID != "" {
		attrs = append(attrs, "user_uuid", corr.UserUUID)
	}
	return attrs
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "req-fallback"
	}
	return "req-" + hex.EncodeToString(buf)
}
