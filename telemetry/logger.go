package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a JSON logger on stderr with OTEL hooks
func NewLogger(service string) *Logger {
	return NewLoggerWithWriter(service, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w
func NewLoggerWithWriter(service string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// FromZerolog adds the OTEL hook to an existing logger
func FromZerolog(l zerolog.Logger) *Logger {
	return &Logger{Logger: l.Hook(OTELHook{})}
}

// NopLogger discards everything
func NopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogAction logs the outcome of a single cloud call
func (l *Logger) LogAction(ctx context.Context, action, resourceID string, d time.Duration, err error) {
	logger := l.WithContext(ctx)
	if err != nil {
		logger.Error().
			Err(err).
			Str("action", action).
			Str("resource_id", resourceID).
			Dur("duration", d).
			Msg("action failed")
		return
	}
	logger.Info().
		Str("action", action).
		Str("resource_id", resourceID).
		Dur("duration", d).
		Msg("action completed")
}

// LogSkip logs a resource left untouched
func (l *Logger) LogSkip(ctx context.Context, resourceID, reason string) {
	l.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("reason", reason).
		Msg("skipped")
}

// LogRunComplete logs the summary of a run
func (l *Logger) LogRunComplete(ctx context.Context, runID, operation string, succeeded, failed, skipped int, d time.Duration) {
	event := l.WithContext(ctx).Info()
	if failed > 0 {
		event = l.WithContext(ctx).Warn()
	}
	event.
		Str("run_id", runID).
		Str("operation", operation).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("skipped", skipped).
		Dur("duration", d).
		Msg("run completed")
}
