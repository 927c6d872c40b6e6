// Package logging configures structured JSON logging for a circle node and
// bridges emitted domain events into it.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"trustedcircle/core/events"
)

// Setup configures the default slog logger to emit structured JSON, tagging
// every line with the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	logger := slog.New(handler).With(attrs...)
	slog.SetDefault(logger)
	return logger
}

// attributed is satisfied by every domain event; it exposes its fields as a
// flat string map for logging without the logger needing to know each
// concrete event type.
type attributed interface {
	Attributes() map[string]string
}

// Emitter forwards every emitted domain event to a slog.Logger as a single
// structured "circle event" log line.
type Emitter struct {
	logger *slog.Logger
}

// NewEmitter wraps logger as an events.Emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(ev events.Event) {
	args := []any{slog.String("type", ev.EventType())}
	if a, ok := ev.(attributed); ok {
		for k, v := range a.Attributes() {
			args = append(args, slog.String(k, v))
		}
	}
	e.logger.Info("circle event", args...)
}
