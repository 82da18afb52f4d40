package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"

	"github.com/transacta/paymentid/internal/config"
)

const serviceName = "paymentid"

// stdout receives local logs.
var stdout io.Writer = os.Stdout

type ctxKey struct{}

var slogFields = ctxKey{}

// ContextHandler adds the attributes stored in the context to every record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithAttrs returns a context carrying attrs for every log call made with it.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing, _ := ctx.Value(slogFields).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, slogFields, merged)
}

func GetLogger(cfg config.Logs) *slog.Logger {
	if cfg.URL == "" {
		return localLogger(parseLevel(cfg.Level))
	}

	return remoteLogger(cfg.URL, parseLevel(cfg.Level))
}

func localLogger(level slog.Level) *slog.Logger {
	return slog.New(&ContextHandler{Handler: slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level})}).
		With("service", serviceName)
}

func remoteLogger(url string, level slog.Level) *slog.Logger {
	lokiConfig, err := loki.NewDefaultConfig(url)
	if err != nil {
		return fallbackLogger(url, level, err)
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return fallbackLogger(url, level, err)
	}

	return slog.New(slogloki.Option{
		Level:  level,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			func(ctx context.Context) []slog.Attr {
				var attrs []slog.Attr
				if v, ok := ctx.Value(slogFields).([]slog.Attr); ok {
					attrs = append(attrs, v...)
				}
				return attrs
			},
		},
	}.NewLokiHandler()).With("service", serviceName)
}

// fallbackLogger logs to stdout and says so, so a broken Loki setup is not
// mistaken for a quiet service.
func fallbackLogger(url string, level slog.Level, err error) *slog.Logger {
	logger := localLogger(level)
	logger.Warn("Loki logging unavailable, falling back to stdout", "url", url, "error", err)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
