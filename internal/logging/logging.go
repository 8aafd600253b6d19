// Package logging configures slog for the gateway tools and provides a
// request tracer that logs redacted exchanges.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/redact"
)

// New builds a logger writing to w. level is debug|info|warn|error, format is
// text|json. Every record carries a run id.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return slog.New(h).With("run", uuid.NewString()), nil
}

type ctxKey struct{}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Tracer logs every request and reply at debug level with secrets masked.
type Tracer struct {
	Log *slog.Logger
	// MaxBody bounds logged bodies (default 4096 bytes).
	MaxBody int
}

var _ core.Tracer = (*Tracer)(nil)

func (t *Tracer) TraceRequest(seq int64, body string) {
	t.logger().Debug("gateway request", "seq", seq, "body", redact.Truncate(body, t.max()))
}

func (t *Tracer) TraceResponse(seq int64, body string) {
	t.logger().Debug("gateway response", "seq", seq, "bytes", len(body), "body", redact.Truncate(body, t.max()))
}

func (t *Tracer) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

func (t *Tracer) max() int {
	if t.MaxBody <= 0 {
		return 4096
	}
	return t.MaxBody
}
