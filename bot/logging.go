package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const loggerNameKey = "logger"

var defaultLogWriter io.Writer = os.Stdout

// newTintLogger creates a tint-backed logger at the given (dynamic) level,
// tagged with the component name.
func newTintLogger(level slog.Leveler, name string) *slog.Logger {
	return slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With(loggerNameKey, name)
}

var discordGoLogLevels = map[int]slog.Level{
	0: slog.LevelError,
	1: slog.LevelWarn,
	2: slog.LevelInfo,
	3: slog.LevelDebug,
}

// discordgoLoggerFunc bridges discordgo's printf-style logger into slog.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// logForwarder buffers log records and ships them to a remote collector
// (New Relic log API shape). Shipping is best-effort: collector failures
// are dropped and never block or fail the wrapped handler.
type logForwarder struct {
	endpoint   string
	licenseKey string
	httpClient *http.Client

	mu      sync.Mutex
	buffer  []map[string]any
	stop    chan struct{}
	stopped sync.Once
}

func newLogForwarder(config *LogForwarderConfig) *logForwarder {
	flushInterval := config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	f := &logForwarder{
		endpoint:   config.Endpoint,
		licenseKey: config.LicenseKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stop:       make(chan struct{}),
	}
	go f.flushLoop(flushInterval)
	return f
}

func (f *logForwarder) add(entry map[string]any) {
	f.mu.Lock()
	f.buffer = append(f.buffer, entry)
	f.mu.Unlock()
}

func (f *logForwarder) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			f.flush()
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *logForwarder) flush() {
	f.mu.Lock()
	pending := f.buffer
	f.buffer = nil
	f.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	payload, err := json.Marshal([]map[string]any{{"logs": pending}})
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", f.licenseKey)

	rsp, err := f.httpClient.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, rsp.Body)
	_ = rsp.Body.Close()
}

// Close flushes any buffered records and stops the flush loop.
func (f *logForwarder) Close() {
	f.stopped.Do(
		func() {
			close(f.stop)
		},
	)
}

// forwardingHandler is a slog.Handler that tees records to a shared
// logForwarder in addition to the wrapped handler. Handlers derived via
// WithAttrs/WithGroup share the parent's forwarder buffer.
type forwardingHandler struct {
	inner     slog.Handler
	forwarder *logForwarder
}

func newForwardingHandler(
	inner slog.Handler,
	forwarder *logForwarder,
) *forwardingHandler {
	return &forwardingHandler{inner: inner, forwarder: forwarder}
}

func (h *forwardingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *forwardingHandler) Handle(ctx context.Context, record slog.Record) error {
	entry := map[string]any{
		"timestamp": record.Time.UnixMilli(),
		"message":   record.Message,
		"level":     record.Level.String(),
	}
	record.Attrs(
		func(attr slog.Attr) bool {
			entry[attr.Key] = attr.Value.String()
			return true
		},
	)
	h.forwarder.add(entry)

	return h.inner.Handle(ctx, record)
}

func (h *forwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forwardingHandler{
		inner:     h.inner.WithAttrs(attrs),
		forwarder: h.forwarder,
	}
}

func (h *forwardingHandler) WithGroup(name string) slog.Handler {
	return &forwardingHandler{
		inner:     h.inner.WithGroup(name),
		forwarder: h.forwarder,
	}
}
