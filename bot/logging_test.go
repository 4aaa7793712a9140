package bot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardingHandlerShipsRecords(t *testing.T) {
	received := make(chan []map[string]any, 1)
	server := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "test-license", r.Header.Get("Api-Key"))
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)

				var payload []map[string]any
				require.NoError(t, json.Unmarshal(body, &payload))
				require.Len(t, payload, 1)

				logs, ok := payload[0]["logs"].([]any)
				require.True(t, ok)
				entries := make([]map[string]any, 0, len(logs))
				for _, entry := range logs {
					entries = append(entries, entry.(map[string]any))
				}
				received <- entries
				w.WriteHeader(http.StatusAccepted)
			},
		),
	)
	t.Cleanup(server.Close)

	forwarder := newLogForwarder(
		&LogForwarderConfig{
			Enabled:       true,
			Endpoint:      server.URL,
			LicenseKey:    "test-license",
			FlushInterval: 20 * time.Millisecond,
		},
	)
	t.Cleanup(forwarder.Close)

	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(newForwardingHandler(inner, forwarder))
	logger.Info("guild sync completed", "guild_id", "g1")

	select {
	case entries := <-received:
		require.Len(t, entries, 1)
		assert.Equal(t, "guild sync completed", entries[0]["message"])
		assert.Equal(t, "INFO", entries[0]["level"])
		assert.Equal(t, "g1", entries[0]["guild_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected the forwarder to flush")
	}
}

func TestForwardingHandlerDerivedHandlersShareBuffer(t *testing.T) {
	forwarder := &logForwarder{stop: make(chan struct{})}
	t.Cleanup(forwarder.Close)

	inner := slog.NewTextHandler(io.Discard, nil)
	base := newForwardingHandler(inner, forwarder)

	// records logged through WithAttrs/WithGroup children land in the same
	// buffer as the parent's
	withAttrs := base.WithAttrs([]slog.Attr{slog.String("component", "x")})
	withGroup := base.WithGroup("grp")

	ctx := context.Background()
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	require.NoError(t, base.Handle(ctx, record))
	require.NoError(t, withAttrs.Handle(ctx, record))
	require.NoError(t, withGroup.Handle(ctx, record))

	forwarder.mu.Lock()
	defer forwarder.mu.Unlock()
	assert.Len(t, forwarder.buffer, 3)
}

func TestForwarderCloseIdempotent(t *testing.T) {
	forwarder := newLogForwarder(
		&LogForwarderConfig{FlushInterval: time.Hour},
	)
	assert.NotPanics(
		t, func() {
			forwarder.Close()
			forwarder.Close()
		},
	)
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	var records []slog.Record
	handler := &captureHandler{records: &records}

	logFunc := discordgoLoggerFunc(context.Background(), handler)
	logFunc(0, 0, "error: %s", "boom")
	logFunc(2, 0, "multi\nline\nmessage")
	logFunc(99, 0, "unknown level")

	require.Len(t, records, 3)
	assert.Equal(t, slog.LevelError, records[0].Level)
	assert.Equal(t, "error: boom", records[0].Message)
	assert.Equal(t, slog.LevelInfo, records[1].Level)
	assert.Equal(t, "multilinemessage", records[1].Message)
	assert.Equal(t, slog.LevelInfo, records[2].Level)
}

type captureHandler struct {
	records *[]slog.Record
}

func (c *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	*c.records = append(*c.records, r)
	return nil
}

func (c *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return c }

func (c *captureHandler) WithGroup(string) slog.Handler { return c }
