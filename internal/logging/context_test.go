package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, Command(ctx))
	assert.Empty(t, Transport(ctx))

	ctx = WithIDs(ctx, "req-1", "eval")
	ctx = WithTransport(ctx, "stdio")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "eval", Command(ctx))
	assert.Equal(t, "stdio", Transport(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "req-7", "get_names")
	LogWith(ctx, logger).Info("handled")

	output := buf.String()
	assert.Contains(t, output, "request_id=req-7")
	assert.Contains(t, output, "command=get_names")
	assert.NotContains(t, output, "transport")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "request_id")
	assert.NotContains(t, output, "command")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "all values",
			ctx:  WithTransport(WithIDs(context.Background(), "req-a", "eval"), "mcp"),
			want: []string{`"request_id":"req-a"`, `"command":"eval"`, `"transport":"mcp"`},
		},
		{
			name:    "request only",
			ctx:     WithRequestID(context.Background(), "req-b"),
			want:    []string{`"request_id":"req-b"`},
			notWant: []string{"command", "transport"},
		},
		{
			name:    "empty",
			ctx:     context.Background(),
			notWant: []string{"request_id", "command", "transport"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
			slog.New(NewCorrelationHandler(inner)).InfoContext(tt.ctx, "line")

			output := buf.String()
			assert.Contains(t, output, "line")
			for _, s := range tt.want {
				assert.Contains(t, output, s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, output, s)
			}
		})
	}
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "protocol")}).WithGroup("req"))

	ctx := WithRequestID(context.Background(), "req-g")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, `"component":"protocol"`)
	assert.Contains(t, output, "req-g")
	assert.Contains(t, output, "grouped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "json")
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "req-n")
	logger.InfoContext(ctx, "dropped")
	logger.WarnContext(ctx, "kept")

	output := buf.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, `"request_id":"req-n"`)

	_, err = New(&buf, "info", "xml")
	assert.Error(t, err)
	_, err = New(&buf, "chatty", "text")
	assert.Error(t, err)
}
