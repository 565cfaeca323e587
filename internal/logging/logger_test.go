package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/docindex/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_JSONWithContextFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	lg, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDocumentID(ctx, "doc-42")
	lg.Info(ctx, "index committed", zap.Int("version", 3))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "index committed", lines[0]["msg"])
	assert.Equal(t, "req-1", lines[0]["request.id"])
	assert.Equal(t, "doc-42", lines[0]["document.id"])
	assert.Equal(t, "docindex", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["version"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	cfg.Sampling.Enabled = false
	lg, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)

	ctx := context.Background()
	lg.Debug(ctx, "hidden")
	lg.Info(ctx, "hidden too")
	lg.Warn(ctx, "shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.False(t, lg.Enabled(zapcore.InfoLevel))
}

func TestNewLogger_TraceLevelEncoding(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Sampling.Enabled = false
	lg, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)

	lg.Trace(context.Background(), "batch detail")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console", Sampling: false})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = FromAppConfig(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl := NewTestLogger()
	tl.Info(ctx, "query served")
	tl.AssertField(t, "query served", "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
	tl.AssertField(t, "query served", "span_id", "00f067aa0ba902b7")
}

func TestWithRequestID_RejectsInvalid(t *testing.T) {
	ctx := WithRequestID(context.Background(), "bad id with spaces")
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), strings.Repeat("a", maxIDLen+1))
	assert.Empty(t, RequestIDFromContext(ctx))

	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored logger")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored logger")
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "config loaded", Secret("api_key", config.Secret("sk-123456")))
	tl.AssertField(t, "config loaded", "api_key", "[REDACTED:9]")
}
