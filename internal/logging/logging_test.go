package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTo_TextFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	log := NewTo(&buf)
	log.Info("hidden")
	log.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "k=v") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	if _, ok := LoggerFromContext(context.Background()); ok {
		t.Error("empty context should carry no logger")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext should fall back to slog.Default")
	}

	l := Discard()
	ctx := WithLogger(context.Background(), l)
	got, ok := LoggerFromContext(ctx)
	if !ok || got != l {
		t.Error("LoggerFromContext should return the stored logger")
	}
	if FromContext(ctx) != l {
		t.Error("FromContext should return the stored logger")
	}
}
