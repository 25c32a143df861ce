package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/chimera-factory/chimera/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	log, closer := New(config.Logging{Level: "debug", Service: "test"})
	defer closer.Close()
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	log.Debug("hello")
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("expected empty request ID on fresh context")
	}
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithCampaignID(ctx, "camp-1")
	if RequestID(ctx) != "req-1" {
		t.Errorf("got %q", RequestID(ctx))
	}
	if CampaignID(ctx) != "camp-1" {
		t.Errorf("got %q", CampaignID(ctx))
	}
}
