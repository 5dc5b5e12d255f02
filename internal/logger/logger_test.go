package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q)=%v want %v", tt.in, got, tt.out)
		}
	}
}

func TestWithContext_CarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = newLogger(&buf, "info", "json")
	defer func() { defaultLogger = prev }()

	ctx := ContextWith(context.Background(), "request_id", "req-1")
	ctx = ContextWith(ctx, "entity_id", "org_1")
	WithContext(ctx).Info("checkout created")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json line, got %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" || line["entity_id"] != "org_1" || line["msg"] != "checkout created" {
		t.Fatalf("unexpected log line %v", line)
	}

	buf.Reset()
	WithContext(context.Background()).Info("bare")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("background context should carry no attributes: %s", buf.String())
	}
}

func TestContextWith_DoesNotLeakBetweenBranches(t *testing.T) {
	base := ContextWith(context.Background(), "a", 1)
	left := ContextWith(base, "b", 2)
	right := ContextWith(base, "c", 3)

	l, _ := left.Value(attrsKey{}).([]any)
	r, _ := right.Value(attrsKey{}).([]any)
	if len(l) != 4 || len(r) != 4 || r[2] != "c" {
		t.Fatalf("branches interfered: %v %v", l, r)
	}
	if ContextWith(base) != base {
		t.Fatal("no args should return ctx unchanged")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = newLogger(&buf, "warn", "text")
	defer func() { defaultLogger = prev }()

	Info("hidden")
	Debug("hidden")
	Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestStripeLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = newLogger(&buf, "debug", "text")
	defer func() { defaultLogger = prev }()

	l := NewStripeLogger()
	l.Debugf("request %s", "GET /v1/customers")
	l.Errorf("failed: %v", "boom")
	out := buf.String()
	if !strings.Contains(out, "component=stripe") || !strings.Contains(out, "GET /v1/customers") || !strings.Contains(out, "failed: boom") {
		t.Fatalf("unexpected output %q", out)
	}
}
