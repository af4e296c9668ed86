package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// capture routes the global logger into a JSON buffer for the duration of
// the test.
func capture(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	prev, prevDefault := Logger, slog.Default()
	t.Cleanup(func() {
		Logger = prev
		slog.SetDefault(prevDefault)
	})
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("Unmarshal(%q): %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLevels(t *testing.T) {
	buf := capture(t, slog.LevelInfo)
	Debug("hidden")
	Info("shown", "n", 1)
	Warn("careful")
	Error("broken")

	recs := records(t, buf)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3: %s", len(recs), buf)
	}
	for i, want := range []string{"shown", "careful", "broken"} {
		if recs[i]["msg"] != want {
			t.Errorf("record %d: msg %v, want %s", i, recs[i]["msg"], want)
		}
	}
}

func TestComponentAndWith(t *testing.T) {
	buf := capture(t, slog.LevelDebug)
	Component("tree").Debug("initialized")
	With("sample", "ttbar").Info("done")

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0]["component"] != "tree" {
		t.Errorf("component = %v", recs[0]["component"])
	}
	if recs[1]["sample"] != "ttbar" {
		t.Errorf("sample = %v", recs[1]["sample"])
	}
}

func TestWithContext(t *testing.T) {
	buf := capture(t, slog.LevelInfo)
	ctx := ContextWithEvent(ContextWithSystematic(ContextWithSample(context.Background(), "ttbar"), "JET_JER__1up"), 42)
	WithContext(ctx).Info("fill failed")
	WithContext(context.Background()).Info("bare")

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0]["sample"] != "ttbar" || recs[0]["systematic"] != "JET_JER__1up" || recs[0]["event"] != float64(42) {
		t.Errorf("context attributes missing: %v", recs[0])
	}
	if _, ok := recs[1]["sample"]; ok {
		t.Errorf("empty context added a sample: %v", recs[1])
	}
}
