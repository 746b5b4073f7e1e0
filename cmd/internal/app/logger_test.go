package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogHandler_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf, prettyBuf bytes.Buffer
	slog.New(newLogHandler(&jsonBuf, "debug", "json", false)).Info("session.create", "session", "alice")
	slog.New(newLogHandler(&prettyBuf, "debug", "PRETTY", true)).Info("session.create", "session", "alice")

	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not decodable: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "session.create" || rec["session"] != "alice" {
		t.Fatalf("json record=%v", rec)
	}

	line := stripANSI(prettyBuf.String())
	if !strings.Contains(line, "INFO  session.create [alice]") {
		t.Fatalf("pretty line=%q", line)
	}
}

func TestNewLogHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newLogHandler(&buf, "warn", "pretty", false))
	log.Info("dropped")
	log.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("output=%q", buf.String())
	}
}
