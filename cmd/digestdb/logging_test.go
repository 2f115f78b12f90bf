package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"digestdb/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    slog.Level
		wantErr bool
	}{
		{name: "default info", raw: "", want: slog.LevelInfo},
		{name: "debug", raw: "debug", want: slog.LevelDebug},
		{name: "info", raw: "info", want: slog.LevelInfo},
		{name: "warn", raw: "warn", want: slog.LevelWarn},
		{name: "warning alias", raw: "warning", want: slog.LevelWarn},
		{name: "error", raw: "error", want: slog.LevelError},
		{name: "numeric", raw: "-4", want: slog.LevelDebug},
		{name: "invalid", raw: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse level: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	for raw, want := range map[string]string{"": "text", "text": "text", " JSON ": "json"} {
		got, err := parseLogFormat(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: expected %q, got %q (%v)", raw, want, got, err)
		}
	}
	if _, err := parseLogFormat("logfmt"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPickLogChoice(t *testing.T) {
	tests := []struct {
		name                string
		flag, env, fromFile string
		want                logChoice
	}{
		{name: "flag wins", flag: "debug", env: "error", fromFile: "warn", want: logChoice{raw: "debug", source: fromFlag}},
		{name: "env next", env: "warn", fromFile: "info", want: logChoice{raw: "warn", source: fromEnv}},
		{name: "config last", fromFile: "error", want: logChoice{raw: "error", source: fromConfig}},
		{name: "blank flag ignored", flag: "  ", fromFile: "error", want: logChoice{raw: "error", source: fromConfig}},
		{name: "nothing set", want: logChoice{source: fromDefault}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickLogChoice(tt.flag, tt.env, tt.fromFile); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestResolveLogging(t *testing.T) {
	t.Run("flag overrides invalid env", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "invalid")
		t.Setenv(logFormatEnvKey, "")
		cfg := config.Default()
		setup, err := resolveLogging(logFlags{level: "debug"}, &cfg)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if setup.level != slog.LevelDebug || len(setup.warnings) != 0 {
			t.Fatalf("unexpected setup %+v", setup)
		}
	})

	t.Run("invalid flags fail", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "")
		t.Setenv(logFormatEnvKey, "")
		cfg := config.Default()
		if _, err := resolveLogging(logFlags{level: "verbose"}, &cfg); err == nil || !strings.Contains(err.Error(), "--log-level") {
			t.Fatalf("expected --log-level error, got %v", err)
		}
		if _, err := resolveLogging(logFlags{format: "xml"}, &cfg); err == nil || !strings.Contains(err.Error(), "--log-format") {
			t.Fatalf("expected --log-format error, got %v", err)
		}
	})

	t.Run("invalid env warns with key and falls back", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "loud")
		t.Setenv(logFormatEnvKey, "xml")
		cfg := config.Default()
		setup, err := resolveLogging(logFlags{}, &cfg)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if setup.level != slog.LevelInfo || setup.format != "text" {
			t.Fatalf("expected info/text fallback, got %+v", setup)
		}
		joined := strings.Join(setup.warnings, "\n")
		if !strings.Contains(joined, `DIGESTDB_LOG_LEVEL="loud"; defaulting to info`) {
			t.Fatalf("expected level warning naming env key, got %q", joined)
		}
		if !strings.Contains(joined, `DIGESTDB_LOG_FORMAT="xml"; defaulting to text`) {
			t.Fatalf("expected format warning naming env key, got %q", joined)
		}
	})

	t.Run("invalid config warns with key and falls back", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "")
		t.Setenv(logFormatEnvKey, "")
		cfg := config.Default()
		cfg.LogLevel = "verbose"
		cfg.LogFormat = "json"
		setup, err := resolveLogging(logFlags{}, &cfg)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(setup.warnings) != 1 || !strings.Contains(setup.warnings[0], `invalid log_level="verbose"`) {
			t.Fatalf("expected config warning, got %q", setup.warnings)
		}
		if setup.format != "json" {
			t.Fatalf("expected valid config format to apply, got %q", setup.format)
		}
	})
}

func TestInstallLoggerTagsCommand(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	installLogger(&buf, logSetup{level: slog.LevelWarn, format: "json"}, "digestdb put")

	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info to be filtered at warn level")
	}
	slog.Warn("orphaned blob", "digest", "abcd")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if record["command"] != "digestdb put" || record["msg"] != "orphaned blob" || record["digest"] != "abcd" {
		t.Fatalf("unexpected record %v", record)
	}

	buf.Reset()
	installLogger(&buf, logSetup{level: slog.LevelInfo, format: "text"}, "digestdb audit")
	slog.Info("audit finished")
	if !strings.Contains(buf.String(), `command="digestdb audit"`) || !strings.Contains(buf.String(), "msg=\"audit finished\"") {
		t.Fatalf("unexpected text record %q", buf.String())
	}
}
