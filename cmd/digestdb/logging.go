package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"digestdb/internal/config"
)

const (
	logLevelEnvKey  = "DIGESTDB_LOG_LEVEL"
	logFormatEnvKey = "DIGESTDB_LOG_FORMAT"
)

type logSource int

const (
	fromDefault logSource = iota
	fromFlag
	fromEnv
	fromConfig
)

// logChoice is a raw logging setting and where it came from.
type logChoice struct {
	raw    string
	source logSource
}

// pickLogChoice takes the first non-blank value in flag, env, config order.
func pickLogChoice(flagValue, envValue, configValue string) logChoice {
	switch {
	case strings.TrimSpace(flagValue) != "":
		return logChoice{raw: flagValue, source: fromFlag}
	case strings.TrimSpace(envValue) != "":
		return logChoice{raw: envValue, source: fromEnv}
	case strings.TrimSpace(configValue) != "":
		return logChoice{raw: configValue, source: fromConfig}
	}
	return logChoice{source: fromDefault}
}

type logFlags struct {
	level  string
	format string
}

// logSetup is the logging resolved for one command run.
type logSetup struct {
	level    slog.Level
	format   string
	warnings []string
}

// resolveLogging settles level and format. A bad flag value fails the command;
// a bad env or config value falls back to the default with a warning.
func resolveLogging(flags logFlags, cfg *config.Config) (logSetup, error) {
	setup := logSetup{level: slog.LevelInfo, format: config.DefaultLogFormat}

	levelChoice := pickLogChoice(flags.level, os.Getenv(logLevelEnvKey), cfg.LogLevel)
	level, err := parseLogLevel(levelChoice.raw)
	switch {
	case err == nil:
		setup.level = level
	case levelChoice.source == fromFlag:
		return logSetup{}, fmt.Errorf("invalid --log-level %q", flags.level)
	default:
		setup.warnings = append(setup.warnings, fallbackWarning(levelChoice, logLevelEnvKey, "log_level", config.DefaultLogLevel))
	}

	formatChoice := pickLogChoice(flags.format, os.Getenv(logFormatEnvKey), cfg.LogFormat)
	format, err := parseLogFormat(formatChoice.raw)
	switch {
	case err == nil:
		setup.format = format
	case formatChoice.source == fromFlag:
		return logSetup{}, fmt.Errorf("invalid --log-format %q (want text or json)", flags.format)
	default:
		setup.warnings = append(setup.warnings, fallbackWarning(formatChoice, logFormatEnvKey, "log_format", config.DefaultLogFormat))
	}

	return setup, nil
}

func fallbackWarning(choice logChoice, envKey, configKey, fallback string) string {
	origin := configKey
	if choice.source == fromEnv {
		origin = envKey
	}
	return fmt.Sprintf("warning: invalid %s=%q; defaulting to %s", origin, choice.raw, fallback)
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = config.DefaultLogLevel
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func parseLogFormat(raw string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return config.DefaultLogFormat, nil
	case "text", "json":
		return value, nil
	}
	return "", fmt.Errorf("invalid log format %q", raw)
}

// installLogger makes the resolved logger the process default. Records carry
// the command path so interleaved runs in one log file stay attributable.
func installLogger(w io.Writer, setup logSetup, command string) {
	slog.SetDefault(newLogger(w, setup, command))
}

func newLogger(w io.Writer, setup logSetup, command string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: setup.level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if setup.format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	if command != "" {
		logger = logger.With("command", command)
	}
	return logger
}
