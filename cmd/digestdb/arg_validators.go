package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
)

func requireAtLeastArgs(min int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min {
			return errors.New(message)
		}
		return nil
	}
}

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != count {
			return errors.New(message)
		}
		return nil
	}
}

func requireAtLeastOneDigest(cmd *cobra.Command, args []string) error {
	return requireAtLeastArgs(1, "digest is required")(cmd, args)
}

func parseDigests(args []string) ([]digest.Digest, error) {
	out := make([]digest.Digest, 0, len(args))
	for _, arg := range args {
		d, err := digest.ParseHex(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// parseTimestamp accepts RFC 3339 or a plain date. Empty means zero.
func parseTimestamp(flag, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: --%s must be RFC 3339 or YYYY-MM-DD, got %q", errs.ErrInvalidInput, flag, raw)
}

func optionalTimestamp(flag, raw string) (*time.Time, error) {
	ts, err := parseTimestamp(flag, raw)
	if err != nil || ts.IsZero() {
		return nil, err
	}
	return &ts, nil
}
