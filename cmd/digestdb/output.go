package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"digestdb/internal/format"
	"digestdb/internal/models"
)

var (
	outputFormatter format.Formatter = format.JSONFormatter{}
	outputWriter    io.Writer        = os.Stdout
)

func writeStructured(payload any) error {
	return outputFormatter.Write(outputWriter, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(outputWriter, format, args...)
	return err
}

func writeRecordList(records []models.Record) error {
	for _, rec := range records {
		if err := writePlain("%s\n", formatRecordLine(rec)); err != nil {
			return err
		}
	}
	return nil
}

func formatRecordLine(rec models.Record) string {
	category := rec.Category
	if category == "" {
		category = "-"
	}
	return fmt.Sprintf("%s  %s  %d  %s", rec.Digest.Hex(), category, rec.SizeBytes, formatTime(rec.Timestamp))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
