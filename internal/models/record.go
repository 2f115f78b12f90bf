package models

import (
	"time"

	"digestdb/internal/digest"
)

// Record is the index-side metadata row for one stored blob.
type Record struct {
	Digest    digest.Digest `json:"digest" yaml:"digest"`
	Category  string        `json:"category" yaml:"category"`
	SizeBytes int64         `json:"size_bytes" yaml:"size_bytes"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
}
