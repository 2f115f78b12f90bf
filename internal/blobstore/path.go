package blobstore

import (
	"fmt"
	"path/filepath"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
)

// DefaultDepth spreads blobs over three directory levels, enough for billions
// of objects without exhausting per-directory limits.
const DefaultDepth = 3

// Path maps a digest to its sharded location relative to the data root.
//
// With depth 3 the digest 8fdd8b7d... maps to 8f/dd/8b/8fdd8b7d....
func Path(d digest.Digest, depth int) (string, error) {
	if len(d) == 0 {
		return "", fmt.Errorf("%w: digest is required", errs.ErrInvalidInput)
	}
	name := d.Hex()
	if err := ValidateDepth(depth, len(d)); err != nil {
		return "", err
	}

	parts := make([]string, 0, depth+1)
	for i := 0; i < depth*2; i += 2 {
		parts = append(parts, name[i:i+2])
	}
	parts = append(parts, name)
	return filepath.Join(parts...), nil
}

// ValidateDepth checks depth against a digest of digestSize bytes. Each level
// consumes one byte (two hex characters) of the digest.
func ValidateDepth(depth, digestSize int) error {
	if depth < 1 {
		return fmt.Errorf("%w: shard depth must be a positive integer, got %d", errs.ErrInvalidConfiguration, depth)
	}
	if depth > digestSize {
		return fmt.Errorf("%w: shard depth %d exceeds %d-byte digest", errs.ErrInvalidConfiguration, depth, digestSize)
	}
	return nil
}
