package blobstore

import (
	"context"
	"io"

	"digestdb/internal/digest"
)

// Entry describes one leaf found while walking the data tree.
type Entry struct {
	Digest    digest.Digest
	RelPath   string
	SizeBytes int64
	// Stray is set when the leaf name is not a digest or the leaf does not sit
	// at the path derived from its name. Digest is nil for non-hex names.
	Stray bool
}

// BlobStore is the byte-storage abstraction used by the engine.
type BlobStore interface {
	Write(ctx context.Context, d digest.Digest, data []byte) error
	WriteFrom(ctx context.Context, r io.Reader, calc *digest.Calculator) (digest.Digest, int64, error)
	Open(ctx context.Context, d digest.Digest, chunkSize int) (*ChunkReader, error)
	Stat(ctx context.Context, d digest.Digest) (int64, error)
	Exists(ctx context.Context, d digest.Digest) (bool, error)
	Delete(ctx context.Context, d digest.Digest) error
	Walk(ctx context.Context, fn func(Entry) error) error
}

var _ BlobStore = (*Local)(nil)
