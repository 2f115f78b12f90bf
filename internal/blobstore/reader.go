package blobstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
)

// ChunkReader yields a blob's bytes in bounded chunks. It is single pass:
// once exhausted or closed, reading again requires a new Open.
type ChunkReader struct {
	ctx  context.Context
	f    *os.File
	buf  []byte
	size int64
	done bool
}

func newChunkReader(ctx context.Context, f *os.File, size int64, chunkSize int) *ChunkReader {
	return &ChunkReader{ctx: ctx, f: f, buf: make([]byte, chunkSize), size: size}
}

// Size is the blob size at the time it was opened.
func (r *ChunkReader) Size() int64 { return r.size }

// Next returns the next chunk, or io.EOF after the last one. The returned
// slice is only valid until the following call.
func (r *ChunkReader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		r.finish()
		return nil, err
	}
	n, err := io.ReadFull(r.f, r.buf)
	switch {
	case err == nil:
		return r.buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.finish()
		return r.buf[:n], nil
	case errors.Is(err, io.EOF):
		r.finish()
		return nil, io.EOF
	default:
		r.finish()
		return nil, err
	}
}

// All ranges over the remaining chunks. A read error is yielded once and ends
// the sequence. The file is closed when the sequence ends.
func (r *ChunkReader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer r.Close()
		for {
			chunk, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Read implements io.Reader so a ChunkReader can be copied to a writer.
func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		r.finish()
		return 0, err
	}
	n, err := r.f.Read(p)
	if err != nil {
		r.finish()
	}
	return n, err
}

// ReadAll concatenates the remaining chunks.
func (r *ChunkReader) ReadAll() ([]byte, error) {
	out := make([]byte, 0, r.size)
	for chunk, err := range r.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Close releases the underlying file. It is safe to call more than once.
func (r *ChunkReader) Close() error {
	if r.f == nil {
		return nil
	}
	r.done = true
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *ChunkReader) finish() {
	r.done = true
	_ = r.Close()
}
