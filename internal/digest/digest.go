package digest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"digestdb/internal/errs"
)

// DefaultChunkSize is the read size used when streaming content into a hash.
const DefaultChunkSize = 1 << 20

// Digest is the binary hash of an object's bytes.
type Digest []byte

// Hex returns the lowercase hexadecimal form used for file names.
func (d Digest) Hex() string {
	return hex.EncodeToString(d)
}

func (d Digest) String() string {
	return d.Hex()
}

// MarshalText renders the digest as hex in JSON and YAML output.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText parses a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Equal reports whether two digests hold the same bytes.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// ParseHex decodes a hexadecimal digest. Surrounding whitespace is ignored and
// upper case is accepted.
func ParseHex(s string) (Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, fmt.Errorf("%w: digest is required", errs.ErrInvalidInput)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: digest %q is not hexadecimal", errs.ErrInvalidInput, s)
	}
	return Digest(raw), nil
}

// Calculator hashes data with one named algorithm.
type Calculator struct {
	name      string
	newHash   func() hash.Hash
	size      int
	chunkSize int
}

// New returns a calculator for the named algorithm.
func New(name string) (*Calculator, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultAlgorithm
	}
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown hash algorithm %q (supported: %s)",
			errs.ErrInvalidConfiguration, name, strings.Join(Algorithms(), ", "))
	}
	return &Calculator{
		name:      name,
		newHash:   factory,
		size:      factory().Size(),
		chunkSize: DefaultChunkSize,
	}, nil
}

// WithChunkSize returns a copy of c that streams in chunks of n bytes.
func (c *Calculator) WithChunkSize(n int) (*Calculator, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", errs.ErrInvalidConfiguration, n)
	}
	out := *c
	out.chunkSize = n
	return &out, nil
}

// Name returns the canonical algorithm name.
func (c *Calculator) Name() string { return c.name }

// Size returns the digest length in bytes.
func (c *Calculator) Size() int { return c.size }

// ChunkSize returns the streaming read size.
func (c *Calculator) ChunkSize() int { return c.chunkSize }

// NewHash returns a fresh accumulator for incremental hashing.
func (c *Calculator) NewHash() hash.Hash { return c.newHash() }

// Sum hashes an in-memory byte sequence.
func (c *Calculator) Sum(data []byte) Digest {
	h := c.newHash()
	h.Write(data)
	return Digest(h.Sum(nil))
}

// SumReader hashes r in bounded chunks and returns the digest along with the
// number of bytes consumed.
func (c *Calculator) SumReader(r io.Reader) (Digest, int64, error) {
	if r == nil {
		return nil, 0, fmt.Errorf("%w: reader is required", errs.ErrInvalidInput)
	}
	h := c.newHash()
	buf := make([]byte, c.chunkSize)
	n, err := io.CopyBuffer(h, onlyReader{r}, buf)
	if err != nil {
		return nil, n, err
	}
	return Digest(h.Sum(nil)), n, nil
}

// SumFile hashes the contents of the file at path. A missing file is
// errs.ErrNotFound; any other open or read failure is errs.ErrIO.
func (c *Calculator) SumFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	defer f.Close()

	d, _, err := c.SumReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errs.ErrIO, path, err)
	}
	return d, nil
}

// Check reports whether d has the length this algorithm produces.
func (c *Calculator) Check(d Digest) error {
	if len(d) != c.size {
		return fmt.Errorf("%w: %s digest must be %d bytes, got %d", errs.ErrInvalidInput, c.name, c.size, len(d))
	}
	return nil
}

// onlyReader hides WriterTo/ReaderFrom so CopyBuffer honors the chunk size.
type onlyReader struct {
	io.Reader
}
