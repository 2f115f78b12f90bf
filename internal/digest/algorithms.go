package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = "sha256"

var algorithms = map[string]func() hash.Hash{
	"md5":         md5.New,
	"sha1":        sha1.New,
	"sha256":      sha256.New,
	"sha512":      sha512.New,
	"sha3-256":    sha3.New256,
	"sha3-512":    sha3.New512,
	"blake2b-256": mustBlake2b(blake2b.New256),
	"blake2b-512": mustBlake2b(blake2b.New512),
	"blake3":      func() hash.Hash { return blake3.New() },
}

// Algorithms returns the supported algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether name is a known algorithm.
func Supported(name string) bool {
	_, ok := lookup(strings.ToLower(strings.TrimSpace(name)))
	return ok
}

func lookup(name string) (func() hash.Hash, bool) {
	factory, ok := algorithms[name]
	return factory, ok
}

// blake2b constructors only fail for oversized keys; no key is passed here.
func mustBlake2b(ctor func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := ctor(nil)
		if err != nil {
			panic("digest: blake2b init: " + err.Error())
		}
		return h
	}
}
