// Package digest computes fixed-size content fingerprints of files. Files are
// streamed through an incremental hash in bounded chunks so arbitrarily large
// files never have to fit in memory.
package digest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/live-index/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// DefaultChunkSize is the read unit used when none is configured.
const DefaultChunkSize = 64 * 1024

// Size is the length in bytes of every supported digest.
const Size = 32

// Digest is a 256-bit content fingerprint.
type Digest [Size]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Equal reports whether two digests are identical.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d[:], other[:])
}

var algorithms = map[string]func() (hash.Hash, error){
	"sha256": func() (hash.Hash, error) { return sha256.New(), nil },
	"sha512/256": func() (hash.Hash, error) {
		return sha512.New512_256(), nil
	},
	"blake2b-256": func() (hash.Hash, error) { return blake2b.New256(nil) },
}

// Engine hashes files with one algorithm and a fixed chunk size. It is safe
// for concurrent use; read buffers are pooled across calls.
type Engine struct {
	algorithm string
	newHash   func() (hash.Hash, error)
	chunkSize int
	buffers   sync.Pool
}

// New returns an Engine for the named algorithm. An unknown algorithm yields
// ErrDigestUnavailable.
func New(algorithm string, chunkSize int) (*Engine, error) {
	newHash, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrDigestUnavailable, algorithm)
	}
	h, err := newHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrDigestUnavailable, algorithm, err)
	}
	if h.Size() != Size {
		return nil, fmt.Errorf("%w: %s produces %d bytes", apperrors.ErrDigestUnavailable, algorithm, h.Size())
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	e := &Engine{
		algorithm: algorithm,
		newHash:   newHash,
		chunkSize: chunkSize,
	}
	e.buffers.New = func() any {
		buf := make([]byte, e.chunkSize)
		return &buf
	}
	return e, nil
}

// Algorithm returns the configured algorithm name.
func (e *Engine) Algorithm() string {
	return e.algorithm
}

// Sum digests the file at path. Cancellation of ctx is checked between
// chunks so an in-flight inspection can be abandoned.
func (e *Engine) Sum(ctx context.Context, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return e.SumReader(ctx, f)
}

// SumReader digests everything readable from r.
func (e *Engine) SumReader(ctx context.Context, r io.Reader) (Digest, error) {
	h, err := e.newHash()
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", apperrors.ErrDigestUnavailable, err)
	}
	bufp := e.buffers.Get().(*[]byte)
	defer e.buffers.Put(bufp)
	buf := *bufp

	for {
		if err := ctx.Err(); err != nil {
			return Digest{}, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Digest{}, fmt.Errorf("reading chunk: %w", readErr)
		}
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}
