// ABOUTME: Backend interface for whole-document persistence plus file and memory implementations
// ABOUTME: Every read and write reports a BLAKE3 content fingerprint used as the cache version

package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// Backend stores named documents as opaque byte blobs. Writes replace the
// whole document; there are no partial or append writes.
type Backend interface {
	// Read returns the stored bytes and their version. Returns ErrNoDocument
	// if the document was never written.
	Read(ctx context.Context, name string) (data []byte, version string, err error)

	// Write replaces the document and returns the version of the new bytes.
	Write(ctx context.Context, name string, data []byte) (version string, err error)

	// Close releases any resources held by the backend
	Close() error
}

// Fingerprint returns the hex BLAKE3 digest of data. Two reads that return
// the same fingerprint are guaranteed to decode to the same document.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileBackend keeps each document in <dir>/<name>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file path backing the named document
func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

// Read implements Backend
func (b *FileBackend) Read(ctx context.Context, name string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(b.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNoDocument
		}
		return nil, "", fmt.Errorf("reading %s: %w", name, err)
	}
	return data, Fingerprint(data), nil
}

// Write implements Backend. The document is written to a temp file in the
// same directory and renamed over the target so readers never see a torn file.
func (b *FileBackend) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp(b.dir, name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, b.Path(name)); err != nil {
		return "", fmt.Errorf("renaming %s into place: %w", name, err)
	}

	success = true
	return Fingerprint(data), nil
}

// Close implements Backend
func (b *FileBackend) Close() error {
	return nil
}

// MemoryBackend keeps documents in process memory. Used by tests and by
// anything that needs a store without touching the filesystem.
type MemoryBackend struct {
	mu       sync.Mutex
	docs     map[string][]byte
	writeErr error
	writes   int
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

// Read implements Backend
func (b *MemoryBackend) Read(_ context.Context, name string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.docs[name]
	if !ok {
		return nil, "", ErrNoDocument
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, Fingerprint(out), nil
}

// Write implements Backend
func (b *MemoryBackend) Write(_ context.Context, name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeErr != nil {
		return "", b.writeErr
	}
	b.writes++
	stored := make([]byte, len(data))
	copy(stored, data)
	b.docs[name] = stored
	return Fingerprint(stored), nil
}

// Put replaces a document out of band, as an external editor would
func (b *MemoryBackend) Put(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	b.docs[name] = stored
}

// Get returns the raw stored bytes of a document
func (b *MemoryBackend) Get(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.docs[name]
	return data, ok
}

// FailWrites makes every subsequent Write return err. Pass nil to recover.
func (b *MemoryBackend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Writes returns the number of successful writes
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Close implements Backend
func (b *MemoryBackend) Close() error {
	return nil
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
