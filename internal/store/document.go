// ABOUTME: Generic cached JSON document store over a Backend, keyed by content fingerprint
// ABOUTME: Serializes load-mutate-save cycles and repairs unreadable documents to a fresh value

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/jsonc"
)

// absentVersion marks a cache entry built because the document did not exist
const absentVersion = "absent"

// Options configures a DocumentStore
type Options[T any] struct {
	// Name is the document name passed to the Backend (e.g. "config")
	Name string

	// Fresh builds the document used when nothing valid is stored
	Fresh func() T

	// Normalize repairs a freshly parsed document in place. Optional.
	Normalize func(*T)

	// Clone returns a deep copy. Every value handed out is a clone so callers
	// never share mutable state with the cache.
	Clone func(T) T
}

// DocumentStore caches one JSON document. A load only parses the stored bytes
// when their fingerprint differs from the cached one.
type DocumentStore[T any] struct {
	backend Backend
	opts    Options[T]
	logger  *slog.Logger

	mu      sync.Mutex
	cached  T
	version string
	loaded  bool
}

// NewDocumentStore creates a store for the named document on backend
func NewDocumentStore[T any](backend Backend, opts Options[T]) *DocumentStore[T] {
	return &DocumentStore[T]{
		backend: backend,
		opts:    opts,
		logger:  slog.Default().With("component", "store", "document", opts.Name),
	}
}

// Load returns a copy of the current document. It never fails: a missing,
// unreadable or corrupt document yields the fresh value.
func (s *DocumentStore[T]) Load(ctx context.Context) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Clone(s.load(ctx))
}

// Save replaces the stored document. On failure the cache keeps the previous
// value and the returned error wraps ErrIO.
func (s *DocumentStore[T]) Save(ctx context.Context, doc T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, s.opts.Clone(doc))
}

// Update runs fn on a private copy of the current document and saves the
// result, all under the store lock. If fn returns ErrUnchanged nothing is
// written and Update returns nil; any other error from fn aborts the save and
// is returned as-is.
func (s *DocumentStore[T]) Update(ctx context.Context, fn func(doc *T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.opts.Clone(s.load(ctx))
	if err := fn(&working); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	return s.save(ctx, working)
}

// Version returns the fingerprint of the cached document, or "" before the
// first successful load.
func (s *DocumentStore[T]) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// load returns the cached document, refreshing it from the backend when the
// stored fingerprint has moved. Caller holds s.mu.
func (s *DocumentStore[T]) load(ctx context.Context) T {
	data, version, err := s.backend.Read(ctx, s.opts.Name)
	switch {
	case errors.Is(err, ErrNoDocument):
		if !s.loaded || s.version != absentVersion {
			s.logger.Info("document does not exist yet, starting fresh")
			s.setCache(s.opts.Fresh(), absentVersion)
		}
		return s.cached

	case err != nil:
		// Not cached: the next load retries the read. A save made from this
		// fresh value would overwrite whatever is stored.
		s.logger.Warn("document unreadable, using fresh value; saving now would discard stored data",
			"error", err)
		return s.opts.Fresh()
	}

	if s.loaded && version == s.version {
		return s.cached
	}

	doc, err := s.parse(data)
	if err != nil {
		// Cached under the corrupt version so the warning is logged once per edit
		s.logger.Warn("document corrupt, using fresh value; the next save will discard stored data",
			"error", err, "bytes", len(data))
		s.setCache(s.opts.Fresh(), version)
		return s.cached
	}

	s.setCache(doc, version)
	return s.cached
}

func (s *DocumentStore[T]) parse(data []byte) (T, error) {
	var doc T
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, errors.New("empty document")
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return doc, fmt.Errorf("parsing %s: %w", s.opts.Name, err)
	}
	if s.opts.Normalize != nil {
		s.opts.Normalize(&doc)
	}
	return doc, nil
}

// save writes doc and installs it as the cache. Caller holds s.mu.
func (s *DocumentStore[T]) save(ctx context.Context, doc T) error {
	data, err := Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrIO, s.opts.Name, err)
	}

	version, err := s.backend.Write(ctx, s.opts.Name, data)
	if err != nil {
		s.logger.Error("failed to save document", "error", err)
		return fmt.Errorf("%w: saving %s: %v", ErrIO, s.opts.Name, err)
	}

	s.setCache(doc, version)
	return nil
}

func (s *DocumentStore[T]) setCache(doc T, version string) {
	s.cached = doc
	s.version = version
	s.loaded = true
}

// Marshal encodes v as two-space indented JSON without HTML escaping, the
// on-disk format of every document.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
