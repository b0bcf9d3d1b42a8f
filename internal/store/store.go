package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const filePermissions = 0o600

// Store persists the cache Document as a single JSON file. The file is the
// only authority: every Load reads it from disk, and every write replaces it
// whole.
//
// Loads and saves are serialised with a mutex. Writers that depend on the
// current content should use Update so that the read and the write happen
// under the same lock.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store backed by the file at path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current document. It never fails: a missing file gives an
// empty document, and unreadable or malformed content is logged and treated
// as empty.
func (s *Store) Load(ctx context.Context) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx)
}

// Save replaces the persisted document. Failure to persist is logged and the
// previous file content is left in place.
func (s *Store) Save(ctx context.Context, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.save(ctx, doc)
}

// Update loads the document, applies fn and saves the result, all while
// holding the store lock. The document passed to fn is never nil.
func (s *Store) Update(ctx context.Context, fn func(doc *Document)) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(ctx)
	fn(&doc)
	s.save(ctx, doc)

	return doc
}

func (s *Store) load(ctx context.Context) Document {
	logger := log.Ctx(ctx).With().Str("cache_file", s.path).Logger()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("cache file could not be read, cache will be ignored")
		return empty()
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn().Err(err).Msg("cache file is not valid, cache will be ignored")
		return empty()
	}

	if doc.Buildings == nil {
		doc.Buildings = map[string]BuildingEntry{}
	}

	return doc
}

func (s *Store) save(ctx context.Context, doc Document) {
	logger := log.Ctx(ctx).With().Str("cache_file", s.path).Logger()

	if doc.Buildings == nil {
		doc.Buildings = map[string]BuildingEntry{}
	}

	if err := s.writeAtomic(doc); err != nil {
		logger.Error().Err(err).Msg("cache file could not be saved, cache will not be persisted")
		return
	}

	logger.Debug().Msg("cache saved")
}

// writeAtomic writes to a temporary file in the target directory and renames
// it over the target, so readers see either the old or the new document.
func (s *Store) writeAtomic(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary cache file: %w", err)
	}
	tmpName := tmp.Name()

	// the temporary file is removed on any failure below
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temporary cache file: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("set cache file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	committed = true

	return nil
}

func empty() Document {
	return Document{Buildings: map[string]BuildingEntry{}}
}
