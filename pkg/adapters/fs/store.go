// Package fs persists provenance documents on a filesystem.
//
// The format is chosen by file suffix (see DefaultSerializers). Writes are
// atomic: a failed Save leaves no partial file behind.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/prov"
)

// Config holds the configuration for a Store.
type Config struct {
	FS     afero.Fs
	Logger *slog.Logger
	// Strict rejects JSON documents with unknown fields.
	Strict bool
	// Serializers overrides DefaultSerializers when non-nil.
	Serializers map[string]Serializer
	// ErrorHandler receives errors from background work such as the watcher.
	ErrorHandler func(error)
}

// Store reads and writes provenance documents.
type Store struct {
	config      Config
	serializers map[string]Serializer
	cache       *cache

	mu            sync.RWMutex
	watcherActive bool
	lastLoad      *time.Time
	loads         int
	cacheHits     int
}

// NewStore creates a store. A nil FS defaults to the OS filesystem.
func NewStore(config Config) *Store {
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}
	serializers := config.Serializers
	if serializers == nil {
		serializers = DefaultSerializers(config.Strict)
	}
	return &Store{
		config:      config,
		serializers: serializers,
		cache:       newCache(),
	}
}

// FS returns the filesystem the store works on.
func (s *Store) FS() afero.Fs { return s.config.FS }

// Extensions lists the file suffixes the store can read and write.
func (s *Store) Extensions() []string { return Extensions(s.serializers) }

func (s *Store) serializerFor(name string) (Serializer, error) {
	ext := Extension(name, s.serializers)
	if ext == "" {
		return nil, fmt.Errorf("%w: %s (supported: %v)", core.ErrUnknownFormat, name, Extensions(s.serializers))
	}
	return s.serializers[ext], nil
}

// Save writes doc to name in the format its suffix selects.
func (s *Store) Save(ctx context.Context, name string, doc *prov.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ser, err := s.serializerFor(name)
	if err != nil {
		return err
	}
	data, err := ser.Serialize(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	if err := WriteFileAtomic(s.config.FS, name, data, 0644); err != nil {
		return err
	}
	s.cache.Delete(filepath.Clean(name))
	if s.config.Logger != nil {
		s.config.Logger.Debug("document saved", "path", name, "bytes", len(data))
	}
	return nil
}

// Load reads the document at name. Unchanged files are served from memory.
func (s *Store) Load(ctx context.Context, name string) (*prov.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ser, err := s.serializerFor(name)
	if err != nil {
		return nil, err
	}

	key := filepath.Clean(name)
	info, err := s.config.FS.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if doc, ok := s.cache.Get(key, info.ModTime(), info.Size()); ok {
		s.recordLoad(true)
		return doc, nil
	}

	data, err := afero.ReadFile(s.config.FS, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	doc, err := ser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	s.cache.Set(key, &cacheEntry{Doc: doc, LastModified: info.ModTime(), Size: info.Size()})
	s.recordLoad(false)
	return doc, nil
}

// Glob expands doublestar patterns ("runs/**/*.prov.json") into the sorted,
// de-duplicated list of files with a registered suffix. A pattern without
// meta characters is returned as is.
func (s *Store) Glob(patterns ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, pattern := range patterns {
		slashed := filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(slashed) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		base, rest := doublestar.SplitPattern(slashed)
		if rest == "" || !hasMeta(rest) {
			add(filepath.FromSlash(slashed))
			continue
		}

		fsys := s.config.FS
		if base != "." {
			fsys = afero.NewBasePathFs(fsys, filepath.FromSlash(base))
		}
		matches, err := doublestar.Glob(afero.NewIOFS(fsys), rest, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if Extension(m, s.serializers) == "" {
				continue
			}
			full := m
			if base != "." {
				full = path.Join(base, m)
			}
			add(filepath.FromSlash(full))
		}
	}
	return out, nil
}

// LoadAll loads every file matched by patterns, in Glob order.
func (s *Store) LoadAll(ctx context.Context, patterns ...string) ([]string, []*prov.Document, error) {
	files, err := s.Glob(patterns...)
	if err != nil {
		return nil, nil, err
	}
	docs := make([]*prov.Document, 0, len(files))
	for _, f := range files {
		doc, err := s.Load(ctx, f)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return files, docs, nil
}

func (s *Store) recordLoad(hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastLoad = &now
	s.loads++
	if hit {
		s.cacheHits++
	}
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '{', '\\':
			return true
		}
	}
	return false
}
