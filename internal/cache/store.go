package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Store is the durable backing of a Manager.
type Store interface {
	// Load returns every entry of the named cache. A cache that does not
	// exist yet is empty, not an error.
	Load(ctx context.Context, name string) (map[string]json.RawMessage, error)

	// Persist makes key durable. table is the full in-memory cache with key
	// already set; file stores rewrite it whole, row stores upsert key.
	Persist(ctx context.Context, name, key string, table map[string]json.RawMessage) error

	// Names lists the caches present.
	Names(ctx context.Context) ([]string, error)

	// Drop deletes the named cache.
	Drop(ctx context.Context, name string) error

	Close() error
}

// FileStore keeps one UTF-8 JSON file per cache under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads <dir>/<name>.json.
func (s *FileStore) Load(_ context.Context, name string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read %s", s.path(name))
	}

	var tbl map[string]json.RawMessage
	if err := json.Unmarshal(data, &tbl); err != nil {
		return nil, eris.Wrapf(ErrCorrupt, "%s: %v", s.path(name), err)
	}
	return tbl, nil
}

// Persist rewrites the whole file through a temp file and rename, so a crash
// leaves either the old or the new content.
func (s *FileStore) Persist(_ context.Context, name, _ string, table map[string]json.RawMessage) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "cache: create dir")
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", name)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "cache: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cache: close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return eris.Wrap(err, "cache: rename")
	}
	return nil
}

// Names lists the *.json files in the directory.
func (s *FileStore) Names(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, eris.Wrap(err, "cache: list")
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes the cache file.
func (s *FileStore) Drop(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "cache: remove %s", name)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// MemoryStore keeps caches in memory. Used by tests.
type MemoryStore struct {
	tables map[string]map[string]json.RawMessage
	loads  map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]json.RawMessage),
		loads:  make(map[string]int),
	}
}

func (s *MemoryStore) Load(_ context.Context, name string) (map[string]json.RawMessage, error) {
	s.loads[name]++
	out := make(map[string]json.RawMessage, len(s.tables[name]))
	for k, v := range s.tables[name] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Persist(_ context.Context, name, key string, table map[string]json.RawMessage) error {
	if s.tables[name] == nil {
		s.tables[name] = make(map[string]json.RawMessage)
	}
	s.tables[name][key] = table[key]
	return nil
}

func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Drop(_ context.Context, name string) error {
	delete(s.tables, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Loads returns how many times the named cache was loaded.
func (s *MemoryStore) Loads(name string) int {
	return s.loads[name]
}
