package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

const indexFile = "index.json"

// FileStore persists entries as JSON files under a root directory:
//
//	{root}/{collection}/{id}.json
//	{root}/{collection}/index.json
//
// Every write goes to a temporary file that is renamed into place, so a
// crash never leaves a half-written entry or index behind.
type FileStore struct {
	root string
	mu   sync.Mutex // serializes index updates
}

var _ ports.CacheStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, ports.NewConfigError("cache.dir", errors.New("directory must not be empty"))
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{root: filepath.Clean(dir)}, nil
}

// Get reads one entry. A missing file is ErrCacheMiss; a file that does not
// decode, or that holds a different id, is ErrCacheCorrupted.
func (s *FileStore) Get(_ context.Context, collection, id string) (ports.CacheEntry, error) {
	key := collection + "/" + id
	path, err := s.entryPath(collection, id)
	if err != nil {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", ports.ErrCacheMiss)
	}
	if err != nil {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", err)
	}

	var entry ports.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", fmt.Errorf("%w: %v", ports.ErrCacheCorrupted, err))
	}
	if entry.ID != id || entry.Collection != collection || entry.Hash == "" {
		return ports.CacheEntry{}, ports.NewCacheError(key, "get", fmt.Errorf("%w: header mismatch", ports.ErrCacheCorrupted))
	}
	return entry, nil
}

// Put writes the entry and then records it in the collection index.
func (s *FileStore) Put(_ context.Context, entry ports.CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	key := entry.Collection + "/" + entry.ID
	path, err := s.entryPath(entry.Collection, entry.ID)
	if err != nil {
		return ports.NewCacheError(key, "put", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return ports.NewCacheError(key, "put", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(path, data); err != nil {
		return ports.NewCacheError(key, "put", err)
	}

	index, err := s.readIndex(entry.Collection)
	if err != nil {
		index = s.scanIndex(entry.Collection)
	}
	index[entry.ID] = ports.IndexEntry{ID: entry.ID, Hash: entry.Hash, CreatedAt: entry.CreatedAt}
	if err := s.writeIndex(entry.Collection, index); err != nil {
		return ports.NewCacheError(key, "put", err)
	}
	return nil
}

// Index returns the collection index. An unreadable index file is rebuilt by
// scanning the entry files, skipping any that do not decode.
func (s *FileStore) Index(_ context.Context, collection string) ([]ports.IndexEntry, error) {
	if err := checkName(collection); err != nil {
		return nil, ports.NewCacheError(collection, "index", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex(collection)
	if err != nil {
		index = s.scanIndex(collection)
	}

	out := make([]ports.IndexEntry, 0, len(index))
	for _, e := range index {
		out = append(out, e)
	}
	sortIndex(out)
	return out, nil
}

func (s *FileStore) entryPath(collection, id string) (string, error) {
	if err := checkName(collection); err != nil {
		return "", err
	}
	if err := checkName(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, collection, id+".json"), nil
}

// readIndex loads index.json. A missing file is an empty index.
func (s *FileStore) readIndex(collection string) (map[string]ports.IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, collection, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]ports.IndexEntry), nil
	}
	if err != nil {
		return nil, err
	}

	index := make(map[string]ports.IndexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: index: %v", ports.ErrCacheCorrupted, err)
	}
	return index, nil
}

func (s *FileStore) scanIndex(collection string) map[string]ports.IndexEntry {
	index := make(map[string]ports.IndexEntry)
	files, _ := filepath.Glob(filepath.Join(s.root, collection, "*.json"))
	for _, path := range files {
		if filepath.Base(path) == indexFile {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry ports.CacheEntry
		if json.Unmarshal(data, &entry) != nil || entry.ID == "" || entry.Hash == "" {
			continue
		}
		index[entry.ID] = ports.IndexEntry{ID: entry.ID, Hash: entry.Hash, CreatedAt: entry.CreatedAt}
	}
	return index
}

func (s *FileStore) writeIndex(collection string, index map[string]ports.IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.root, collection, indexFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// checkName rejects path components that could escape the cache root.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || name == strings.TrimSuffix(indexFile, ".json") {
		return fmt.Errorf("invalid cache path component %q", name)
	}
	return nil
}
