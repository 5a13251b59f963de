package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FileSystemStorage stores generations as directories so separate processes
// can share them:
//
//	<root>/
//	  <generation>/
//	    <sha256(key)>.json   (one Entry per file)
type FileSystemStorage struct {
	root string
}

// NewFileSystemStorage creates a storage rooted at the given path.
func NewFileSystemStorage(root string) (*FileSystemStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileSystemStorage{root: root}, nil
}

type fileCache struct {
	dir string
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid cache name: %q", name)
	}
	return nil
}

func (s *FileSystemStorage) Open(name string) (Cache, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	return &fileCache{dir: dir}, nil
}

func (s *FileSystemStorage) lookup(name string) (Cache, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, name)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening cache %s: %w", name, err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	return &fileCache{dir: dir}, nil
}

func (s *FileSystemStorage) Names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing caches: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && validName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSystemStorage) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("deleting cache %s: %w", name, err)
	}
	return nil
}

func (s *FileSystemStorage) Match(key string) (*Entry, error) {
	return matchIn(s, key)
}

func (s *FileSystemStorage) DeleteAll() error {
	return deleteAllIn(s)
}

func entryFile(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}

func (c *fileCache) Get(key string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, entryFile(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &e, nil
}

// Put writes the entry using atomic write (temp file + rename), so concurrent
// readers see either the old entry or the new one.
func (c *fileCache) Put(key string, e *Entry) error {
	cp := *e
	cp.URL = key
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	tmpPath := filepath.Join(c.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(c.dir, entryFile(key))); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (c *fileCache) Keys() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}

	var keys []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, de.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed concurrently
			}
			return nil, fmt.Errorf("reading cache entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding cache entry %s: %w", de.Name(), err)
		}
		keys = append(keys, e.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

// Compile-time check that FileSystemStorage implements Storage interface
var _ Storage = (*FileSystemStorage)(nil)
