package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crxlens/crxlens/internal/analysis"
	consts "github.com/crxlens/crxlens/internal/shared/constants"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/shared/security"
)

// FileCache stores one JSON file per key under <dir>/<store>/<id>.json.
// Writes go through a temp file and an atomic rename, so a reader never
// observes a half-written record.
type FileCache struct {
	dir string
	mu  sync.RWMutex
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Get returns the cached result for key, or ErrCacheMiss.
func (c *FileCache) Get(ctx context.Context, key Key) (*analysis.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path, err := c.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sharedErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Result == nil {
		return nil, sharedErrors.ErrCacheMiss
	}
	return entry.Result, nil
}

// Put upserts the result for key, fully replacing any prior record.
func (c *FileCache) Put(ctx context.Context, key Key, result *analysis.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), consts.DefaultDirPerm); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	entry := Entry{
		ExtensionID: key.ExtensionID,
		Store:       key.Store.String(),
		Result:      result,
		LastUpdated: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	// Write-then-rename keeps the swap atomic on the same filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}
	if err := os.Chmod(tmpName, consts.DefaultFilePerm); err != nil {
		return fmt.Errorf("chmod temp entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) entryPath(key Key) (string, error) {
	id, err := security.FileComponent(key.ExtensionID)
	if err != nil {
		return "", err
	}
	if key.Store == "" {
		return "", fmt.Errorf("%w: empty", sharedErrors.ErrUnknownStore)
	}
	return security.ResolveWithin(c.dir, key.Store.String(), id+".json")
}
