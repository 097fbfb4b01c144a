package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// DiskCache implements GenericCache for disk-based caching.
// Keys are relative file paths under cacheDir.
type DiskCache struct {
	cacheDir string
}

// NewGenericDisk creates a new disk cache rooted at cacheDir
func NewGenericDisk(cacheDir string) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
	}
}

func (d *DiskCache) path(key string) string {
	return filepath.Join(d.cacheDir, filepath.Clean("/"+key))
}

// Get retrieves cached data if it exists
func (d *DiskCache) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return data, nil
}

// Set stores data in the cache. The file is replaced atomically so concurrent
// readers never observe a partial write.
func (d *DiskCache) Set(key string, data []byte) error {
	if key == "" {
		return nil
	}

	cachePath := d.path(key)
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached entry: %s", cachePath)
	return nil
}

// Delete removes a cached entry
func (d *DiskCache) Delete(key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Keys lists the stored keys in lexical order
func (d *DiskCache) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.cacheDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || filepath.Base(path)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(d.cacheDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Init ensures the cache directory exists
func (d *DiskCache) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

// Clear removes the cache directory and everything in it
func (d *DiskCache) Clear() error {
	return os.RemoveAll(d.cacheDir)
}
