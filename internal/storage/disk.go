package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

// NewDisk creates a Storage keeping one directory per cache under root
func NewDisk(root string) (Storage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &store{backend: &diskBackend{root: root}}, nil
}

type diskBackend struct {
	root string
	// serializes create and remove of cache directories
	mu sync.Mutex
}

func (d *diskBackend) dir(name string) (string, error) {
	escaped := url.PathEscape(name)
	if name == "" || escaped == "." || escaped == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.root, escaped), nil
}

func (d *diskBackend) names() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			// Not created by us
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *diskBackend) open(name string) (cache.GenericCache, error) {
	dir, err := d.dir(name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	generic := cache.NewGenericDisk(dir)
	if err := generic.Init(); err != nil {
		return nil, err
	}
	return generic, nil
}

func (d *diskBackend) lookup(name string) (cache.GenericCache, bool, error) {
	dir, err := d.dir(name)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return nil, false, nil
	}
	return cache.NewGenericDisk(dir), true, nil
}

func (d *diskBackend) remove(name string) (bool, error) {
	dir, err := d.dir(name)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := cache.NewGenericDisk(dir).Clear(); err != nil {
		return false, err
	}
	return true, nil
}
