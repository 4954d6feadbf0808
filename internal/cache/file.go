// internal/cache/file.go - Filesystem tile cache
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// FileCache stores tiles below a base directory. Writes go through a
// temp file and rename so readers never observe partial tiles.
type FileCache struct {
	basePath string
	baseURL  string
}

// NewFileCache creates a filesystem cache rooted at basePath.
func NewFileCache(basePath, baseURL string) *FileCache {
	return &FileCache{basePath: basePath, baseURL: baseURL}
}

func (c *FileCache) Info() string {
	return fmt.Sprintf("Tile cache directory: %s", c.basePath)
}

func (c *FileCache) BaseURL() string {
	if c.baseURL == "" {
		return "http://localhost:6767"
	}
	return c.baseURL
}

func (c *FileCache) fullPath(path string) string {
	return filepath.Join(c.basePath, filepath.FromSlash(path))
}

func (c *FileCache) Get(path string) ([]byte, bool) {
	full := c.fullPath(path)
	log.Debugf("FileCache.Get %s", full)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *FileCache) Put(path string, data []byte) error {
	full := c.fullPath(path)
	log.Debugf("FileCache.Put %s", full)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(full)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (c *FileCache) Exists(path string) bool {
	_, err := os.Stat(c.fullPath(path))
	return err == nil
}
