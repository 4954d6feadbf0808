// internal/cache/file_test.go - Unit tests for the filesystem cache
package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestTilePath(t *testing.T) {
	if got := TilePath("osm", 5, 9, 3, false); got != "osm/3/5/9.pbf" {
		t.Errorf("TilePath = %q", got)
	}
	if got := TilePath("osm", 5, 9, 3, true); got != "osm/3/5/9.pbf.gz" {
		t.Errorf("TilePath gz = %q", got)
	}
}

func TestFileCacheReadAfterWrite(t *testing.T) {
	c := NewFileCache(t.TempDir(), "")
	path := TilePath("ts", 1, 2, 3, false)
	data := []byte{0x1a, 0x02, 0x00, 0x01}

	if c.Exists(path) {
		t.Fatal("key must be absent before Put")
	}
	if _, ok := c.Get(path); ok {
		t.Fatal("Get must miss before Put")
	}
	if err := c.Put(path, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Exists(path) {
		t.Error("Exists must be true after Put")
	}
	got, ok := c.Get(path)
	if !ok || !bytes.Equal(got, data) {
		t.Errorf("Get after Put = %v/%v, want %v", got, ok, data)
	}
}

func TestFileCacheOverwrite(t *testing.T) {
	c := NewFileCache(t.TempDir(), "")
	path := "ts/0/0/0.pbf"
	if err := c.Put(path, []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(path, []byte("two")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _ := c.Get(path)
	if string(got) != "two" {
		t.Errorf("last writer must win, got %q", got)
	}
}

func TestFileCacheNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir, "")
	if err := c.Put("ts/1/2/3.pbf", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "ts", "1", "2"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the tile file, found %d entries", len(entries))
	}
}

func TestFileCacheBaseURL(t *testing.T) {
	if got := NewFileCache("/tmp", "").BaseURL(); got != "http://localhost:6767" {
		t.Errorf("default base url = %q", got)
	}
	if got := NewFileCache("/tmp", "https://tiles.example.com").BaseURL(); got != "https://tiles.example.com" {
		t.Errorf("base url = %q", got)
	}
}

func TestNullCache(t *testing.T) {
	c := NewNullCache("")
	if err := c.Put("a/b", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Exists("a/b") {
		t.Error("null cache must report absent after Put")
	}
	if _, ok := c.Get("a/b"); ok {
		t.Error("null cache must always miss")
	}
}
