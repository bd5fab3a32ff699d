package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ruffel/remotefs/fileutil"
	"github.com/ruffel/remotefs/worker"
)

// filesDir holds encrypted file bodies below the cache base.
const filesDir = "files"

// Entry is one name in a cached directory listing.
type Entry struct {
	Name string
	Type worker.FileType
}

// DirectoryCache caches stats, listings and file bodies for one host.
// It is safe for concurrent use.
type DirectoryCache struct {
	base string
	opts options

	stats    *gocache.Cache
	listings *gocache.Cache

	mu   sync.RWMutex
	home string
	key  []byte
}

// New returns a cache storing files under base. File caching stays disabled
// until SetServerInfo supplies a key, and for good when base is empty.
func New(base string, opts ...Option) *DirectoryCache {
	o := options{
		logger:        zap.NewNop(),
		statTTL:       DefaultStatTTL,
		listTTL:       DefaultListTTL,
		checkInterval: DefaultCheckInterval,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &DirectoryCache{
		base:     base,
		opts:     o,
		stats:    gocache.New(o.statTTL, o.checkInterval),
		listings: gocache.New(o.listTTL, o.checkInterval),
	}
}

// Base returns the directory the cache stores files under.
func (c *DirectoryCache) Base() string {
	return c.base
}

// SetServerInfo adopts the agent's home directory and cache key. A new key
// wipes every cached file first.
func (c *DirectoryCache) SetServerInfo(info worker.ServerInfo) error {
	if c.base == "" {
		c.mu.Lock()
		c.home = info.Home
		c.mu.Unlock()

		return nil
	}

	if info.NewCacheKey {
		if err := os.RemoveAll(filepath.Join(c.base, filesDir)); err != nil {
			return fmt.Errorf("clear file cache: %w", err)
		}
	}

	key, err := hex.DecodeString(info.CacheKey)
	if err != nil {
		return fmt.Errorf("invalid cache key: %w", err)
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("invalid cache key: %d bytes", len(key))
	}

	c.mu.Lock()
	c.home = info.Home
	c.key = key
	c.mu.Unlock()

	return nil
}

// Normalize returns the cache key for p.
func (c *DirectoryCache) Normalize(p string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Normalize(c.home, p)
}

// GetStat returns the cached stat for p.
func (c *DirectoryCache) GetStat(p string) (worker.Stat, bool) {
	v, ok := c.stats.Get(c.Normalize(p))
	c.record(KindStat, ok)

	if !ok {
		return worker.Stat{}, false
	}

	return v.(worker.Stat), true //nolint:forcetypeassert
}

// SetStat caches st for p.
func (c *DirectoryCache) SetStat(p string, st worker.Stat) {
	c.stats.SetDefault(c.Normalize(p), st)
}

// ClearStat drops the cached stat for p.
func (c *DirectoryCache) ClearStat(p string) {
	c.stats.Delete(c.Normalize(p))
}

// GetListing returns the cached listing of directory p, sorted by name.
func (c *DirectoryCache) GetListing(p string) ([]Entry, bool) {
	v, ok := c.listings.Get(c.Normalize(p))
	c.record(KindListing, ok)

	if !ok {
		return nil, false
	}

	return v.([]Entry), true //nolint:forcetypeassert
}

// SetListing caches the listing of directory p and the stat of every child.
func (c *DirectoryCache) SetListing(p string, children map[string]worker.Stat) {
	dir := c.Normalize(p)

	for name, st := range children {
		c.stats.SetDefault(path.Join(dir, name), st)
	}

	c.listings.SetDefault(dir, Entries(children))
}

// Entries turns a raw listing into entries sorted by name.
func Entries(children map[string]worker.Stat) []Entry {
	entries := make([]Entry, 0, len(children))
	for name, st := range children {
		entries = append(entries, Entry{Name: name, Type: st.Type})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries
}

// ClearListing drops the cached listing of p.
func (c *DirectoryCache) ClearListing(p string) {
	c.listings.Delete(c.Normalize(p))
}

// Invalidate drops everything cached in memory about p and its parent
// listing. File bodies are left alone; they are validated by hash on read.
func (c *DirectoryCache) Invalidate(p string) {
	key := c.Normalize(p)

	parent := path.Dir(key)
	if parent == "." {
		parent = ""
	}

	c.stats.Delete(key)
	c.listings.Delete(key)
	c.listings.Delete(parent)
}

// Flush empties the memory caches.
func (c *DirectoryCache) Flush() {
	c.stats.Flush()
	c.listings.Flush()
}

// FilePath returns where the body of remote path p is stored locally.
func (c *DirectoryCache) FilePath(p string) (string, error) {
	root := filepath.Join(c.base, filesDir)
	parts := []string{root}

	for _, seg := range segments(c.Normalize(p)) {
		parts = append(parts, SanitizeSegment(seg))
	}

	name := filepath.Join(parts...)
	if err := fileutil.CheckPathTraversal(root, name); err != nil {
		return "", err
	}

	return name, nil
}

// SetFile stores content as the cached body of p. Failures are logged.
func (c *DirectoryCache) SetFile(p string, content []byte) {
	key := c.fileKey()
	if key == nil {
		return
	}

	if err := c.writeFile(p, key, content); err != nil {
		c.opts.logger.Warn("failed to cache file", zap.String("path", p), zap.Error(err))
	}
}

func (c *DirectoryCache) writeFile(p string, key, content []byte) error {
	name, err := c.FilePath(p)
	if err != nil {
		return err
	}

	data, err := encodeFile(key, content)
	if err != nil {
		return err
	}

	return fileutil.WriteFileAtomic(name, data, 0o600)
}

// GetFile returns the cached entry for p. The body is decrypted only when
// withContent is set. Any failure is a miss.
func (c *DirectoryCache) GetFile(p string, withContent bool) (*CachedFile, bool) {
	key := c.fileKey()
	if key == nil {
		return nil, false
	}

	name, err := c.FilePath(p)
	if err != nil {
		c.opts.logger.Warn("invalid cache path", zap.String("path", p), zap.Error(err))
		c.record(KindFile, false)

		return nil, false
	}

	cf, err := readFile(name, key, withContent)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.opts.logger.Warn("error reading cached file", zap.String("path", p), zap.Error(err))
		}

		c.record(KindFile, false)

		return nil, false
	}

	c.record(KindFile, true)

	return cf, true
}

// TouchFile bumps the mtime of the cached body of p.
func (c *DirectoryCache) TouchFile(p string) {
	name, err := c.FilePath(p)
	if err != nil {
		return
	}

	now := time.Now()
	if err := os.Chtimes(name, now, now); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.opts.logger.Warn("failed to bump cached file mtime", zap.String("path", name), zap.Error(err))
	}
}

// RemoveFile deletes the cached body of p.
func (c *DirectoryCache) RemoveFile(p string) {
	name, err := c.FilePath(p)
	if err != nil {
		return
	}

	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.opts.logger.Warn("failed to remove cached file", zap.String("path", name), zap.Error(err))
	}
}

func (c *DirectoryCache) fileKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.key
}

func (c *DirectoryCache) record(kind string, hit bool) {
	if c.opts.recorder != nil {
		c.opts.recorder.CacheLookup(kind, hit)
	}
}
