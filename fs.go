package remotefs

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruffel/remotefs/cache"
	"github.com/ruffel/remotefs/worker"
)

// DiffThreshold is the size from which text writes are sent as a delta
// against the cached original.
const DiffThreshold = 4 << 10

// prefetchConcurrency bounds parallel prefetch reads.
const prefetchConcurrency = 4

// DirEntry is one entry of a directory listing.
type DirEntry = cache.Entry

// FileSystem is the cache-aware file API of a host.
type FileSystem struct {
	host *Host
}

// NewFileSystem returns the file API of h.
func NewFileSystem(h *Host) *FileSystem {
	return &FileSystem{host: h}
}

func (f *FileSystem) conn(ctx context.Context) (*Connection, *cache.DirectoryCache, error) {
	c, err := f.host.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}

	return c, c.Cache(), nil
}

// abs resolves p against the remote home directory. Paths that are neither
// absolute nor "~"-prefixed are relative to home, as on the agent.
func abs(c *Connection, p string) string {
	home := c.ServerInfo().Home

	switch {
	case path.IsAbs(p):
	case p == "~":
		p = home
	case strings.HasPrefix(p, "~/"):
		p = home + p[2:]
	default:
		p = home + p
	}

	return path.Clean(p)
}

// Stat returns the metadata of p, taken from its parent's listing.
func (f *FileSystem) Stat(ctx context.Context, p string) (worker.Stat, error) {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return worker.Stat{}, err
	}

	p = abs(c, p)

	if st, ok := dc.GetStat(p); ok {
		return st, nil
	}

	key := dc.Normalize(p)
	if key == "" {
		return worker.Stat{Type: worker.TypeDirectory}, nil
	}

	parent, name := path.Split("/" + key)

	if entries, ok := dc.GetListing(parent); ok {
		if !slices.ContainsFunc(entries, func(e DirEntry) bool { return e.Name == name }) {
			return worker.Stat{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
		}
	}

	children, err := f.list(ctx, c, dc, parent, PriorityHigh)
	if err != nil {
		return worker.Stat{}, err
	}

	st, ok := children[name]
	if !ok {
		return worker.Stat{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}

	return st, nil
}

// ReadDirectory lists directory p.
func (f *FileSystem) ReadDirectory(ctx context.Context, p string) ([]DirEntry, error) {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return nil, err
	}

	p = abs(c, p)

	if entries, ok := dc.GetListing(p); ok {
		return entries, nil
	}

	children, err := f.list(ctx, c, dc, p, PriorityHigh)
	if err != nil {
		return nil, err
	}

	return cache.Entries(children), nil
}

func (f *FileSystem) list(ctx context.Context, c *Connection, dc *cache.DirectoryCache, p string, priority int) (map[string]worker.Stat, error) {
	children, err := c.List(ctx, priority, p)
	if err != nil {
		return nil, err
	}

	dc.SetListing(p, children)

	return children, nil
}

// ReadFile returns the content of p. A cached copy is revalidated by hash
// and served without transfer when current.
func (f *FileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return f.readFile(ctx, p, PriorityHigh)
}

func (f *FileSystem) readFile(ctx context.Context, p string, priority int) ([]byte, error) {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return nil, err
	}

	p = abs(c, p)

	var hash string

	cached, ok := dc.GetFile(p, true)
	if ok {
		hash = worker.Hash(cached.Content)
	}

	res, err := c.ReadFile(ctx, priority, p, hash)
	if err != nil {
		return nil, err
	}

	if res.Unchanged {
		if ok {
			dc.TouchFile(p)

			return cached.Content, nil
		}

		if res, err = c.ReadFile(ctx, priority, p, ""); err != nil {
			return nil, err
		}
	}

	dc.SetFile(p, res.Data)

	return res.Data, nil
}

// Prefetch warms the cache with the content of paths at low priority.
func (f *FileSystem) Prefetch(ctx context.Context, paths ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	for _, p := range paths {
		g.Go(func() error {
			_, err := f.readFile(gctx, p, PriorityLow)

			return err
		})
	}

	return g.Wait()
}

// WriteFile writes data to p. Large text edits of a cached file are sent as
// a delta; a stale cache falls back to a full write.
func (f *FileSystem) WriteFile(ctx context.Context, p string, data []byte, opts worker.WriteOptions) error {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return err
	}

	p = abs(c, p)

	err = f.write(ctx, c, dc, p, data, opts)
	dc.Invalidate(p)

	if err != nil {
		return err
	}

	dc.SetFile(p, data)

	return nil
}

func (f *FileSystem) write(ctx context.Context, c *Connection, dc *cache.DirectoryCache, p string, data []byte, opts worker.WriteOptions) error {
	if orig, ok := dc.GetFile(p, true); ok && diffable(orig.Content, data) {
		err := c.WriteFileDiff(ctx, PriorityNormal, p, orig.Content, data, opts)
		if !errors.Is(err, worker.ErrHashMismatch) {
			return err
		}

		c.log.Debug("cached base is stale, sending full content", zap.String("path", p))
	}

	return c.WriteFile(ctx, PriorityNormal, p, data, opts)
}

func diffable(original, updated []byte) bool {
	return len(original) >= DiffThreshold && len(updated) >= DiffThreshold &&
		utf8.Valid(original) && utf8.Valid(updated)
}

// Rename moves from to to.
func (f *FileSystem) Rename(ctx context.Context, from, to string, opts worker.RenameOptions) error {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return err
	}

	from, to = abs(c, from), abs(c, to)

	err = c.Rename(ctx, PriorityNormal, from, to, opts)

	dc.Invalidate(from)
	dc.Invalidate(to)
	dc.RemoveFile(from)

	return err
}

// Delete removes p.
func (f *FileSystem) Delete(ctx context.Context, p string) error {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return err
	}

	p = abs(c, p)

	err = c.Delete(ctx, PriorityNormal, p)

	dc.Invalidate(p)
	dc.RemoveFile(p)

	return err
}

// CreateDirectory creates directory p.
func (f *FileSystem) CreateDirectory(ctx context.Context, p string) error {
	c, dc, err := f.conn(ctx)
	if err != nil {
		return err
	}

	p = abs(c, p)

	err = c.Mkdir(ctx, PriorityNormal, p)
	dc.Invalidate(p)

	return err
}

// ExpandPath resolves p, including a leading "~", on the host.
func (f *FileSystem) ExpandPath(ctx context.Context, p string) (string, error) {
	c, err := f.host.Connection(ctx)
	if err != nil {
		return "", err
	}

	return c.ExpandPath(ctx, PriorityHigh, p)
}
