package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ruffel/remotefs/worker"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type lookups struct {
	mu   sync.Mutex
	hits map[string]int
	miss map[string]int
}

func (l *lookups) CacheLookup(kind string, hit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hit {
		l.hits[kind]++
	} else {
		l.miss[kind]++
	}
}

func newTestCache(t *testing.T, opts ...Option) *DirectoryCache {
	t.Helper()

	c := New(t.TempDir(), opts...)
	require.NoError(t, c.SetServerInfo(worker.ServerInfo{Home: "/home/test/", CacheKey: testKey}))

	return c
}

func TestSetServerInfo_InvalidKey(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())
	require.Error(t, c.SetServerInfo(worker.ServerInfo{CacheKey: "zz"}))
	require.Error(t, c.SetServerInfo(worker.ServerInfo{CacheKey: "abcd"}))

	c.SetFile("/a", []byte("x"))

	_, ok := c.GetFile("/a", true)
	assert.False(t, ok, "file cache stays disabled without a key")
}

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hello")},
		{"block aligned", []byte(strings.Repeat("k", 32))},
		{"large", []byte(strings.Repeat("line of text\n", 1000))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestCache(t)
			c.SetFile("/srv/app/"+tt.name, tt.content)

			cf, ok := c.GetFile("/srv/app/"+tt.name, true)
			require.True(t, ok)
			assert.Equal(t, int64(len(tt.content)), cf.Length)
			assert.Len(t, cf.IV, 16)
			assert.Equal(t, tt.content, cf.Content)

			hdr, ok := c.GetFile("/srv/app/"+tt.name, false)
			require.True(t, ok)
			assert.Nil(t, hdr.Content)
			assert.Equal(t, cf.Length, hdr.Length)
		})
	}
}

func TestFile_OnDiskFormat(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	c.SetFile("~/notes.txt", []byte("secret contents"))

	name, err := c.FilePath("/home/test/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Base(), "files", "home", "test", "notes.txt"), name)

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret contents")

	hdrLen := int(raw[0])
	assert.Equal(t, 0, (len(raw)-1-hdrLen)%16, "ciphertext is whole blocks")
}

func TestFile_FreshIVPerWrite(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	c.SetFile("/a", []byte("same"))
	first, ok := c.GetFile("/a", false)
	require.True(t, ok)

	c.SetFile("/a", []byte("same"))
	second, ok := c.GetFile("/a", false)
	require.True(t, ok)

	assert.NotEqual(t, first.IV, second.IV)
}

func TestFile_Corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"truncated block", func(b []byte) []byte { return b[:len(b)-3] }},
		{"missing body", func(b []byte) []byte { return b[:1+int(b[0])] }},
		{"empty", func([]byte) []byte { return nil }},
		{"header length past end", func(b []byte) []byte { return []byte{200, 1, 2} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestCache(t)
			c.SetFile("/f", []byte(strings.Repeat("data", 20)))

			name, err := c.FilePath("/f")
			require.NoError(t, err)

			raw, err := os.ReadFile(name)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(name, tt.mangle(raw), 0o600))

			_, ok := c.GetFile("/f", true)
			assert.False(t, ok)
		})
	}
}

func TestReadFile_LengthMismatch(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)

	data, err := encodeFile(key, []byte("0123456789"))
	require.NoError(t, err)

	// Rewrite the declared length in the header; the ciphertext is untouched.
	hdrLen := int(data[0])

	var hdr fileHeader
	require.NoError(t, msgpack.Unmarshal(data[1:1+hdrLen], &hdr))
	require.Equal(t, int64(10), hdr.Length)

	hdr.Length = 11
	raw, err := msgpack.Marshal(hdr)
	require.NoError(t, err)

	data = append(append([]byte{byte(len(raw))}, raw...), data[1+hdrLen:]...)

	name := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(name, data, 0o600))

	_, err = readFile(name, key, true)
	require.ErrorIs(t, err, ErrCorrupt)

	cf, err := readFile(name, key, false)
	require.NoError(t, err)
	assert.Equal(t, int64(11), cf.Length)
}

func TestFile_WrongKeyIsMiss(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	a := New(base)
	require.NoError(t, a.SetServerInfo(worker.ServerInfo{CacheKey: testKey}))
	a.SetFile("/f", []byte(strings.Repeat("z", 40)))

	b := New(base)
	require.NoError(t, b.SetServerInfo(worker.ServerInfo{CacheKey: strings.Repeat("ff", 32)}))

	cf, ok := b.GetFile("/f", true)
	if ok {
		assert.NotEqual(t, []byte(strings.Repeat("z", 40)), cf.Content)
	}
}

func TestSetServerInfo_NewKeyWipesFiles(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	c.SetFile("/keep/me", []byte("x"))

	_, ok := c.GetFile("/keep/me", true)
	require.True(t, ok)

	require.NoError(t, c.SetServerInfo(worker.ServerInfo{CacheKey: testKey}))
	_, ok = c.GetFile("/keep/me", true)
	assert.True(t, ok, "same key keeps files")

	require.NoError(t, c.SetServerInfo(worker.ServerInfo{CacheKey: testKey, NewCacheKey: true}))
	_, ok = c.GetFile("/keep/me", true)
	assert.False(t, ok)

	_, err := os.Stat(filepath.Join(c.Base(), "files"))
	assert.True(t, os.IsNotExist(err))
}

func TestFilePath_Confined(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	for _, p := range []string{"/../../etc/passwd", "/a/../../b", "..", "/./x"} {
		name, err := c.FilePath(p)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(name, filepath.Join(c.Base(), "files")), p)
	}
}

func TestStat(t *testing.T) {
	t.Parallel()

	rec := &lookups{hits: map[string]int{}, miss: map[string]int{}}
	c := newTestCache(t, WithRecorder(rec))

	_, ok := c.GetStat("/a/b")
	assert.False(t, ok)

	st := worker.Stat{Type: worker.TypeFile, Mtime: 5, Size: 3}
	c.SetStat("/a//b/", st)

	got, ok := c.GetStat("a/b")
	require.True(t, ok)
	assert.Equal(t, st, got)

	c.ClearStat("/a/b")
	_, ok = c.GetStat("/a/b")
	assert.False(t, ok)

	assert.Equal(t, 1, rec.hits[KindStat])
	assert.Equal(t, 2, rec.miss[KindStat])
}

func TestStat_Expires(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, WithTTL(20*time.Millisecond, 20*time.Millisecond))
	c.SetStat("/x", worker.Stat{Type: worker.TypeFile})

	assert.Eventually(t, func() bool {
		_, ok := c.GetStat("/x")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestListing(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	c.SetListing("/srv/", map[string]worker.Stat{
		"b.txt": {Type: worker.TypeFile, Size: 2},
		"a":     {Type: worker.TypeDirectory},
		"l":     {Type: worker.TypeFile | worker.TypeSymlink},
	})

	entries, ok := c.GetListing("/srv")
	require.True(t, ok)
	assert.Equal(t, []Entry{
		{Name: "a", Type: worker.TypeDirectory},
		{Name: "b.txt", Type: worker.TypeFile},
		{Name: "l", Type: worker.TypeFile | worker.TypeSymlink},
	}, entries)

	st, ok := c.GetStat("/srv/b.txt")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Size)

	c.Invalidate("/srv/b.txt")

	_, ok = c.GetListing("/srv")
	assert.False(t, ok, "parent listing invalidated")

	_, ok = c.GetStat("/srv/b.txt")
	assert.False(t, ok)

	_, ok = c.GetStat("/srv/a")
	assert.True(t, ok, "siblings untouched")
}

func TestListing_RootParent(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	c.SetListing("/", map[string]worker.Stat{"top": {Type: worker.TypeDirectory}})

	c.Invalidate("/top")

	_, ok := c.GetListing("/")
	assert.False(t, ok)
}

func TestTouchAndRemoveFile(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	c.SetFile("/t", []byte("x"))

	name, err := c.FilePath("/t")
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(name, old, old))

	c.TouchFile("/t")

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)

	c.RemoveFile("/t")
	_, ok := c.GetFile("/t", false)
	assert.False(t, ok)

	c.TouchFile("/missing")
	c.RemoveFile("/missing")
}

func TestNoBase_MemoryOnly(t *testing.T) {
	t.Parallel()

	c := New("")
	require.NoError(t, c.SetServerInfo(worker.ServerInfo{Home: "/home/test/", CacheKey: testKey, NewCacheKey: true}))

	c.SetFile("~/a", []byte("x"))
	_, ok := c.GetFile("~/a", true)
	assert.False(t, ok)

	c.SetStat("~/a", worker.Stat{Type: worker.TypeFile})
	_, ok = c.GetStat("/home/test/a")
	assert.True(t, ok)
}
