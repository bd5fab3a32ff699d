package cache

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// maxSegmentLen bounds a sanitized path segment before its hash suffix.
const maxSegmentLen = 100

const unsafeChars = `/\:*?"<>|~`

// Normalize turns a remote path into its cache key. The path is split into
// non-empty segments joined by "/"; a first segment of "~" is replaced by
// home. The result has no leading or trailing slash, and
// Normalize(home, Normalize(home, p)) == Normalize(home, p).
func Normalize(home, p string) string {
	segs := segments(p)
	if len(segs) > 0 && segs[0] == "~" {
		segs = append(segments(home), segs[1:]...)
	}

	return strings.Join(segs, "/")
}

func segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]

	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}

	return out
}

// SanitizeSegment maps one path segment to a name that is safe on any local
// filesystem. Segments that had to change, or were too long, get a hash of
// the original appended so distinct originals never share a storage name.
func SanitizeSegment(seg string) string {
	clean := seg
	if seg == "." || seg == ".." {
		clean = strings.Repeat("-", len(seg))
	} else {
		clean = strings.Map(func(r rune) rune {
			if r < 0x20 || strings.ContainsRune(unsafeChars, r) {
				return '-'
			}

			return r
		}, seg)
	}

	clean = truncate(clean, maxSegmentLen)
	if clean == seg {
		return seg
	}

	return clean + "-" + strconv.FormatUint(xxhash.Sum64String(seg), 16)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
