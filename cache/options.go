package cache

import (
	"time"

	"go.uber.org/zap"
)

// Default lifetimes of the in-memory caches.
const (
	DefaultStatTTL       = 10 * time.Second
	DefaultListTTL       = 10 * time.Second
	DefaultCheckInterval = 120 * time.Second
)

// Recorder observes cache lookups.
type Recorder interface {
	CacheLookup(kind string, hit bool)
}

// Lookup kinds passed to Recorder.
const (
	KindStat    = "stat"
	KindListing = "listing"
	KindFile    = "file"
)

// Option configures a DirectoryCache.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	statTTL       time.Duration
	listTTL       time.Duration
	checkInterval time.Duration
	recorder      Recorder
}

// WithLogger sets the logger used for cache I/O warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTTL overrides the stat and listing lifetimes.
func WithTTL(stat, list time.Duration) Option {
	return func(o *options) {
		o.statTTL = stat
		o.listTTL = list
	}
}

// WithCheckInterval sets how often expired memory entries are purged.
func WithCheckInterval(d time.Duration) Option {
	return func(o *options) {
		o.checkInterval = d
	}
}

// WithRecorder reports every lookup to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}
