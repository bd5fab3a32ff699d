package remotefs

import (
	"github.com/ruffel/remotefs/worker"
)

// WatchOptions configures a watch subscription.
type WatchOptions = worker.WatchOptions

// WatchEvent is a change reported by the host.
type WatchEvent = worker.WatchEvent

// Watch is one registered subscription.
type Watch struct {
	ID      string
	Path    string
	Options WatchOptions
}
