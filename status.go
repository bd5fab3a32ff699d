package remotefs

import (
	"github.com/asaskevich/EventBus"
)

// Status is a connection milestone.
type Status string

// Connection milestones, in the order they occur.
const (
	StatusConnecting   Status = "connecting"
	StatusInitializing Status = "initializing"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Topic returns the bus topic a status is published on.
func (s Status) Topic() string {
	return "status:" + string(s)
}

// Bus topics carrying a StatusEvent.
var (
	TopicConnecting   = StatusConnecting.Topic()
	TopicInitializing = StatusInitializing.Topic()
	TopicConnected    = StatusConnected.Topic()
	TopicError        = StatusError.Topic()
)

// StatusEvent is published on the status bus. Err is set for StatusError.
type StatusEvent struct {
	Host   string
	Status Status
	Err    error
}

// NewStatusBus returns a bus for WithStatusBus. Subscribers take a single
// StatusEvent argument:
//
//	bus.Subscribe(remotefs.TopicConnected, func(ev remotefs.StatusEvent) { ... })
func NewStatusBus() EventBus.Bus {
	return EventBus.New()
}

func (c *Connection) publish(s Status, err error) {
	if c.opts.bus == nil {
		return
	}

	c.opts.bus.Publish(s.Topic(), StatusEvent{Host: c.name, Status: s, Err: err})
}
