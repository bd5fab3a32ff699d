// Package pool hands out exclusive access to a set of interchangeable
// resources, such as worker channels, under a caller-supplied priority.
//
// Lower priority values are served first. Requests with equal priority are
// served in arrival order. The waiting requests live in an explicit
// min-heap (see queue.go) so the scheduling order can be tested without any
// goroutines.
package pool
