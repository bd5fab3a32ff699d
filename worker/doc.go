// Package worker speaks the remote agent's channel protocol.
//
// A channel is one duplex byte stream, normally the stdin/stdout of an agent
// process started over SSH. Every message is a frame: a 4-byte big-endian
// length followed by a msgpack body. Requests are [op, args]; responses are
// [status, payload].
//
// A Worker carries exactly one outstanding request at a time. Concurrency
// comes from holding several Workers, not from queuing inside one. A
// WatchWorker additionally receives unsolicited watch events between
// responses and hands them to a single handler.
//
// Any transport error or malformed frame is terminal for the channel: the
// worker closes it and reports the failure once to its registered handler.
// Errors the agent reports for an operation (status 1) are returned as
// *RemoteError and leave the channel usable.
package worker
