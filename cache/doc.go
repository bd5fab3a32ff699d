// Package cache keeps a per-host local copy of remote metadata and content.
//
// Stats and directory listings live in short-TTL memory caches. File bodies
// are stored on disk, encrypted with AES-CBC under a key the remote agent
// hands out in its server info. Each cached file is
//
//	[1 byte header length][msgpack [plaintext length, iv]][ciphertext]
//
// When the agent reports a new cache key, every file cached for the host is
// deleted before the key is adopted.
//
// All cache failures are absorbed: a failed write is logged and dropped, a
// failed read is a miss.
package cache
