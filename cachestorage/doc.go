/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package cachestorage provides named buckets of HTTP response snapshots.
// A bucket maps a request identity (method and URL) to an immutable Entry.
// Buckets are created on first open and deleted wholesale.
// Two backends are available: MemoryStorage (LRU-ordered, optionally bounded) and RedisStorage.
package cachestorage
