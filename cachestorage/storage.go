/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"context"
	"errors"
	"net/http"
)

// ErrMethodNotCacheable is returned by Bucket.Put for entries of non-GET requests.
var ErrMethodNotCacheable = errors.New("only GET requests can be cached")

// ErrBucketNotFound is returned when an operation requires an existing bucket.
var ErrBucketNotFound = errors.New("cache bucket not found")

// Bucket is a named set of response snapshots. Implementations are safe for concurrent use.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Match looks up the entry stored for the key.
	Match(ctx context.Context, key RequestKey) (entry *Entry, found bool, err error)

	// Put stores the entry under its key, overwriting the previous one.
	Put(ctx context.Context, entry *Entry) error

	// Delete removes the entry stored for the key and reports whether it existed.
	Delete(ctx context.Context, key RequestKey) (bool, error)

	// Keys returns keys of all stored entries.
	Keys(ctx context.Context) ([]RequestKey, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// Storage manages named buckets.
type Storage interface {
	// Open returns the bucket with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)

	// Has reports whether the bucket exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys returns names of all buckets in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes the bucket with all its entries and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// MatchRequest looks up the entry for the request and builds a fresh response from it.
func MatchRequest(ctx context.Context, bucket Bucket, req *http.Request) (*http.Response, bool, error) {
	entry, found, err := bucket.Match(ctx, NewRequestKey(req))
	if err != nil || !found {
		return nil, false, err
	}
	return entry.Response(req), true, nil
}

func checkCacheable(entry *Entry) error {
	if entry.Method != http.MethodGet {
		return ErrMethodNotCacheable
	}
	return nil
}
