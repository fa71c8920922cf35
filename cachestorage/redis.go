/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKeyPrefix is used when RedisStorageOpts.KeyPrefix is empty.
const DefaultRedisKeyPrefix = "offlinecache:"

// RedisStorageOpts represents options for RedisStorage.
type RedisStorageOpts struct {
	// KeyPrefix namespaces all keys written by the storage.
	KeyPrefix string

	// MetricsCollector is used to collect statistics about bucket usage. It can be nil.
	MetricsCollector MetricsCollector
}

// RedisStorage keeps buckets in Redis.
// Bucket names live in the sorted set "<prefix>buckets" scored by creation time,
// entries of a bucket live in the hash "<prefix>bucket:<name>" keyed by "METHOD URL".
type RedisStorage struct {
	client           redis.UniversalClient
	prefix           string
	metricsCollector MetricsCollector
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a Redis-backed storage using an existing client.
func NewRedisStorage(client redis.UniversalClient, opts RedisStorageOpts) *RedisStorage {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &RedisStorage{client: client, prefix: prefix, metricsCollector: mc}
}

func (s *RedisStorage) bucketsKey() string {
	return s.prefix + "buckets"
}

func (s *RedisStorage) bucketKey(name string) string {
	return s.prefix + "bucket:" + name
}

// Open returns the bucket with the given name, creating it if absent.
func (s *RedisStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := s.register(ctx, s.client, name); err != nil {
		return nil, fmt.Errorf("open cache bucket %q: %w", name, err)
	}
	return &redisBucket{storage: s, name: name, key: s.bucketKey(name)}, nil
}

func (s *RedisStorage) register(ctx context.Context, cmd redis.Cmdable, name string) error {
	z := &redis.Z{Score: float64(time.Now().UnixNano()), Member: name}
	return cmd.ZAddNX(ctx, s.bucketsKey(), z).Err()
}

// Has reports whether the bucket exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.bucketsKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns names of all buckets in creation order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.bucketsKey(), 0, -1).Result()
}

// Delete removes the bucket with all its entries.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var zrem *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		zrem = pipe.ZRem(ctx, s.bucketsKey(), name)
		pipe.Del(ctx, s.bucketKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache bucket %q: %w", name, err)
	}
	s.metricsCollector.ForgetBucket(name)
	return zrem.Val() > 0, nil
}

// Ping checks the connection to Redis.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

type redisBucket struct {
	storage *RedisStorage
	name    string
	key     string
}

var _ Bucket = (*redisBucket)(nil)

func (b *redisBucket) Name() string {
	return b.name
}

func (b *redisBucket) Match(ctx context.Context, key RequestKey) (*Entry, bool, error) {
	data, err := b.storage.client.HGet(ctx, b.key, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		b.storage.metricsCollector.IncMisses(b.name)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	b.storage.metricsCollector.IncHits(b.name)
	return entry, true, nil
}

// Put stores the entry. The bucket is registered again if it was deleted concurrently,
// so no hash is left without an index record.
func (b *redisBucket) Put(ctx context.Context, entry *Entry) error {
	if err := checkCacheable(entry); err != nil {
		return err
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", entry.Key(), err)
	}
	var hlen *redis.IntCmd
	_, err = b.storage.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := b.storage.register(ctx, pipe, b.name); err != nil {
			return err
		}
		pipe.HSet(ctx, b.key, entry.Key().String(), data)
		hlen = pipe.HLen(ctx, b.key)
		return nil
	})
	if err != nil {
		return err
	}
	b.storage.metricsCollector.SetAmount(b.name, int(hlen.Val()))
	return nil
}

func (b *redisBucket) Delete(ctx context.Context, key RequestKey) (bool, error) {
	n, err := b.storage.client.HDel(ctx, b.key, key.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys returns keys sorted by their string form, Redis hashes keep no order.
func (b *redisBucket) Keys(ctx context.Context) ([]RequestKey, error) {
	fields, err := b.storage.client.HKeys(ctx, b.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(fields)
	keys := make([]RequestKey, 0, len(fields))
	for _, f := range fields {
		key, err := parseRequestKey(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *redisBucket) Len(ctx context.Context) (int, error) {
	n, err := b.storage.client.HLen(ctx, b.key).Result()
	return int(n), err
}

func encodeEntry(entry *Entry) ([]byte, error) {
	return json.Marshal(entry)
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	if entry.Method == "" || entry.URL == "" {
		return nil, fmt.Errorf("method and url are required")
	}
	return &entry, nil
}

func parseRequestKey(s string) (RequestKey, error) {
	method, u, ok := strings.Cut(s, " ")
	if !ok || method == "" || u == "" {
		return RequestKey{}, fmt.Errorf("malformed cache key %q", s)
	}
	return RequestKey{Method: method, URL: u}, nil
}
