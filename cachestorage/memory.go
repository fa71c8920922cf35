/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// MemoryStorageOpts represents options for MemoryStorage.
type MemoryStorageOpts struct {
	// MaxEntries limits the number of entries in each bucket.
	// The least recently used entry is evicted when the limit is exceeded. 0 means no limit.
	MaxEntries int

	// MetricsCollector is used to collect statistics about bucket usage. It can be nil.
	MetricsCollector MetricsCollector
}

// MemoryStorage keeps buckets in process memory.
type MemoryStorage struct {
	maxEntries       int
	metricsCollector MetricsCollector

	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	order   []string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage(opts MemoryStorageOpts) (*MemoryStorage, error) {
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater or equal to 0 (no limit)")
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &MemoryStorage{
		maxEntries:       opts.MaxEntries,
		metricsCollector: mc,
		buckets:          make(map[string]*memoryBucket),
	}, nil
}

// Open returns the bucket with the given name, creating it if absent.
func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{
		name:             name,
		maxEntries:       s.maxEntries,
		lruList:          list.New(),
		entries:          make(map[RequestKey]*list.Element),
		metricsCollector: s.metricsCollector,
	}
	s.buckets[name] = b
	s.order = append(s.order, name)
	s.metricsCollector.SetAmount(name, 0)
	return b, nil
}

// Has reports whether the bucket exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

// Keys returns names of all buckets in creation order.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Delete removes the bucket with all its entries.
// Handles to the deleted bucket stay usable but are detached from the storage.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	delete(s.buckets, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	b.detach()
	s.metricsCollector.ForgetBucket(name)
	return true, nil
}

type memoryBucket struct {
	name       string
	maxEntries int

	mu      sync.Mutex
	lruList *list.List
	entries map[RequestKey]*list.Element // value is a lruList element holding *Entry

	metricsCollector MetricsCollector
}

var _ Bucket = (*memoryBucket)(nil)

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) Match(_ context.Context, key RequestKey) (*Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, hit := b.entries[key]
	if !hit {
		b.metricsCollector.IncMisses(b.name)
		return nil, false, nil
	}
	b.lruList.MoveToFront(elem)
	b.metricsCollector.IncHits(b.name)
	return elem.Value.(*Entry), true, nil
}

func (b *memoryBucket) Put(_ context.Context, entry *Entry) error {
	if err := checkCacheable(entry); err != nil {
		return err
	}
	entry = entry.clone()
	key := entry.Key()

	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, ok := b.entries[key]; ok {
		b.lruList.MoveToFront(elem)
		elem.Value = entry
		return nil
	}
	b.entries[key] = b.lruList.PushFront(entry)
	if b.maxEntries > 0 && len(b.entries) > b.maxEntries {
		if b.removeOldest() != nil {
			b.metricsCollector.AddEvictions(b.name, 1)
		}
	}
	b.metricsCollector.SetAmount(b.name, len(b.entries))
	return nil
}

func (b *memoryBucket) Delete(_ context.Context, key RequestKey) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	b.lruList.Remove(elem)
	delete(b.entries, key)
	b.metricsCollector.SetAmount(b.name, len(b.entries))
	return true, nil
}

// Keys returns keys starting from the most recently used entry.
func (b *memoryBucket) Keys(_ context.Context) ([]RequestKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]RequestKey, 0, len(b.entries))
	for elem := b.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry).Key())
	}
	return keys, nil
}

func (b *memoryBucket) Len(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}

func (b *memoryBucket) removeOldest() *Entry {
	elem := b.lruList.Back()
	if elem == nil {
		return nil
	}
	b.lruList.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(b.entries, entry.Key())
	return entry
}

func (b *memoryBucket) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metricsCollector = disabledMetrics{}
}
