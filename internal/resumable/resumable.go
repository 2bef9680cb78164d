// Package resumable keeps partial-response bytes keyed by canonical URL so
// a retried LoadImageData can resume with a Range request instead of
// re-downloading from zero.
//
// The store is sharded by murmur3(key) into lock stripes (the teacher's
// twmb/murmur3 dependency, otherwise unused once the image-proxy HTTP
// surface it originally hashed request params for was dropped) so
// concurrent resumable-data writes for unrelated URLs don't serialize on
// one mutex.
package resumable

import (
	"sync"
	"time"

	"github.com/twmb/murmur3"
)

const shardCount = 32

// Data is a preserved partial response.
type Data struct {
	Bytes     []byte
	Validator string // ETag or Last-Modified, used for If-Range
	StoredAt  time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]Data
}

// Store is a process-local, per-pipeline partition of resumable data:
// explicit state owned by one Pipeline rather than a process-wide
// singleton, so multiple Pipelines in the same process never share it.
type Store struct {
	shards [shardCount]*shard
	maxAge time.Duration
}

// New creates a Store. Entries older than maxAge are treated as absent by
// Take; a non-positive maxAge disables expiry.
func New(maxAge time.Duration) *Store {
	s := &Store{maxAge: maxAge}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]Data)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := murmur3.StringSum64(key)
	return s.shards[h%uint64(shardCount)]
}

// Store preserves data for key, superseding any previous entry.
func (s *Store) Store(key string, data Data) {
	if data.StoredAt.IsZero() {
		data.StoredAt = time.Now()
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[key] = data
}

// Take removes and returns the resumable data for key, if any and not
// expired. Entries are consumed at most once per retry cycle: a second
// Take for the same key after this one returns ok=false until something
// Stores again.
func (s *Store) Take(key string) (Data, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	data, ok := sh.entries[key]
	if !ok {
		return Data{}, false
	}
	delete(sh.entries, key)

	if s.maxAge > 0 && time.Since(data.StoredAt) > s.maxAge {
		return Data{}, false
	}
	return data, true
}

// Remove discards any resumable data for key without returning it, used
// when a fresh (non-resumed) response supersedes it.
func (s *Store) Remove(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}
