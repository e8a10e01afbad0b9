// Package hashindex implements a generic in-memory extendible hash table.
// The buffer pool manager uses one as its page table (page id -> frame
// index); it is also exposed standalone as a reusable associative index.
package hashindex

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/foundrydb/foundrydb/core/storage/storageerr"
	"go.uber.org/zap"
)

// entry is a single key/value pair stored in a bucket.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket holds up to bucketSize entries at a uniform local depth. Buckets
// are referenced from the directory by index into Table.buckets, not by
// pointer: the arena-of-buckets-keyed-by-index shape the spec's design
// notes call out as the systems-reimplementation-friendly alternative to
// shared-pointer ownership.
type bucket[K comparable, V any] struct {
	localDepth uint32
	entries    []entry[K, V]
}

// KeyHasher produces a 64-bit hash for a key. Callers needing a stable
// hash across process restarts (e.g. the buffer pool's page table, where
// K is page.PageID) should supply a deterministic function; this package
// defaults to xxhash-over-the-key's string form when none is supplied.
type KeyHasher[K comparable] func(key K) uint64

// Table is a single-mutex generic extendible hash table.
type Table[K comparable, V any] struct {
	mu sync.Mutex

	bucketSize int
	hash       KeyHasher[K]

	globalDepth uint32
	directory   []int // directory[i] is an index into buckets
	buckets     []*bucket[K, V]

	logger *zap.Logger
}

// New constructs a table with the given per-bucket capacity. hasher may be
// nil to use a default hash derived from fmt.Sprintf("%v", key) via
// xxhash — adequate for keys with a stable textual form, but callers with
// a more direct key-to-bytes mapping (page ids, fixed-width integers)
// should supply one.
func New[K comparable, V any](bucketSize int, hasher KeyHasher[K], logger *zap.Logger) *Table[K, V] {
	if bucketSize <= 0 {
		bucketSize = 4
	}
	if hasher == nil {
		hasher = func(key K) uint64 {
			return xxhash.Sum64String(fmt.Sprintf("%v", key))
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root := &bucket[K, V]{localDepth: 0, entries: make([]entry[K, V], 0, bucketSize)}
	return &Table[K, V]{
		bucketSize:  bucketSize,
		hash:        hasher,
		globalDepth: 0,
		directory:   []int{0},
		buckets:     []*bucket[K, V]{root},
		logger:      logger,
	}
}

func (t *Table[K, V]) dirIndex(key K) int {
	mask := uint64(1)<<t.globalDepth - 1
	return int(t.hash(key) & mask)
}

// Find returns the value stored for key, if present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.directory[t.dirIndex(key)]]
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Insert upserts key -> value, splitting buckets as needed.
func (t *Table[K, V]) Insert(key K, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(key, value, 0)
}

const maxSplitIterations = 64

func (t *Table[K, V]) insertLocked(key K, value V, depth int) error {
	if depth > maxSplitIterations {
		return fmt.Errorf("%w: key %v did not separate after %d splits", storageerr.ErrBucketOverflow, key, depth)
	}

	dirIdx := t.dirIndex(key)
	bucketIdx := t.directory[dirIdx]
	b := t.buckets[bucketIdx]

	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries[i].value = value
			return nil
		}
	}
	if len(b.entries) < t.bucketSize {
		b.entries = append(b.entries, entry[K, V]{key: key, value: value})
		return nil
	}

	t.splitBucket(bucketIdx)
	return t.insertLocked(key, value, depth+1)
}

// splitBucket grows the directory if necessary, then splits the bucket at
// bucketIdx into two new buckets, rehashing its entries, per spec 4.1.
func (t *Table[K, V]) splitBucket(bucketIdx int) {
	b := t.buckets[bucketIdx]

	if b.localDepth == t.globalDepth {
		oldLen := len(t.directory)
		t.directory = append(t.directory, make([]int, oldLen)...)
		for i := 0; i < oldLen; i++ {
			t.directory[i+oldLen] = t.directory[i]
		}
		t.globalDepth++
	}

	newLocalDepth := b.localDepth + 1
	splitBitPos := newLocalDepth - 1

	left := &bucket[K, V]{localDepth: newLocalDepth, entries: make([]entry[K, V], 0, t.bucketSize)}
	right := &bucket[K, V]{localDepth: newLocalDepth, entries: make([]entry[K, V], 0, t.bucketSize)}
	leftIdx := len(t.buckets)
	rightIdx := leftIdx + 1
	t.buckets = append(t.buckets, left, right)

	for i, target := range t.directory {
		if target != bucketIdx {
			continue
		}
		if i&(1<<splitBitPos) == 0 {
			t.directory[i] = leftIdx
		} else {
			t.directory[i] = rightIdx
		}
	}

	for _, e := range b.entries {
		dest := t.directory[t.dirIndex(e.key)]
		t.buckets[dest].entries = append(t.buckets[dest].entries, e)
	}

	t.buckets[bucketIdx] = nil
	t.logger.Debug("split bucket",
		zap.Int("old_bucket", bucketIdx),
		zap.Uint32("new_local_depth", newLocalDepth),
		zap.Uint32("global_depth", t.globalDepth))
}

// Remove deletes key if present and reports whether it was found. Buckets
// are never merged back down; the spec does not require shrinking.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.directory[t.dirIndex(key)]]
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// GlobalDepth returns the current directory depth.
func (t *Table[K, V]) GlobalDepth() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket at directory index i.
func (t *Table[K, V]) LocalDepth(dirIndex int) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dirIndex < 0 || dirIndex >= len(t.directory) {
		return 0, fmt.Errorf("directory index %d out of range [0,%d)", dirIndex, len(t.directory))
	}
	return t.buckets[t.directory[dirIndex]].localDepth, nil
}

// NumBuckets returns the count of live (non-nil, post-split-retired-excluded) buckets.
func (t *Table[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		if b != nil {
			n++
		}
	}
	return n
}
