// Package replacer implements the LRU-K eviction policy: the buffer pool
// manager's victim-selection strategy for frames it needs to reclaim.
//
// The backward K-distance of a frame is the time since its K-th most
// recent access; a frame with fewer than K accesses has infinite distance.
// The replacer tracks this with two doubly-linked lists rather than a
// priority queue, the same structure the teacher's own LRU replacer keeps
// via container/list:
//
//   - history: frames with access_count < K, ordered oldest-first-access
//     at the back (the under-K tie-break is "earliest overall access").
//   - cache: frames with access_count >= K, most-recently-accessed at the
//     front (move-to-front on every access once a frame has graduated).
package replacer

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/foundrydb/foundrydb/core/storage/storageerr"
	"go.uber.org/zap"
)

// FrameID identifies a buffer pool frame, in [0, size).
type FrameID int

type frameState struct {
	frameID     FrameID
	accessCount uint64
	evictable   bool
	inHistory   bool
}

// LRUK is a single-mutex, two-list LRU-K replacer for `size` frames tracked
// at a distinct "K" accesses before a frame graduates from the history
// list to the cache list.
type LRUK struct {
	mu   sync.Mutex
	k    uint64
	size int

	states map[FrameID]*frameState

	history    *list.List // newest-first-access at front, oldest at back
	historyPos map[FrameID]*list.Element

	cache    *list.List // most-recently-accessed at front
	cachePos map[FrameID]*list.Element

	evictableCount int

	logger *zap.Logger
}

// New constructs a replacer tracking up to size distinct frame ids, with K
// accesses required before a frame's K-distance becomes finite.
func New(size int, k uint64, logger *zap.Logger) *LRUK {
	if logger == nil {
		logger = zap.NewNop()
	}
	if k == 0 {
		k = 1
	}
	return &LRUK{
		k:          k,
		size:       size,
		states:     make(map[FrameID]*frameState),
		history:    list.New(),
		historyPos: make(map[FrameID]*list.Element),
		cache:      list.New(),
		cachePos:   make(map[FrameID]*list.Element),
		logger:     logger,
	}
}

func (r *LRUK) checkFrameID(frameID FrameID) error {
	if frameID < 0 || int(frameID) >= r.size {
		return fmt.Errorf("%w: %d (replacer size %d)", storageerr.ErrInvalidFrameID, frameID, r.size)
	}
	return nil
}

// RecordAccess accounts for one access to frameID at the current logical
// tick, creating its history entry if this is the first time it is seen.
func (r *LRUK) RecordAccess(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFrameID(frameID); err != nil {
		return err
	}

	st, ok := r.states[frameID]
	if !ok {
		st = &frameState{frameID: frameID}
		r.states[frameID] = st
	}
	st.accessCount++

	switch {
	case st.accessCount < r.k:
		if !st.inHistory {
			elem := r.history.PushFront(frameID)
			r.historyPos[frameID] = elem
			st.inHistory = true
		}
	case st.accessCount == r.k:
		if st.inHistory {
			r.history.Remove(r.historyPos[frameID])
			delete(r.historyPos, frameID)
			st.inHistory = false
		}
		elem := r.cache.PushFront(frameID)
		r.cachePos[frameID] = elem
	default: // > k
		if elem, ok := r.cachePos[frameID]; ok {
			r.cache.Remove(elem)
		}
		r.cachePos[frameID] = r.cache.PushFront(frameID)
	}
	return nil
}

// SetEvictable toggles whether frameID is a candidate for eviction,
// adjusting the reported size accordingly.
func (r *LRUK) SetEvictable(frameID FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFrameID(frameID); err != nil {
		return err
	}
	st, ok := r.states[frameID]
	if !ok {
		// No access history for this frame yet; nothing to mark.
		return nil
	}
	if st.evictable == evictable {
		return nil
	}
	st.evictable = evictable
	if evictable {
		r.evictableCount++
	} else {
		r.evictableCount--
	}
	return nil
}

// Evict removes and returns the best victim frame, per LRU-K policy:
// scan history from the back first (oldest under-K frame), then cache
// from the back (least-recently-used at-or-over-K frame). Returns
// (0, false) if no evictable frame exists.
func (r *LRUK) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.history.Back(); e != nil; e = e.Prev() {
		frameID := e.Value.(FrameID)
		if st := r.states[frameID]; st.evictable {
			r.removeLocked(frameID)
			r.logger.Debug("evicted frame from history list", zap.Int("frame_id", int(frameID)))
			return frameID, true
		}
	}
	for e := r.cache.Back(); e != nil; e = e.Prev() {
		frameID := e.Value.(FrameID)
		if st := r.states[frameID]; st.evictable {
			r.removeLocked(frameID)
			r.logger.Debug("evicted frame from cache list", zap.Int("frame_id", int(frameID)))
			return frameID, true
		}
	}
	return 0, false
}

// Remove forcibly drops frameID's history. It is a usage error to call
// this on a frame that is currently tracked but not evictable.
func (r *LRUK) Remove(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFrameID(frameID); err != nil {
		return err
	}
	st, ok := r.states[frameID]
	if !ok {
		return nil
	}
	if !st.evictable {
		return fmt.Errorf("%w: frame %d", storageerr.ErrNotEvictable, frameID)
	}
	r.removeLocked(frameID)
	return nil
}

// removeLocked erases frameID from whichever list holds it and clears its
// access history. Caller must hold r.mu.
func (r *LRUK) removeLocked(frameID FrameID) {
	st, ok := r.states[frameID]
	if !ok {
		return
	}
	if elem, ok := r.historyPos[frameID]; ok {
		r.history.Remove(elem)
		delete(r.historyPos, frameID)
	}
	if elem, ok := r.cachePos[frameID]; ok {
		r.cache.Remove(elem)
		delete(r.cachePos, frameID)
	}
	if st.evictable {
		r.evictableCount--
	}
	delete(r.states, frameID)
}

// Size reports the number of frames currently marked evictable.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}
