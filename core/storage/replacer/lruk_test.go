package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUK_EvictsEarliestUnderKFrameFirst(t *testing.T) {
	r := New(4, 2, nil)

	for _, f := range []FrameID{0, 1, 2} {
		require.NoError(t, r.RecordAccess(f))
		require.NoError(t, r.SetEvictable(f, true))
	}
	require.Equal(t, 3, r.Size())

	// Frame 1 reaches K=2 accesses and graduates to the cache list;
	// frames 0 and 2 remain stuck at count 1 in the history list.
	require.NoError(t, r.RecordAccess(1))

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(0), victim, "earliest under-K frame evicts before a graduated frame")
	require.Equal(t, 2, r.Size())
}

func TestLRUK_TieBreakWithinHistoryByInsertionOrder(t *testing.T) {
	r := New(3, 2, nil)

	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.SetEvictable(0, true))
	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.SetEvictable(1, true))
	require.NoError(t, r.RecordAccess(2))
	require.NoError(t, r.SetEvictable(2, true))

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(0), victim)

	victim, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), victim)
}

func TestLRUK_CacheListEvictsLeastRecentlyUsed(t *testing.T) {
	r := New(4, 2, nil)

	// A, B, C, D, A, B : A and B each get two accesses and graduate to
	// the cache list in that order, leaving B at the front and A at the
	// back; C and D (stuck in history) evict first, then whichever of
	// A/B is least recently used.
	seq := []FrameID{0, 1, 2, 3, 0, 1}
	for _, f := range seq {
		require.NoError(t, r.RecordAccess(f))
	}
	for _, f := range []FrameID{0, 1, 2, 3} {
		require.NoError(t, r.SetEvictable(f, true))
	}

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), victim, "C has the earliest under-K access and evicts before D")

	victim, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(3), victim, "D is the only remaining under-K frame")

	victim, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(0), victim, "A was accessed before B the second time, so A is less recently used")
}

func TestLRUK_NonEvictableFrameIsSkipped(t *testing.T) {
	r := New(2, 2, nil)
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.SetEvictable(1, true))

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), victim, "frame 0 is pinned (not evictable) and must be skipped")
}

func TestLRUK_EvictOnEmptyReplacerReturnsFalse(t *testing.T) {
	r := New(2, 2, nil)
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestLRUK_RemoveRequiresEvictable(t *testing.T) {
	r := New(2, 2, nil)
	require.NoError(t, r.RecordAccess(0))
	err := r.Remove(0)
	require.ErrorContains(t, err, "not marked evictable")
}

func TestLRUK_InvalidFrameIDRejected(t *testing.T) {
	r := New(2, 2, nil)
	err := r.RecordAccess(5)
	require.ErrorContains(t, err, "frame id out of range")
}

func TestLRUK_SizeTracksEvictableCountOnly(t *testing.T) {
	r := New(3, 2, nil)
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	require.Equal(t, 0, r.Size())

	require.NoError(t, r.SetEvictable(0, true))
	require.Equal(t, 1, r.Size())

	require.NoError(t, r.SetEvictable(0, false))
	require.Equal(t, 0, r.Size())
}
