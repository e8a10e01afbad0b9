package btree

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foundrydb/foundrydb/core/storage/buffer"
	"github.com/foundrydb/foundrydb/core/storage/disk"
	"github.com/foundrydb/foundrydb/core/storage/page"
	"github.com/stretchr/testify/require"
)

func newTestBPM(t *testing.T, poolSize int) *buffer.Manager {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	bpm, err := buffer.New(poolSize, 2, dm, nil, nil, nil)
	require.NoError(t, err)
	return bpm
}

func newInternalPageFrom(t *testing.T, bpm *buffer.Manager, ctx context.Context, parentID page.PageID, maxSize int) *InternalPage[int32] {
	t.Helper()
	pg, err := bpm.NewPage(ctx)
	require.NoError(t, err)
	ip := Init[int32](pg, parentID, pg.ID(), maxSize, Int32Codec, DefaultOrder[int32]())
	require.True(t, bpm.UnpinPage(pg.ID(), true))
	return ip
}

// refetch re-wraps the live page for ip so mutations go through the
// buffer pool exactly as a real caller would (fetch, mutate, unpin).
func refetch(t *testing.T, bpm *buffer.Manager, ctx context.Context, id page.PageID) *InternalPage[int32] {
	t.Helper()
	pg, err := bpm.FetchPage(ctx, id)
	require.NoError(t, err)
	ip, err := Wrap[int32](pg, Int32Codec, DefaultOrder[int32]())
	require.NoError(t, err)
	return ip
}

func TestInternalPage_InitStartsEmpty(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 4)
	ip := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	id := ip.PageID()

	got := refetch(t, bpm, ctx, id)
	require.Equal(t, 0, got.Size())
	require.Equal(t, 5, got.MaxSize())
	require.True(t, bpm.UnpinPage(id, false))
}

func TestInternalPage_PopulateNewRootAndLookup(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 4)

	leftChild, err := bpm.NewPage(ctx)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(leftChild.ID(), false))
	rightChild, err := bpm.NewPage(ctx)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(rightChild.ID(), false))

	root := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rootID := root.PageID()

	got := refetch(t, bpm, ctx, rootID)
	got.PopulateNewRoot(leftChild.ID(), 50, rightChild.ID())
	require.True(t, bpm.UnpinPage(rootID, true))

	got = refetch(t, bpm, ctx, rootID)
	require.Equal(t, 2, got.Size())
	require.Equal(t, leftChild.ID(), got.Lookup(10))
	require.Equal(t, leftChild.ID(), got.Lookup(49))
	require.Equal(t, rightChild.ID(), got.Lookup(50))
	require.Equal(t, rightChild.ID(), got.Lookup(1000))
	require.True(t, bpm.UnpinPage(rootID, false))
}

func TestInternalPage_InsertNodeAfterShiftsTail(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 8)

	c0, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c0.ID(), false))
	c1, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c1.ID(), false))
	c2, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c2.ID(), false))

	root := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rootID := root.PageID()

	got := refetch(t, bpm, ctx, rootID)
	got.PopulateNewRoot(c0.ID(), 50, c1.ID())
	newSize := got.InsertNodeAfter(c1.ID(), 100, c2.ID())
	require.Equal(t, 3, newSize)
	require.Equal(t, int32(50), got.KeyAt(1))
	require.Equal(t, c1.ID(), got.ValueAt(1))
	require.Equal(t, int32(100), got.KeyAt(2))
	require.Equal(t, c2.ID(), got.ValueAt(2))
	require.True(t, bpm.UnpinPage(rootID, false))
}

func TestInternalPage_MoveHalfToSplitsAndAdoptsChildren(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 16)

	var children []page.PageID
	for i := 0; i < 5; i++ {
		c, err := bpm.NewPage(ctx)
		require.NoError(t, err)
		children = append(children, c.ID())
		require.True(t, bpm.UnpinPage(c.ID(), false))
	}

	src := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	srcID := src.PageID()
	dst := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	dstID := dst.PageID()

	s := refetch(t, bpm, ctx, srcID)
	s.SetValueAt(0, children[0])
	for i, k := range []int32{10, 20, 30, 40} {
		s.SetKeyAt(i+1, k)
		s.SetValueAt(i+1, children[i+1])
	}
	s.setSize(5)
	require.True(t, bpm.UnpinPage(srcID, true))

	s = refetch(t, bpm, ctx, srcID)
	d := refetch(t, bpm, ctx, dstID)
	require.NoError(t, s.MoveHalfTo(ctx, d, 2, bpm))
	require.True(t, bpm.UnpinPage(srcID, true))
	require.True(t, bpm.UnpinPage(dstID, true))

	s = refetch(t, bpm, ctx, srcID)
	require.Equal(t, 2, s.Size())
	require.True(t, bpm.UnpinPage(srcID, false))

	d = refetch(t, bpm, ctx, dstID)
	require.Equal(t, 3, d.Size())
	require.True(t, bpm.UnpinPage(dstID, false))

	// Every child moved to dst must have had its parent pointer updated.
	for i := 0; i < 3; i++ {
		childID := d.ValueAt(i)
		childPg, err := bpm.FetchPage(ctx, childID)
		require.NoError(t, err)
		require.Equal(t, dstID, ParentPointer(childPg))
		require.True(t, bpm.UnpinPage(childID, false))
	}
}

func TestInternalPage_MoveAllToMergesAndAdoptsChildren(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 16)

	var children []page.PageID
	for i := 0; i < 3; i++ {
		c, err := bpm.NewPage(ctx)
		require.NoError(t, err)
		children = append(children, c.ID())
		require.True(t, bpm.UnpinPage(c.ID(), false))
	}

	left := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	leftID := left.PageID()
	right := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rightID := right.PageID()

	l := refetch(t, bpm, ctx, leftID)
	l.SetValueAt(0, children[0])
	l.setSize(1)
	require.True(t, bpm.UnpinPage(leftID, true))

	// children[0] already belongs to left before the merge.
	c0, err := bpm.FetchPage(ctx, children[0])
	require.NoError(t, err)
	SetParentPointer(c0, leftID)
	require.True(t, bpm.UnpinPage(children[0], true))

	r := refetch(t, bpm, ctx, rightID)
	r.SetValueAt(0, children[1])
	r.SetKeyAt(1, 20)
	r.SetValueAt(1, children[2])
	r.setSize(2)
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	r = refetch(t, bpm, ctx, rightID)
	require.NoError(t, r.MoveAllTo(ctx, l, 10, bpm))
	require.True(t, bpm.UnpinPage(leftID, true))
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	require.Equal(t, 3, l.Size())
	require.Equal(t, children[0], l.ValueAt(0))
	require.Equal(t, int32(10), l.KeyAt(1))
	require.Equal(t, children[1], l.ValueAt(1))
	require.Equal(t, int32(20), l.KeyAt(2))
	require.Equal(t, children[2], l.ValueAt(2))
	require.True(t, bpm.UnpinPage(leftID, false))

	r = refetch(t, bpm, ctx, rightID)
	require.Equal(t, 0, r.Size())
	require.True(t, bpm.UnpinPage(rightID, false))

	for _, childID := range children {
		childPg, err := bpm.FetchPage(ctx, childID)
		require.NoError(t, err)
		require.Equal(t, leftID, ParentPointer(childPg))
		require.True(t, bpm.UnpinPage(childID, false))
	}
}

func TestInternalPage_MoveFirstToEndOfBorrowsFromRightSibling(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 16)

	c0, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c0.ID(), false))
	c1, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c1.ID(), false))
	c2, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c2.ID(), false))

	left := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	leftID := left.PageID()
	right := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rightID := right.PageID()

	l := refetch(t, bpm, ctx, leftID)
	l.SetValueAt(0, c0.ID())
	l.setSize(1)
	require.True(t, bpm.UnpinPage(leftID, true))

	r := refetch(t, bpm, ctx, rightID)
	r.SetValueAt(0, c1.ID())
	r.SetKeyAt(1, 20)
	r.SetValueAt(1, c2.ID())
	r.setSize(2)
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	r = refetch(t, bpm, ctx, rightID)
	require.NoError(t, r.MoveFirstToEndOf(ctx, l, 10, bpm))
	require.True(t, bpm.UnpinPage(leftID, true))
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	require.Equal(t, 2, l.Size())
	require.Equal(t, c0.ID(), l.ValueAt(0))
	require.Equal(t, int32(10), l.KeyAt(1))
	require.Equal(t, c1.ID(), l.ValueAt(1))
	require.True(t, bpm.UnpinPage(leftID, false))

	r = refetch(t, bpm, ctx, rightID)
	require.Equal(t, 1, r.Size())
	require.Equal(t, c2.ID(), r.ValueAt(0))
	require.True(t, bpm.UnpinPage(rightID, false))

	childPg, err := bpm.FetchPage(ctx, c1.ID())
	require.NoError(t, err)
	require.Equal(t, leftID, ParentPointer(childPg))
	require.True(t, bpm.UnpinPage(c1.ID(), false))
}

func TestInternalPage_MoveLastToFrontOfBorrowsFromLeftSibling(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 16)

	c0, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c0.ID(), false))
	c1, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c1.ID(), false))
	c2, _ := bpm.NewPage(ctx)
	require.True(t, bpm.UnpinPage(c2.ID(), false))

	left := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	leftID := left.PageID()
	right := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rightID := right.PageID()

	l := refetch(t, bpm, ctx, leftID)
	l.SetValueAt(0, c0.ID())
	l.SetKeyAt(1, 10)
	l.SetValueAt(1, c1.ID())
	l.setSize(2)
	require.True(t, bpm.UnpinPage(leftID, true))

	r := refetch(t, bpm, ctx, rightID)
	r.SetValueAt(0, c2.ID())
	r.setSize(1)
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	r = refetch(t, bpm, ctx, rightID)
	require.NoError(t, l.MoveLastToFrontOf(ctx, r, 20, bpm))
	require.True(t, bpm.UnpinPage(leftID, true))
	require.True(t, bpm.UnpinPage(rightID, true))

	l = refetch(t, bpm, ctx, leftID)
	require.Equal(t, 1, l.Size())
	require.Equal(t, c0.ID(), l.ValueAt(0))
	require.True(t, bpm.UnpinPage(leftID, false))

	r = refetch(t, bpm, ctx, rightID)
	require.Equal(t, 2, r.Size())
	require.Equal(t, c1.ID(), r.ValueAt(0))
	require.Equal(t, int32(20), r.KeyAt(1))
	require.Equal(t, c2.ID(), r.ValueAt(1))
	require.True(t, bpm.UnpinPage(rightID, false))

	childPg, err := bpm.FetchPage(ctx, c1.ID())
	require.NoError(t, err)
	require.Equal(t, rightID, ParentPointer(childPg))
	require.True(t, bpm.UnpinPage(c1.ID(), false))
}

func TestInternalPage_RemoveAndReturnOnlyChild(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 4)
	child, err := bpm.NewPage(ctx)
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(child.ID(), false))

	root := newInternalPageFrom(t, bpm, ctx, page.InvalidPageID, 5)
	rootID := root.PageID()
	got := refetch(t, bpm, ctx, rootID)
	got.SetValueAt(0, child.ID())
	got.setSize(1)

	v := got.RemoveAndReturnOnlyChild()
	require.Equal(t, child.ID(), v)
	require.Equal(t, 0, got.Size())
	require.True(t, bpm.UnpinPage(rootID, true))
}

func TestInternalPage_WrapRejectsWrongPageType(t *testing.T) {
	ctx := context.Background()
	bpm := newTestBPM(t, 4)
	pg, err := bpm.NewPage(ctx) // never Init'd as an internal page
	require.NoError(t, err)
	_, err = Wrap[int32](pg, Int32Codec, DefaultOrder[int32]())
	require.Error(t, err)
	require.True(t, bpm.UnpinPage(pg.ID(), false))
}
