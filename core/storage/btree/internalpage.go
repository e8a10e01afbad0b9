// Package btree implements the node-local operations for a B+-tree's
// internal (non-leaf) pages: a dense (key, child_page_id) slot array
// living directly in a pinned page's byte buffer. Leaf pages, the tree
// driver that walks root-to-leaf, and the on-disk catalog that would
// bind a table to a tree are all out of scope here — this package is
// the checked typed view over one page's bytes, the same "raw page as
// typed view" shape the teacher's Node type gives its own pages.
package btree

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/foundrydb/foundrydb/core/storage/page"
)

// HeaderSize is the fixed byte length of an internal page's header:
// page type, current size, max size, parent page id, page id, and one
// reserved field to round the header out to 24 bytes, following the
// same pad-to-declared-size idiom the teacher's DBFileHeader uses.
const HeaderSize = 24

const internalPageType int32 = 1

// KeyCodec fixes a key type K to a constant-width wire encoding, the
// generalization of the teacher's KeyValueSerializer to the slot array's
// dense, non-length-prefixed layout. Size must match Encode/Decode's
// actual width; 4, 8, 16, 32, and 64-byte keys are all supported by
// supplying a codec of that Size.
type KeyCodec[K any] struct {
	Size   int
	Encode func(K, []byte)
	Decode func([]byte) K
}

// Comparator gives K three-way ordering semantics, the same shape as the
// teacher's Order[K] type.
type Comparator[K any] func(a, b K) int

// PageFetcher is the narrow buffer-pool surface internal-page operations
// need to persist a parent pointer update into a moved child. A
// *buffer.Manager satisfies this.
type PageFetcher interface {
	FetchPage(ctx context.Context, id page.PageID) (*page.Page, error)
	UnpinPage(id page.PageID, isDirty bool) bool
}

// InternalPage is a checked, typed view over a pinned page's bytes.
// Callers must hold the underlying page pinned (and latched, per the
// page's own latch discipline) for the lifetime of any InternalPage
// operating on it; no method here takes the page's latch itself.
type InternalPage[K any] struct {
	pg    *page.Page
	codec KeyCodec[K]
	cmp   Comparator[K]
}

// Wrap constructs a typed view over pg, validating that it already
// carries a valid internal-page header. Use Init instead when pg is a
// freshly allocated page with no header yet.
func Wrap[K any](pg *page.Page, codec KeyCodec[K], cmp Comparator[K]) (*InternalPage[K], error) {
	ip := &InternalPage[K]{pg: pg, codec: codec, cmp: cmp}
	if pt := readInt32(pg.Data(), 0); pt != internalPageType {
		return nil, fmt.Errorf("page %d does not carry an internal-page header (type=%d)", pg.ID(), pt)
	}
	return ip, nil
}

func (ip *InternalPage[K]) slotSize() int { return ip.codec.Size + 4 }

func (ip *InternalPage[K]) maxSlotsForPageSize() int {
	return (page.Size - HeaderSize) / ip.slotSize()
}

func readInt32(data []byte, offset int) int32 {
	return int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
}

func writeInt32(data []byte, offset int, v int32) {
	binary.LittleEndian.PutUint32(data[offset:offset+4], uint32(v))
}

// Init writes a fresh header to pg; size starts at 0.
func Init[K any](pg *page.Page, parentID, pageID page.PageID, maxSize int, codec KeyCodec[K], cmp Comparator[K]) *InternalPage[K] {
	data := pg.Data()
	writeInt32(data, 0, internalPageType)
	writeInt32(data, 4, 0)
	writeInt32(data, 8, int32(maxSize))
	writeInt32(data, 12, int32(parentID))
	writeInt32(data, 16, int32(pageID))
	writeInt32(data, 20, 0)
	return &InternalPage[K]{pg: pg, codec: codec, cmp: cmp}
}

func (ip *InternalPage[K]) Size() int { return int(readInt32(ip.pg.Data(), 4)) }
func (ip *InternalPage[K]) setSize(n int) { writeInt32(ip.pg.Data(), 4, int32(n)) }
func (ip *InternalPage[K]) MaxSize() int { return int(readInt32(ip.pg.Data(), 8)) }
func (ip *InternalPage[K]) ParentPageID() page.PageID {
	return page.PageID(readInt32(ip.pg.Data(), 12))
}
func (ip *InternalPage[K]) SetParentPageID(id page.PageID) {
	writeInt32(ip.pg.Data(), 12, int32(id))
}
func (ip *InternalPage[K]) PageID() page.PageID { return page.PageID(readInt32(ip.pg.Data(), 16)) }

func (ip *InternalPage[K]) slotOffset(i int) int { return HeaderSize + i*ip.slotSize() }

// KeyAt returns the key at slot i. Slot 0's key is a sentinel and is
// never meaningfully compared, but it is still readable/writable.
func (ip *InternalPage[K]) KeyAt(i int) K {
	off := ip.slotOffset(i)
	return ip.codec.Decode(ip.pg.Data()[off : off+ip.codec.Size])
}

func (ip *InternalPage[K]) SetKeyAt(i int, k K) {
	off := ip.slotOffset(i)
	ip.codec.Encode(k, ip.pg.Data()[off:off+ip.codec.Size])
}

func (ip *InternalPage[K]) ValueAt(i int) page.PageID {
	off := ip.slotOffset(i) + ip.codec.Size
	return page.PageID(readInt32(ip.pg.Data(), off))
}

func (ip *InternalPage[K]) SetValueAt(i int, v page.PageID) {
	off := ip.slotOffset(i) + ip.codec.Size
	writeInt32(ip.pg.Data(), off, int32(v))
}

// ValueIndex returns the first slot whose value equals v, or Size() if
// no slot matches.
func (ip *InternalPage[K]) ValueIndex(v page.PageID) int {
	n := ip.Size()
	for i := 0; i < n; i++ {
		if ip.ValueAt(i) == v {
			return i
		}
	}
	return n
}

// Lookup returns the child pointer for key k via binary search over
// slots [1, size). A slot with an equal key returns that slot's value;
// otherwise the preceding slot's value is returned, and a search that
// runs off the end returns the last slot's value. Slot 0's key is never
// compared.
func (ip *InternalPage[K]) Lookup(k K) page.PageID {
	n := ip.Size()
	if n == 0 {
		return page.InvalidPageID
	}
	result := 0
	lo, hi := 1, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := ip.cmp(ip.KeyAt(mid), k)
		switch {
		case c == 0:
			return ip.ValueAt(mid)
		case c < 0:
			result = mid
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return ip.ValueAt(result)
}

// PopulateNewRoot initializes a freshly created root page after a root
// split: value(0) is the old root, key(1)/value(1) is the new sibling.
func (ip *InternalPage[K]) PopulateNewRoot(oldValue page.PageID, newKey K, newValue page.PageID) {
	ip.SetValueAt(0, oldValue)
	ip.SetKeyAt(1, newKey)
	ip.SetValueAt(1, newValue)
	ip.setSize(2)
}

// InsertNodeAfter inserts (newKey, newValue) immediately after the slot
// whose value equals oldValue, shifting subsequent slots right, and
// returns the new size.
func (ip *InternalPage[K]) InsertNodeAfter(oldValue page.PageID, newKey K, newValue page.PageID) int {
	n := ip.Size()
	at := ip.ValueIndex(oldValue) + 1
	for i := n; i > at; i-- {
		ip.SetKeyAt(i, ip.KeyAt(i-1))
		ip.SetValueAt(i, ip.ValueAt(i-1))
	}
	ip.SetKeyAt(at, newKey)
	ip.SetValueAt(at, newValue)
	n++
	ip.setSize(n)
	return n
}

// Remove deletes slot i, shifting the tail left.
func (ip *InternalPage[K]) Remove(i int) {
	n := ip.Size()
	for j := i; j < n-1; j++ {
		ip.SetKeyAt(j, ip.KeyAt(j+1))
		ip.SetValueAt(j, ip.ValueAt(j+1))
	}
	ip.setSize(n - 1)
}

// RemoveAndReturnOnlyChild returns value(0) and empties the page. Called
// when a root's last internal key is deleted and its sole remaining
// child becomes the new root.
func (ip *InternalPage[K]) RemoveAndReturnOnlyChild() page.PageID {
	v := ip.ValueAt(0)
	ip.setSize(0)
	return v
}

// ParentPointer reads the parent_page_id header field of any page sharing
// this package's 24-byte header layout.
func ParentPointer(pg *page.Page) page.PageID {
	return page.PageID(readInt32(pg.Data(), 12))
}

// SetParentPointer overwrites the parent_page_id header field of any page
// sharing this package's 24-byte header layout, leaf or internal, without
// requiring a typed view over the rest of its slot array. Parent-pointer
// persistence only ever needs this one field.
func SetParentPointer(pg *page.Page, parentID page.PageID) {
	writeInt32(pg.Data(), 12, int32(parentID))
}

// adoptChildren fetches each moved child in [from, to) from the buffer
// pool and rewrites its parent pointer to this page's id, per the
// parent-pointer-persistence contract: every slot movement across pages
// is a two-pin operation.
func (ip *InternalPage[K]) adoptChildren(ctx context.Context, fetcher PageFetcher, from, to int) error {
	newParent := ip.PageID()
	for i := from; i < to; i++ {
		childID := ip.ValueAt(i)
		childPage, err := fetcher.FetchPage(ctx, childID)
		if err != nil {
			return fmt.Errorf("fetching child %d to update parent pointer: %w", childID, err)
		}
		SetParentPointer(childPage, newParent)
		fetcher.UnpinPage(childID, true)
	}
	return nil
}

// MoveHalfTo transfers the upper half of slots [min_size, size) to
// recipient, which adopts the moved children's parent pointers.
func (ip *InternalPage[K]) MoveHalfTo(ctx context.Context, recipient *InternalPage[K], minSize int, fetcher PageFetcher) error {
	n := ip.Size()
	moved := n - minSize
	for i := 0; i < moved; i++ {
		recipient.SetKeyAt(i, ip.KeyAt(minSize+i))
		recipient.SetValueAt(i, ip.ValueAt(minSize+i))
	}
	recipient.setSize(moved)
	ip.setSize(minSize)
	return recipient.adoptChildren(ctx, fetcher, 0, moved)
}

// MoveAllTo sets this page's slot-0 key to middleKey, then copies all
// slots into recipient's tail, and empties self. Used when a node is
// fully absorbed by its left sibling during a merge.
func (ip *InternalPage[K]) MoveAllTo(ctx context.Context, recipient *InternalPage[K], middleKey K, fetcher PageFetcher) error {
	ip.SetKeyAt(0, middleKey)
	n := ip.Size()
	base := recipient.Size()
	for i := 0; i < n; i++ {
		recipient.SetKeyAt(base+i, ip.KeyAt(i))
		recipient.SetValueAt(base+i, ip.ValueAt(i))
	}
	recipient.setSize(base + n)
	ip.setSize(0)
	return recipient.adoptChildren(ctx, fetcher, base, base+n)
}

// MoveFirstToEndOf writes middleKey into slot 0 (so the moved first slot
// carries it), appends it to recipient's tail, and shifts self left.
// Used to rebalance by pulling one slot from a right sibling.
func (ip *InternalPage[K]) MoveFirstToEndOf(ctx context.Context, recipient *InternalPage[K], middleKey K, fetcher PageFetcher) error {
	ip.SetKeyAt(0, middleKey)
	movedValue := ip.ValueAt(0)
	movedKey := ip.KeyAt(0)

	at := recipient.Size()
	recipient.SetKeyAt(at, movedKey)
	recipient.SetValueAt(at, movedValue)
	recipient.setSize(at + 1)

	ip.Remove(0)
	return recipient.adoptChildren(ctx, fetcher, at, at+1)
}

// MoveLastToFrontOf writes middleKey into recipient's slot 0, prepends
// self's last slot to recipient, and shrinks self. Used to rebalance by
// pulling one slot from a left sibling.
func (ip *InternalPage[K]) MoveLastToFrontOf(ctx context.Context, recipient *InternalPage[K], middleKey K, fetcher PageFetcher) error {
	n := ip.Size()
	movedValue := ip.ValueAt(n - 1)
	ip.setSize(n - 1)

	rn := recipient.Size()
	for i := rn; i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetValueAt(0, movedValue)
	recipient.SetKeyAt(1, middleKey)
	recipient.setSize(rn + 1)

	return recipient.adoptChildren(ctx, fetcher, 0, 1)
}
