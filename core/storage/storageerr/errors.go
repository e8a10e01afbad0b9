// Package storageerr collects the sentinel errors shared by the storage
// engine core: the page table, the replacer, the buffer pool manager, and
// the disk manager. Components wrap these with fmt.Errorf("%w: ...")
// at the call site rather than defining their own local error values.
package storageerr

import "errors"

var (
	ErrPageNotFound    = errors.New("page not found in buffer pool")
	ErrBufferPoolFull  = errors.New("buffer pool is full and no pages can be evicted")
	ErrPagePinned      = errors.New("page is pinned and cannot be evicted")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrIO              = errors.New("i/o error")
	ErrInvalidFrameID  = errors.New("frame id out of range")
	ErrNotEvictable    = errors.New("frame is not marked evictable")
	ErrFrameNotTracked = errors.New("frame has no access history")
	ErrKeyNotFound     = errors.New("key not found")
	ErrBucketOverflow  = errors.New("bucket overflow: depth growth did not separate colliding keys")
	ErrDBFileExists    = errors.New("database file already exists")
	ErrDBFileNotFound  = errors.New("database file not found")
)
