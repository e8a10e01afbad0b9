// Package buffer implements the Buffer Pool Manager: the storage engine's
// frame array, free list, page table, and eviction orchestration. It is
// the one component that talks to every other storage-core package —
// page, disk, replacer, and hashindex (as its page table) — and is the
// interface executors actually pin pages through.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foundrydb/foundrydb/core/storage/disk"
	"github.com/foundrydb/foundrydb/core/storage/hashindex"
	"github.com/foundrydb/foundrydb/core/storage/page"
	"github.com/foundrydb/foundrydb/core/storage/replacer"
	"github.com/foundrydb/foundrydb/core/storage/storageerr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const pageTableBucketSize = 4

func pageIDHash(id page.PageID) uint64 { return uint64(uint32(id)) }

// freeFrameList tracks frame indices with no resident page. Kept as its
// own type, rather than a bare slice inline on Manager, so the "a frame
// is free iff its index is here and no page-table entry points to it"
// invariant has one place to hold.
type freeFrameList struct {
	frames []int
}

func newFreeFrameList(poolSize int) *freeFrameList {
	frames := make([]int, poolSize)
	for i := range frames {
		frames[i] = i
	}
	return &freeFrameList{frames: frames}
}

func (l *freeFrameList) Len() int { return len(l.frames) }

// Push returns frameIdx to the free list.
func (l *freeFrameList) Push(frameIdx int) {
	l.frames = append(l.frames, frameIdx)
}

// Pop removes and returns a free frame index, LIFO, and reports whether
// one was available.
func (l *freeFrameList) Pop() (int, bool) {
	n := len(l.frames)
	if n == 0 {
		return 0, false
	}
	frameIdx := l.frames[n-1]
	l.frames = l.frames[:n-1]
	return frameIdx, true
}

// instrumentation bundles the buffer pool's OpenTelemetry counters. Every
// counter is created against a noop meter when telemetry is disabled, so
// callers never need a nil check on the hot path.
type instrumentation struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	newPages  metric.Int64Counter
	tracer    trace.Tracer
}

func newInstrumentation(meter metric.Meter, tracer trace.Tracer) (*instrumentation, error) {
	if meter == nil {
		meter = noopmetric.NewMeterProvider().Meter("")
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	inst := &instrumentation{tracer: tracer}
	var err error
	if inst.hits, err = meter.Int64Counter("foundrydb.buffer_pool.hits"); err != nil {
		return nil, fmt.Errorf("registering hits counter: %w", err)
	}
	if inst.misses, err = meter.Int64Counter("foundrydb.buffer_pool.misses"); err != nil {
		return nil, fmt.Errorf("registering misses counter: %w", err)
	}
	if inst.evictions, err = meter.Int64Counter("foundrydb.buffer_pool.evictions"); err != nil {
		return nil, fmt.Errorf("registering evictions counter: %w", err)
	}
	if inst.newPages, err = meter.Int64Counter("foundrydb.buffer_pool.new_pages"); err != nil {
		return nil, fmt.Errorf("registering new_pages counter: %w", err)
	}
	return inst, nil
}

// Manager is the buffer pool manager: a fixed array of frames, a free
// list, a page table (an extendible hash table keyed by page id), and an
// LRU-K replacer, all serialized behind a single mutex per spec 4.3.
type Manager struct {
	mu sync.Mutex

	frames    []*page.Page
	pageTable *hashindex.Table[page.PageID, int]
	freeList  *freeFrameList
	replacer  *replacer.LRUK
	disk      *disk.Manager

	poolSize   int
	instanceID uuid.UUID
	logger     *zap.Logger
	inst       *instrumentation
}

// New constructs a buffer pool of poolSize frames over diskMgr, evicting
// via LRU-K with the given k. meter/tracer may be nil, in which case
// noop providers are used in their place.
func New(poolSize int, k uint64, diskMgr *disk.Manager, logger *zap.Logger, meter metric.Meter, tracer trace.Tracer) (*Manager, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("buffer pool size must be positive, got %d", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	inst, err := newInstrumentation(meter, tracer)
	if err != nil {
		return nil, err
	}

	frames := make([]*page.Page, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New(page.InvalidPageID)
	}

	instanceID := uuid.New()
	bpm := &Manager{
		frames:     frames,
		pageTable:  hashindex.New[page.PageID, int](pageTableBucketSize, pageIDHash, logger),
		freeList:   newFreeFrameList(poolSize),
		replacer:   replacer.New(poolSize, k, logger),
		disk:       diskMgr,
		poolSize:   poolSize,
		instanceID: instanceID,
		logger:     logger.With(zap.String("bpm_instance", instanceID.String())),
		inst:       inst,
	}
	bpm.logger.Info("buffer pool manager initialized", zap.Int("pool_size", poolSize), zap.Uint64("lru_k", k))
	return bpm, nil
}

// hasEvictableFrameLocked reports whether at least one frame has
// pin_count == 0, per the "all pinned" short-circuit in spec 4.3.
func (bpm *Manager) hasEvictableFrameLocked() bool {
	return bpm.freeList.Len() > 0 || bpm.replacer.Size() > 0
}

// acquireVictimFrameLocked pops a free frame, or else asks the replacer
// for a victim, flushing it first if dirty, and removing its old mapping
// from the page table.
func (bpm *Manager) acquireVictimFrameLocked(ctx context.Context) (int, error) {
	if frameIdx, ok := bpm.freeList.Pop(); ok {
		return frameIdx, nil
	}

	victimFrame, ok := bpm.replacer.Evict()
	if !ok {
		return -1, storageerr.ErrBufferPoolFull
	}
	frameIdx := int(victimFrame)
	victim := bpm.frames[frameIdx]

	if victim.IsDirty() && victim.ID() != page.InvalidPageID {
		if err := bpm.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			return -1, fmt.Errorf("flushing dirty victim page %d from frame %d: %w", victim.ID(), frameIdx, err)
		}
		victim.SetDirty(false)
	}
	if victim.ID() != page.InvalidPageID {
		bpm.pageTable.Remove(victim.ID())
	}
	bpm.inst.evictions.Add(ctx, 1)
	bpm.logger.Debug("evicted frame", zap.Int("frame_id", frameIdx), zap.Int32("old_page_id", int32(victim.ID())))
	return frameIdx, nil
}

// NewPage allocates a fresh page id via the disk manager and returns a
// pinned, zeroed page occupying a free or evicted frame.
func (bpm *Manager) NewPage(ctx context.Context) (*page.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	ctx, span := bpm.inst.tracer.Start(ctx, "buffer.NewPage")
	defer span.End()

	if !bpm.hasEvictableFrameLocked() {
		return nil, storageerr.ErrBufferPoolFull
	}

	newID, err := bpm.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("allocating new page: %w", err)
	}

	frameIdx, err := bpm.acquireVictimFrameLocked(ctx)
	if err != nil {
		if deallocErr := bpm.disk.DeallocatePage(newID); deallocErr != nil {
			bpm.logger.Warn("failed to deallocate orphaned page id", zap.Int32("page_id", int32(newID)), zap.Error(deallocErr))
		}
		return nil, err
	}

	p := bpm.frames[frameIdx]
	p.Reset()
	p.SetID(newID)
	p.SetPinCount(1)
	p.SetDirty(false)
	p.Touch(time.Now())

	bpm.pageTable.Insert(newID, frameIdx)
	_ = bpm.replacer.RecordAccess(replacer.FrameID(frameIdx))
	_ = bpm.replacer.SetEvictable(replacer.FrameID(frameIdx), false)

	bpm.inst.newPages.Add(ctx, 1)
	bpm.logger.Debug("new page", zap.Int32("page_id", int32(newID)), zap.Int("frame_id", frameIdx))
	return p, nil
}

// FetchPage returns a pinned reference to pageID, reading it from disk on
// a miss. It fails if the page is absent and every frame is pinned, or if
// the disk read fails.
func (bpm *Manager) FetchPage(ctx context.Context, pageID page.PageID) (*page.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	ctx, span := bpm.inst.tracer.Start(ctx, "buffer.FetchPage")
	defer span.End()

	if frameIdx, ok := bpm.pageTable.Find(pageID); ok {
		p := bpm.frames[frameIdx]
		p.Pin()
		_ = bpm.replacer.RecordAccess(replacer.FrameID(frameIdx))
		_ = bpm.replacer.SetEvictable(replacer.FrameID(frameIdx), false)
		bpm.inst.hits.Add(ctx, 1)
		bpm.logger.Debug("fetch hit", zap.Int32("page_id", int32(pageID)), zap.Int("frame_id", frameIdx))
		return p, nil
	}

	if !bpm.hasEvictableFrameLocked() {
		return nil, storageerr.ErrBufferPoolFull
	}

	frameIdx, err := bpm.acquireVictimFrameLocked(ctx)
	if err != nil {
		return nil, err
	}

	p := bpm.frames[frameIdx]
	p.Reset()
	if err := bpm.disk.ReadPage(pageID, p.Data()); err != nil {
		return nil, fmt.Errorf("reading page %d from disk: %w", pageID, err)
	}
	p.SetID(pageID)
	p.SetPinCount(1)
	p.SetDirty(false)
	p.Touch(time.Now())

	bpm.pageTable.Insert(pageID, frameIdx)
	_ = bpm.replacer.RecordAccess(replacer.FrameID(frameIdx))
	_ = bpm.replacer.SetEvictable(replacer.FrameID(frameIdx), false)

	bpm.inst.misses.Add(ctx, 1)
	bpm.logger.Debug("fetch miss, read from disk", zap.Int32("page_id", int32(pageID)), zap.Int("frame_id", frameIdx))
	return p, nil
}

// UnpinPage decrements pageID's pin count. It returns false if the page
// is absent or its pin count was already zero. is_dirty only ever sets
// the dirty flag, never clears it.
func (bpm *Manager) UnpinPage(pageID page.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	p := bpm.frames[frameIdx]
	if !p.Unpin() {
		return false
	}
	if isDirty {
		p.SetDirty(true)
	}
	if p.PinCount() == 0 {
		_ = bpm.replacer.SetEvictable(replacer.FrameID(frameIdx), true)
	}
	return true
}

// FlushPage writes pageID's frame to disk unconditionally, regardless of
// its dirty flag, and reports whether the page was resident.
func (bpm *Manager) FlushPage(pageID page.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushFrameLocked(pageID)
}

func (bpm *Manager) flushFrameLocked(pageID page.PageID) (bool, error) {
	if pageID == page.InvalidPageID {
		return false, nil
	}
	frameIdx, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false, nil
	}
	p := bpm.frames[frameIdx]
	if err := bpm.disk.WritePage(p.ID(), p.Data()); err != nil {
		return false, fmt.Errorf("flushing page %d: %w", pageID, err)
	}
	p.SetDirty(false)
	return true, nil
}

// FlushAllPages flushes every resident page unconditionally. Unlike a
// naive per-page flush that short-circuits on a clean dirty flag, this
// walks every frame directly so no resident page is silently skipped.
func (bpm *Manager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for i, p := range bpm.frames {
		if p.ID() == page.InvalidPageID {
			continue
		}
		if err := bpm.disk.WritePage(p.ID(), p.Data()); err != nil {
			bpm.logger.Warn("failed to flush page during FlushAllPages", zap.Int32("page_id", int32(p.ID())), zap.Int("frame_id", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.SetDirty(false)
	}
	if err := bpm.disk.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DeletePage removes pageID from the pool. It returns true if the page is
// absent; false if it is resident and pinned; otherwise it evicts the
// page, returns the frame to the free list, and asks the disk manager to
// deallocate the id.
func (bpm *Manager) DeletePage(pageID page.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}
	p := bpm.frames[frameIdx]
	if p.PinCount() > 0 {
		return false, nil
	}

	bpm.pageTable.Remove(pageID)
	if err := bpm.replacer.Remove(replacer.FrameID(frameIdx)); err != nil {
		bpm.logger.Warn("replacer refused to drop frame on delete", zap.Int("frame_id", frameIdx), zap.Error(err))
	}
	bpm.freeList.Push(frameIdx)
	p.Reset()

	if err := bpm.disk.DeallocatePage(pageID); err != nil {
		return true, fmt.Errorf("deallocating page %d: %w", pageID, err)
	}
	return true, nil
}

// PoolSize returns the number of frames the pool manages.
func (bpm *Manager) PoolSize() int { return bpm.poolSize }
