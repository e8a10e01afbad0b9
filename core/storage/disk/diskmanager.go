// Package disk implements the storage engine's only concession to
// persistence: a byte-level page I/O service with a monotonic page-id
// allocator. Everything above this package — the buffer pool, the
// replacer, the hash index, the B+-tree internal page — treats it as an
// opaque external collaborator and only calls ReadPage, WritePage,
// AllocatePage, and DeallocatePage.
package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/foundrydb/foundrydb/core/storage/page"
	"github.com/foundrydb/foundrydb/core/storage/storageerr"
	"go.uber.org/zap"
)

const (
	dbMagic       uint32 = 0xF0D8DB00
	headerSize           = 32
	headerPageID  int64  = 0
)

// fileHeader occupies page 0 of the database file. All fields are
// fixed-size so binary.Write/Read round-trip exactly; the trailing padding
// array pins the struct to headerSize bytes the same way the pack's B+-tree
// DBFileHeader pads itself to a declared constant.
type fileHeader struct {
	Magic      uint32
	PageSize   uint32
	NumPages   uint64
	_          [headerSize - (4 + 4 + 8)]byte
}

// Manager is the minimal disk manager the buffer pool core requires.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	numPages int64
	logger   *zap.Logger
}

// Open with create false opens an existing database file. With create
// true it creates a new one with a fresh header occupying page 0, and
// fails with ErrDBFileExists if the file already exists.
func Open(path string, create bool, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{path: path, logger: logger}

	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", storageerr.ErrDBFileNotFound, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", storageerr.ErrIO, path, err)
		}
		m.file = f
		m.numPages = 1 // page 0 is the header
		if err := m.writeHeader(); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", storageerr.ErrDBFileExists, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", storageerr.ErrIO, path, err)
		}
		m.file = f
		hdr, err := m.readHeader()
		if err != nil {
			f.Close()
			return nil, err
		}
		if hdr.Magic != dbMagic {
			f.Close()
			return nil, fmt.Errorf("invalid database file magic number in %s", path)
		}
		m.numPages = int64(hdr.NumPages)
	default:
		return nil, fmt.Errorf("%w: stat %s: %v", storageerr.ErrIO, path, statErr)
	}

	m.logger.Debug("disk manager opened", zap.String("path", path), zap.Int64("num_pages", m.numPages))
	return m, nil
}

func (m *Manager) writeHeader() error {
	hdr := fileHeader{Magic: dbMagic, PageSize: uint32(page.Size), NumPages: uint64(m.numPages)}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: serializing header: %v", storageerr.ErrIO, err)
	}
	if _, err := m.file.WriteAt(buf.Bytes(), headerPageID); err != nil {
		return fmt.Errorf("%w: writing header: %v", storageerr.ErrIO, err)
	}
	return m.file.Sync()
}

func (m *Manager) readHeader() (*fileHeader, error) {
	data := make([]byte, headerSize)
	if _, err := m.file.ReadAt(data, headerPageID); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading header: %v", storageerr.ErrIO, err)
	}
	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", storageerr.ErrIO, err)
	}
	return &hdr, nil
}

// ReadPage fills dest (len(dest) == page.Size) with pageID's on-disk image.
func (m *Manager) ReadPage(pageID page.PageID, dest []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(dest) != page.Size {
		return fmt.Errorf("%w: buffer size %d != page size %d", storageerr.ErrIO, len(dest), page.Size)
	}
	offset := int64(pageID) * int64(page.Size)
	n, err := m.file.ReadAt(dest, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading page %d: %v", storageerr.ErrIO, pageID, err)
	}
	if n != page.Size && err != io.EOF {
		return fmt.Errorf("%w: short read for page %d: got %d bytes", storageerr.ErrIO, pageID, n)
	}
	return nil
}

// WritePage persists src (len(src) == page.Size) at pageID's slot.
func (m *Manager) WritePage(pageID page.PageID, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(src) != page.Size {
		return fmt.Errorf("%w: buffer size %d != page size %d", storageerr.ErrIO, len(src), page.Size)
	}
	offset := int64(pageID) * int64(page.Size)
	if _, err := m.file.WriteAt(src, offset); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", storageerr.ErrIO, pageID, err)
	}
	return nil
}

// AllocatePage extends the file by one page and returns its id. This is
// the monotonic allocator the buffer pool manager's contract requires.
func (m *Manager) AllocatePage() (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newID := page.PageID(m.numPages)
	offset := int64(newID) * int64(page.Size)
	if _, err := m.file.WriteAt(make([]byte, page.Size), offset); err != nil {
		return page.InvalidPageID, fmt.Errorf("%w: extending file for page %d: %v", storageerr.ErrIO, newID, err)
	}
	m.numPages++
	return newID, nil
}

// DeallocatePage is best-effort; this engine does not reclaim disk space.
func (m *Manager) DeallocatePage(pageID page.PageID) error {
	m.logger.Debug("deallocate page (no-op, space not reclaimed)", zap.Int32("page_id", int32(pageID)))
	return nil
}

// Sync flushes buffered writes to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	return m.file.Sync()
}

// Close persists the header and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if err := m.writeHeaderLocked(); err != nil {
		m.logger.Warn("failed to persist header on close", zap.Error(err))
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func (m *Manager) writeHeaderLocked() error {
	hdr := fileHeader{Magic: dbMagic, PageSize: uint32(page.Size), NumPages: uint64(m.numPages)}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	_, err := m.file.WriteAt(buf.Bytes(), headerPageID)
	return err
}
