package storageengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"

	ioqueue "github.com/sushant-115/picodb/core/storage_engine/io_queue"
	"github.com/sushant-115/picodb/core/write_engine/binlog"
	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/picodb/internal/telemetry"
)

// --- StorageManager ---

const (
	DataFileName   = "pico.db"
	LockFileName   = "picodb.lock"
	BinlogFileName = "picodb.binlog"

	// The first 4 bytes of the data file hold the page size as a
	// little-endian uint32. Page p lives at offset headerSize + p*pageSize.
	headerSize = 4

	// Page size must be a positive multiple of this.
	pageSizeMultiple = 1024
)

// Metadata is the decoded data-file header.
type Metadata struct {
	PageSize uint32
}

// StorageManager owns the three database file handles and exposes a
// page-granular, queue-serialized view of the data file. All disk
// operations are submitted through the I/O queue; allocation additionally
// holds allocMu so its stat-then-append sequence is never interleaved.
type StorageManager struct {
	dir      string
	dataFile *os.File
	lockFile *os.File
	binlog   *binlog.Manager
	pageSize uint32
	queue    *ioqueue.Queue
	allocMu  sync.Mutex
	logger   *zap.Logger
	metrics  *internaltelemetry.StorageMetrics
}

// Open opens an initialized database directory. It acquires an exclusive
// advisory lock on the lock file, validates the data-file header, and
// starts the I/O queue. metrics may be nil.
func Open(dir string, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*StorageManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataPath := filepath.Join(dir, DataFileName)
	if _, err := os.Stat(dataPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, dataPath)
		}
		return nil, wrapFsError("stating data file", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, wrapFsError("opening lock file", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, dir)
		}
		return nil, wrapFsError("locking lock file", err)
	}

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		releaseLock(lockFile)
		return nil, wrapFsError("opening data file", err)
	}

	pageSize, err := readHeader(dataFile)
	if err != nil {
		dataFile.Close()
		releaseLock(lockFile)
		return nil, err
	}

	binlogManager, err := binlog.NewManager(filepath.Join(dir, BinlogFileName), logger)
	if err != nil {
		dataFile.Close()
		releaseLock(lockFile)
		return nil, wrapFsError("opening binlog", err)
	}

	sm := &StorageManager{
		dir:      dir,
		dataFile: dataFile,
		lockFile: lockFile,
		binlog:   binlogManager,
		pageSize: pageSize,
		queue:    ioqueue.NewQueue(logger, metrics),
		logger:   logger,
		metrics:  metrics,
	}
	sm.queue.Start()
	logger.Info("storage manager opened",
		zap.String("dir", dir),
		zap.Uint32("page_size", pageSize),
	)
	return sm, nil
}

// PageSize returns the page size recorded in the data-file header.
func (sm *StorageManager) PageSize() uint32 {
	return sm.pageSize
}

// AllocatePage extends the data file by one zeroed page and returns its id.
// The stat-then-append sequence runs under allocMu, so concurrent
// allocations always observe distinct file lengths.
func (sm *StorageManager) AllocatePage() (pagemanager.PageID, error) {
	future := sm.queue.Enqueue(func() (any, error) {
		sm.allocMu.Lock()
		defer sm.allocMu.Unlock()

		fi, err := sm.dataFile.Stat()
		if err != nil {
			return nil, fmt.Errorf("%w: stating data file: %v", ErrIO, err)
		}
		length := fi.Size()
		pageIndex := pagemanager.PageID(uint64(length) / uint64(sm.pageSize))

		zeroPage := make([]byte, sm.pageSize)
		if _, err := sm.dataFile.WriteAt(zeroPage, length); err != nil {
			return nil, fmt.Errorf("%w: extending file for page %d: %v", ErrIO, pageIndex, err)
		}
		return pageIndex, nil
	})

	value, err := future.Wait()
	if err != nil {
		return pagemanager.InvalidPageID, err
	}
	pageID := value.(pagemanager.PageID)
	if sm.metrics != nil {
		sm.metrics.PagesAllocatedCounter.Add(context.Background(), 1)
	}
	if _, err := sm.binlog.Append(binlog.RecordTypeAllocate, pageID); err != nil {
		sm.logger.Warn("failed to append binlog record for allocation",
			zap.Uint64("page_id", uint64(pageID)), zap.Error(err))
	}
	sm.logger.Debug("allocated page", zap.Uint64("page_id", uint64(pageID)))
	return pageID, nil
}

// ReadPage reads the full page at pageID into a fresh buffer.
func (sm *StorageManager) ReadPage(pageID pagemanager.PageID) ([]byte, error) {
	future := sm.queue.Enqueue(func() (any, error) {
		buf := make([]byte, sm.pageSize)
		offset := pageOffset(pageID, sm.pageSize)
		n, err := sm.dataFile.ReadAt(buf, offset)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: short read for page %d at offset %d, got %d of %d bytes",
					ErrIO, pageID, offset, n, sm.pageSize)
			}
			return nil, fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
		}
		return buf, nil
	})

	value, err := future.Wait()
	if err != nil {
		return nil, err
	}
	if sm.metrics != nil {
		sm.metrics.PagesReadCounter.Add(context.Background(), 1)
	}
	return value.([]byte), nil
}

// WritePage writes data (which must be exactly one page long) at pageID.
func (sm *StorageManager) WritePage(pageID pagemanager.PageID, data []byte) error {
	if uint32(len(data)) != sm.pageSize {
		return fmt.Errorf("%w: got %d bytes, page size is %d", ErrPageSizeMismatch, len(data), sm.pageSize)
	}
	future := sm.queue.Enqueue(func() (any, error) {
		offset := pageOffset(pageID, sm.pageSize)
		if _, err := sm.dataFile.WriteAt(data, offset); err != nil {
			return nil, fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
		}
		return nil, nil
	})

	if _, err := future.Wait(); err != nil {
		return err
	}
	if sm.metrics != nil {
		sm.metrics.PagesWrittenCounter.Add(context.Background(), 1)
	}
	if _, err := sm.binlog.Append(binlog.RecordTypeWrite, pageID); err != nil {
		sm.logger.Warn("failed to append binlog record for write",
			zap.Uint64("page_id", uint64(pageID)), zap.Error(err))
	}
	return nil
}

// Sync flushes the data file to stable storage.
func (sm *StorageManager) Sync() error {
	future := sm.queue.Enqueue(func() (any, error) {
		if err := sm.dataFile.Sync(); err != nil {
			return nil, fmt.Errorf("%w: syncing data file: %v", ErrIO, err)
		}
		return nil, nil
	})
	_, err := future.Wait()
	return err
}

// Close drains the I/O queue, syncs and closes the data file, releases the
// advisory lock, and closes the binlog.
func (sm *StorageManager) Close() error {
	sm.queue.Close()

	var firstErr error
	if err := sm.dataFile.Sync(); err != nil {
		firstErr = fmt.Errorf("%w: syncing data file on close: %v", ErrIO, err)
	}
	if err := sm.dataFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: closing data file: %v", ErrIO, err)
	}
	if err := sm.binlog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: closing binlog: %v", ErrIO, err)
	}
	releaseLock(sm.lockFile)
	if err := sm.lockFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: closing lock file: %v", ErrIO, err)
	}
	sm.logger.Info("storage manager closed", zap.String("dir", sm.dir))
	return firstErr
}

// Create initializes a fresh database directory: the data file with its
// header and a zero-filled first page, plus empty lock and binlog files.
// Administrative operation, not part of the hot path.
func Create(pageSizeKB int, dir string, overwrite bool) error {
	if pageSizeKB <= 0 {
		return fmt.Errorf("%w: page size %d KB", ErrConfigOutOfRange, pageSizeKB)
	}

	if _, err := os.Stat(dir); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return wrapFsError("removing existing directory", err)
		}
	} else if !os.IsNotExist(err) {
		return wrapFsError("stating directory", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrapFsError("creating directory", err)
	}

	pageSize := uint32(pageSizeKB) * 1024
	dataFile, err := os.OpenFile(filepath.Join(dir, DataFileName), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return wrapFsError("creating data file", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header, pageSize)
	initial := append(header, make([]byte, pageSize)...)
	if _, err := dataFile.WriteAt(initial, 0); err != nil {
		dataFile.Close()
		return fmt.Errorf("%w: writing initial header: %v", ErrIO, err)
	}
	if err := dataFile.Sync(); err != nil {
		dataFile.Close()
		return fmt.Errorf("%w: syncing data file: %v", ErrIO, err)
	}
	if err := dataFile.Close(); err != nil {
		return fmt.Errorf("%w: closing data file: %v", ErrIO, err)
	}

	for _, name := range []string{LockFileName, BinlogFileName} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return wrapFsError("creating "+name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: closing %s: %v", ErrIO, name, err)
		}
	}
	return nil
}

// GetMetadata decodes the data-file header without opening the rest of the
// database. Administrative operation.
func GetMetadata(dir string) (Metadata, error) {
	dataFile, err := os.Open(filepath.Join(dir, DataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotInitialized, filepath.Join(dir, DataFileName))
		}
		return Metadata{}, wrapFsError("opening data file", err)
	}
	defer dataFile.Close()

	pageSize, err := readHeader(dataFile)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{PageSize: pageSize}, nil
}

// pageOffset maps a page id to its absolute byte offset in the data file.
func pageOffset(pageID pagemanager.PageID, pageSize uint32) int64 {
	return headerSize + int64(pageID)*int64(pageSize)
}

// readHeader reads and validates the 4-byte page-size header.
func readHeader(file *os.File) (uint32, error) {
	header := make([]byte, headerSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return 0, fmt.Errorf("%w: reading header: %v", ErrIO, err)
	}
	pageSize := binary.LittleEndian.Uint32(header)
	if pageSize == 0 || pageSize%pageSizeMultiple != 0 {
		return 0, fmt.Errorf("%w: page size %d is not a positive multiple of %d", ErrConfigOutOfRange, pageSize, pageSizeMultiple)
	}
	return pageSize, nil
}

func releaseLock(lockFile *os.File) {
	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
}

func wrapFsError(action string, err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %s: %v", ErrAccessDenied, action, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, action, err)
}
