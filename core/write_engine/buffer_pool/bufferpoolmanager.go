// Package bufferpool caches pages in memory with a two-queue residency
// policy. A page brought in by its first reference lives in the history
// list; a second reference promotes it to the cache list, so a single
// probe never displaces a hot page. Pin counts keep pages unevictable
// while callers hold them; dirty pages are written back before eviction.
package bufferpool

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	storageengine "github.com/sushant-115/picodb/core/storage_engine"
	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/picodb/internal/telemetry"
)

// Storage is the slice of the storage manager the buffer pool consumes.
// *storageengine.StorageManager satisfies it.
type Storage interface {
	AllocatePage() (pagemanager.PageID, error)
	ReadPage(pageID pagemanager.PageID) ([]byte, error)
	WritePage(pageID pagemanager.PageID, data []byte) error
	Sync() error
	PageSize() uint32
}

// MinPoolSize is the smallest allowed pool capacity. Below this the
// history tier would round down to zero frames.
const MinPoolSize = 4

// BufferPoolManager mediates all page access from higher layers. A pool of
// capacity N splits into a history tier of floor(N/4) frames and a cache
// tier of 3*floor(N/4) frames. Both lists keep the most recently touched
// entry at the back; eviction scans from the front.
type BufferPoolManager struct {
	storage    Storage
	poolSize   int
	historyCap int
	cacheCap   int
	pageSize   int

	mu         sync.Mutex
	history    *list.List // of *pagemanager.Page
	cache      *list.List // of *pagemanager.Page
	historyMap map[pagemanager.PageID]*list.Element
	cacheMap   map[pagemanager.PageID]*list.Element

	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// NewBufferPoolManager creates and initializes a new BufferPoolManager.
// poolSize must be at least MinPoolSize. metrics may be nil.
func NewBufferPoolManager(poolSize int, storage Storage, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*BufferPoolManager, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if poolSize < MinPoolSize {
		return nil, fmt.Errorf("%w: pool size %d, minimum is %d", storageengine.ErrConfigOutOfRange, poolSize, MinPoolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	quarter := poolSize / 4
	bpm := &BufferPoolManager{
		storage:    storage,
		poolSize:   poolSize,
		historyCap: quarter,
		cacheCap:   3 * quarter,
		pageSize:   int(storage.PageSize()),
		history:    list.New(),
		cache:      list.New(),
		historyMap: make(map[pagemanager.PageID]*list.Element),
		cacheMap:   make(map[pagemanager.PageID]*list.Element),
		logger:     logger,
		metrics:    metrics,
	}
	logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("history_capacity", bpm.historyCap),
		zap.Int("cache_capacity", bpm.cacheCap),
		zap.Int("page_size", bpm.pageSize),
	)
	return bpm, nil
}

// NewPage allocates a new page on disk and registers a zeroed, pinned,
// dirty buffer for it in the history list.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	newPageID, err := bpm.storage.AllocatePage()
	if err != nil {
		return nil, pagemanager.InvalidPageID, fmt.Errorf("failed to allocate new page on disk: %w", err)
	}

	if bpm.history.Len() >= bpm.historyCap {
		if err := bpm.evictLocked(bpm.history, bpm.historyMap, "history"); err != nil {
			return nil, pagemanager.InvalidPageID, err
		}
	}

	page := pagemanager.NewPage(newPageID, bpm.pageSize)
	page.SetPinCount(1)
	page.SetDirty(true)
	elem := bpm.history.PushBack(page)
	page.SetListElement(elem)
	bpm.historyMap[newPageID] = elem

	bpm.logger.Debug("new page registered in history",
		zap.Uint64("page_id", uint64(newPageID)))
	return page, newPageID, nil
}

// FetchPage returns the page for pageID, pinning it. A cache hit touches
// the entry; a history hit promotes it to the cache; a miss reads the page
// from disk into the history list. The pin is taken before any eviction,
// so a resident page can never become the victim of its own fetch.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if elem, ok := bpm.cacheMap[pageID]; ok {
		page := elem.Value.(*pagemanager.Page)
		page.Pin()
		bpm.cache.MoveToBack(elem)
		bpm.countHit()
		return page, nil
	}

	if elem, ok := bpm.historyMap[pageID]; ok {
		page := elem.Value.(*pagemanager.Page)
		page.Pin()
		if bpm.cache.Len() >= bpm.cacheCap {
			if err := bpm.evictLocked(bpm.cache, bpm.cacheMap, "cache"); err != nil {
				page.Unpin()
				return nil, err
			}
		}
		bpm.history.Remove(elem)
		delete(bpm.historyMap, pageID)
		promoted := bpm.cache.PushBack(page)
		page.SetListElement(promoted)
		bpm.cacheMap[pageID] = promoted
		bpm.countHit()
		bpm.logger.Debug("promoted page from history to cache",
			zap.Uint64("page_id", uint64(pageID)))
		return page, nil
	}

	// Not resident: make room in history, then read from disk.
	if bpm.history.Len() >= bpm.historyCap {
		if err := bpm.evictLocked(bpm.history, bpm.historyMap, "history"); err != nil {
			return nil, err
		}
	}
	data, err := bpm.storage.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}
	page := pagemanager.NewPage(pageID, bpm.pageSize)
	page.SetData(data)
	page.SetPinCount(1)
	elem := bpm.history.PushBack(page)
	page.SetListElement(elem)
	bpm.historyMap[pageID] = elem
	bpm.countMiss()
	bpm.logger.Debug("loaded page into history",
		zap.Uint64("page_id", uint64(pageID)))
	return page, nil
}

// evictLocked removes the oldest unpinned entry from the given list,
// writing it back first if dirty. A failed write-back leaves the victim in
// place, still dirty and resident. If every entry is pinned the pool has
// overflowed, which signals leaked pins in the caller.
func (bpm *BufferPoolManager) evictLocked(l *list.List, m map[pagemanager.PageID]*list.Element, tier string) error {
	for elem := l.Front(); elem != nil; elem = elem.Next() {
		page := elem.Value.(*pagemanager.Page)
		if page.GetPinCount() != 0 {
			continue
		}
		if page.IsDirty() {
			if err := bpm.storage.WritePage(page.GetPageID(), page.GetData()); err != nil {
				return fmt.Errorf("failed to write back victim page %d: %w", page.GetPageID(), err)
			}
			page.SetDirty(false)
			if bpm.metrics != nil {
				bpm.metrics.WritebackCounter.Add(context.Background(), 1)
			}
		}
		l.Remove(elem)
		delete(m, page.GetPageID())
		page.SetListElement(nil)
		if bpm.metrics != nil {
			bpm.metrics.EvictionCounter.Add(context.Background(), 1)
		}
		bpm.logger.Debug("evicted page",
			zap.Uint64("page_id", uint64(page.GetPageID())),
			zap.String("tier", tier))
		return nil
	}
	return fmt.Errorf("%w: all pages in %s are pinned", storageengine.ErrBufferPoolOverflow, tier)
}

// UnpinPage decrements the pin count for a page. Unpinning a page whose
// pin count is already zero is a no-op. If isDirty is true the page is
// marked dirty; the flag is sticky until a successful write-back.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	elem, ok := bpm.cacheMap[pageID]
	if !ok {
		if elem, ok = bpm.historyMap[pageID]; !ok {
			return fmt.Errorf("%w: page %d", storageengine.ErrPageNotFound, pageID)
		}
	}
	page := elem.Value.(*pagemanager.Page)
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	return nil
}

// FlushAll writes every dirty resident page back to disk, awaiting each
// write before clearing its dirty flag, then syncs the storage manager.
// Calling it twice with no intervening mutation performs no writes the
// second time.
func (bpm *BufferPoolManager) FlushAll() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for _, l := range []*list.List{bpm.history, bpm.cache} {
		for elem := l.Front(); elem != nil; elem = elem.Next() {
			page := elem.Value.(*pagemanager.Page)
			if !page.IsDirty() {
				continue
			}
			if err := bpm.storage.WritePage(page.GetPageID(), page.GetData()); err != nil {
				bpm.logger.Error("failed to flush page",
					zap.Uint64("page_id", uint64(page.GetPageID())), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			page.SetDirty(false)
		}
	}
	if err := bpm.storage.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// HistoryLen reports the number of pages resident in the history list.
func (bpm *BufferPoolManager) HistoryLen() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.history.Len()
}

// CacheLen reports the number of pages resident in the cache list.
func (bpm *BufferPoolManager) CacheLen() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.cache.Len()
}

// GetPageSize returns the page size the pool was configured with.
func (bpm *BufferPoolManager) GetPageSize() int {
	return bpm.pageSize
}

func (bpm *BufferPoolManager) countHit() {
	if bpm.metrics != nil {
		bpm.metrics.PoolHitCounter.Add(context.Background(), 1)
	}
}

func (bpm *BufferPoolManager) countMiss() {
	if bpm.metrics != nil {
		bpm.metrics.PoolMissCounter.Add(context.Background(), 1)
	}
}
