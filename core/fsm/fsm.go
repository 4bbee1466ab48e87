// Package fsm reads and writes the free space map. Pages whose id is a
// multiple of the page size are FSM pages; an FSM page stores one unsigned
// byte per managed page encoding its used-space percentage. The byte for
// page p lives in FSM page floor(p/pageSize)*pageSize at offset
// p mod pageSize.
package fsm

import (
	"fmt"

	"go.uber.org/zap"

	bufferpool "github.com/sushant-115/picodb/core/write_engine/buffer_pool"
	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
)

// Accessor encodes and decodes per-page used-space bytes through the
// buffer pool. It is an ordinary pool consumer: pin, touch one byte, unpin.
type Accessor struct {
	pool     *bufferpool.BufferPoolManager
	pageSize uint64
	logger   *zap.Logger
}

// NewAccessor creates an FSM accessor over the given buffer pool.
func NewAccessor(pool *bufferpool.BufferPoolManager, logger *zap.Logger) *Accessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accessor{
		pool:     pool,
		pageSize: uint64(pool.GetPageSize()),
		logger:   logger,
	}
}

// fsmAddress maps a page id to the FSM page holding its byte and the
// offset of that byte within the FSM page.
func (a *Accessor) fsmAddress(pageID pagemanager.PageID) (pagemanager.PageID, uint64) {
	fsmPageID := pagemanager.PageID(uint64(pageID) / a.pageSize * a.pageSize)
	offset := uint64(pageID) % a.pageSize
	return fsmPageID, offset
}

// UsedSpacePercent returns the recorded used-space percentage for pageID.
func (a *Accessor) UsedSpacePercent(pageID pagemanager.PageID) (uint8, error) {
	fsmPageID, offset := a.fsmAddress(pageID)
	page, err := a.pool.FetchPage(fsmPageID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch fsm page %d: %w", fsmPageID, err)
	}
	pct := page.GetData()[offset]
	if err := a.pool.UnpinPage(fsmPageID, false); err != nil {
		return 0, fmt.Errorf("failed to unpin fsm page %d: %w", fsmPageID, err)
	}
	return pct, nil
}

// SetUsedSpacePercent records the used-space percentage for pageID and
// marks the FSM page dirty.
func (a *Accessor) SetUsedSpacePercent(pageID pagemanager.PageID, pct uint8) error {
	fsmPageID, offset := a.fsmAddress(pageID)
	page, err := a.pool.FetchPage(fsmPageID)
	if err != nil {
		return fmt.Errorf("failed to fetch fsm page %d: %w", fsmPageID, err)
	}
	page.GetData()[offset] = pct
	if err := a.pool.UnpinPage(fsmPageID, true); err != nil {
		return fmt.Errorf("failed to unpin fsm page %d: %w", fsmPageID, err)
	}
	a.logger.Debug("set used space percent",
		zap.Uint64("page_id", uint64(pageID)),
		zap.Uint64("fsm_page_id", uint64(fsmPageID)),
		zap.Uint8("percent", pct))
	return nil
}

// FreeSpaceLeftBytes converts a used-space percentage into the number of
// free bytes left in a page. Raw byte values above 100 clamp to zero.
func (a *Accessor) FreeSpaceLeftBytes(pct uint8) uint64 {
	if pct >= 100 {
		return 0
	}
	return uint64(100-pct) * a.pageSize / 100
}
