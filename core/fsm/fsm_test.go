package fsm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storageengine "github.com/sushant-115/picodb/core/storage_engine"
	bufferpool "github.com/sushant-115/picodb/core/write_engine/buffer_pool"
	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
)

// setupAccessor creates a 4 KiB-page database with a small pool and an FSM
// accessor over it.
func setupAccessor(t *testing.T) (*Accessor, *bufferpool.BufferPoolManager, *storageengine.StorageManager, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, storageengine.Create(4, dir, false))
	sm, err := storageengine.Open(dir, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sm.Close() })

	pool, err := bufferpool.NewBufferPoolManager(4, sm, zap.NewNop(), nil)
	require.NoError(t, err)
	return NewAccessor(pool, zap.NewNop()), pool, sm, dir
}

// TestSetGetRoundTrip writes the used-space byte for page 2050 and reads
// it back. With a 4096-byte page the percentage lands in FSM page 0
// (floor(2050/4096)*4096) at offset 2050.
func TestSetGetRoundTrip(t *testing.T) {
	accessor, pool, _, _ := setupAccessor(t)

	require.NoError(t, accessor.SetUsedSpacePercent(2050, 75))

	pct, err := accessor.UsedSpacePercent(2050)
	require.NoError(t, err)
	require.Equal(t, uint8(75), pct)

	// The mutation landed in FSM page 0 at byte offset 2050.
	page, err := pool.FetchPage(0)
	require.NoError(t, err)
	require.Equal(t, byte(75), page.GetData()[2050])
	require.True(t, page.IsDirty())
	require.NoError(t, pool.UnpinPage(0, false))
}

// TestRoundTripFullByteRange: the FSM stores a raw unsigned byte, so every
// value in [0,255] round-trips unchanged.
func TestRoundTripFullByteRange(t *testing.T) {
	accessor, _, _, _ := setupAccessor(t)

	for _, v := range []uint8{0, 1, 50, 100, 101, 200, 255} {
		require.NoError(t, accessor.SetUsedSpacePercent(10, v))
		pct, err := accessor.UsedSpacePercent(10)
		require.NoError(t, err)
		require.Equal(t, v, pct)
	}
}

// TestFSMPageAddressing checks the page/offset split across the FSM page
// boundary at one page-size worth of page ids.
func TestFSMPageAddressing(t *testing.T) {
	accessor, _, _, _ := setupAccessor(t)

	fsmPageID, offset := accessor.fsmAddress(2050)
	require.Equal(t, pagemanager.PageID(0), fsmPageID)
	require.Equal(t, uint64(2050), offset)

	fsmPageID, offset = accessor.fsmAddress(4095)
	require.Equal(t, pagemanager.PageID(0), fsmPageID)
	require.Equal(t, uint64(4095), offset)

	fsmPageID, offset = accessor.fsmAddress(4096)
	require.Equal(t, pagemanager.PageID(4096), fsmPageID)
	require.Equal(t, uint64(0), offset)

	fsmPageID, offset = accessor.fsmAddress(4097)
	require.Equal(t, pagemanager.PageID(4096), fsmPageID)
	require.Equal(t, uint64(1), offset)
}

func TestFreeSpaceLeftBytes(t *testing.T) {
	accessor, _, _, _ := setupAccessor(t)

	require.Equal(t, uint64(4096), accessor.FreeSpaceLeftBytes(0))
	require.Equal(t, uint64(2048), accessor.FreeSpaceLeftBytes(50))
	require.Equal(t, uint64(0), accessor.FreeSpaceLeftBytes(100))
	// Raw byte values above 100 clamp instead of underflowing.
	require.Equal(t, uint64(0), accessor.FreeSpaceLeftBytes(255))
}

// TestPersistsAcrossReopen: a flushed FSM byte survives a full close and a
// fresh storage manager + pool over the same file.
func TestPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, storageengine.Create(4, dir, false))

	sm, err := storageengine.Open(dir, zap.NewNop(), nil)
	require.NoError(t, err)
	pool, err := bufferpool.NewBufferPoolManager(4, sm, zap.NewNop(), nil)
	require.NoError(t, err)
	accessor := NewAccessor(pool, zap.NewNop())

	require.NoError(t, accessor.SetUsedSpacePercent(123, 42))
	require.NoError(t, pool.FlushAll())
	require.NoError(t, sm.Close())

	sm2, err := storageengine.Open(dir, zap.NewNop(), nil)
	require.NoError(t, err)
	defer sm2.Close()
	pool2, err := bufferpool.NewBufferPoolManager(4, sm2, zap.NewNop(), nil)
	require.NoError(t, err)
	accessor2 := NewAccessor(pool2, zap.NewNop())

	pct, err := accessor2.UsedSpacePercent(123)
	require.NoError(t, err)
	require.Equal(t, uint8(42), pct)
}
