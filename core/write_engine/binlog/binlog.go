// Package binlog manages the append-only binary log file that records
// page-level mutations (allocations and writes). The log is reserved for
// future crash recovery; nothing in the engine replays it yet, but the CLI
// can decode and print it.
package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
)

// RecordType identifies the kind of page mutation a record describes.
type RecordType uint8

const (
	RecordTypeAllocate RecordType = iota + 1
	RecordTypeWrite
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeAllocate:
		return "ALLOCATE"
	case RecordTypeWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Record is one binary log entry.
type Record struct {
	ID        uuid.UUID
	Type      RecordType
	PageID    pagemanager.PageID
	Timestamp int64 // unix nanoseconds
}

// payload: 16-byte uuid, 1-byte type, 8-byte page id, 8-byte timestamp
const recordPayloadSize = 16 + 1 + 8 + 8

var (
	ErrCorruptRecord = errors.New("corrupt binlog record")
)

// Manager owns the binlog file handle. Appends go straight to the OS;
// fsyncs are batched through a rate limiter so a burst of page writes does
// not turn into a burst of fsyncs.
type Manager struct {
	mu          sync.Mutex
	file        *os.File
	logger      *zap.Logger
	syncLimiter *rate.Limiter
	pendingSync bool
}

// NewManager opens (or creates) the binlog file at path in append mode.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open binlog %s: %w", path, err)
	}
	return &Manager{
		file:   file,
		logger: logger,
		// at most 20 fsyncs per second; appends between allowances are
		// made durable by the next allowed sync or by Close
		syncLimiter: rate.NewLimiter(rate.Limit(20), 1),
	}, nil
}

// Append writes a record for the given mutation and returns its id.
func (m *Manager) Append(recordType RecordType, pageID pagemanager.PageID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return uuid.Nil, errors.New("binlog is closed")
	}

	record := Record{
		ID:        uuid.New(),
		Type:      recordType,
		PageID:    pageID,
		Timestamp: time.Now().UnixNano(),
	}
	buf := encodeRecord(record)
	if _, err := m.file.Write(buf); err != nil {
		return uuid.Nil, fmt.Errorf("failed to append binlog record: %w", err)
	}

	if m.syncLimiter.Allow() {
		if err := m.file.Sync(); err != nil {
			return uuid.Nil, fmt.Errorf("failed to sync binlog: %w", err)
		}
		m.pendingSync = false
	} else {
		m.pendingSync = true
	}
	return record.ID, nil
}

// Sync forces any appended records to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync binlog: %w", err)
	}
	m.pendingSync = false
	return nil
}

// Close syncs outstanding records and closes the file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if m.pendingSync {
		if err := m.file.Sync(); err != nil {
			m.logger.Warn("failed to sync binlog on close", zap.Error(err))
		}
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func encodeRecord(record Record) []byte {
	buf := make([]byte, 4+recordPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], recordPayloadSize)
	copy(buf[4:20], record.ID[:])
	buf[20] = byte(record.Type)
	binary.LittleEndian.PutUint64(buf[21:29], uint64(record.PageID))
	binary.LittleEndian.PutUint64(buf[29:37], uint64(record.Timestamp))
	return buf
}

func decodeRecord(payload []byte) (Record, error) {
	if len(payload) != recordPayloadSize {
		return Record{}, fmt.Errorf("%w: payload length %d", ErrCorruptRecord, len(payload))
	}
	var record Record
	copy(record.ID[:], payload[0:16])
	record.Type = RecordType(payload[16])
	record.PageID = pagemanager.PageID(binary.LittleEndian.Uint64(payload[17:25]))
	record.Timestamp = int64(binary.LittleEndian.Uint64(payload[25:33]))
	return record, nil
}

// ReadAll decodes every record in the binlog file at path. A truncated
// trailing record (torn final append) ends the scan without error.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open binlog %s: %w", path, err)
	}
	defer file.Close()

	var records []Record
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(file, lenBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read binlog record length: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf)
		if payloadLen != recordPayloadSize {
			return nil, fmt.Errorf("%w: declared length %d", ErrCorruptRecord, payloadLen)
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(file, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read binlog record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
