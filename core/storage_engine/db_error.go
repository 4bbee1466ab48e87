package storageengine

import "errors"

// --- Error Definitions ---

var (
	ErrConfigOutOfRange   = errors.New("configuration value out of range")
	ErrNotInitialized     = errors.New("database not initialized, run 'picodb init' first")
	ErrAccessDenied       = errors.New("access denied")
	ErrAlreadyExists      = errors.New("database directory already exists")
	ErrPageSizeMismatch   = errors.New("buffer length does not match page size")
	ErrBufferPoolOverflow = errors.New("buffer pool overflow")
	ErrIO                 = errors.New("i/o error")
	ErrPageNotFound       = errors.New("page not found in buffer pool")
	ErrDatabaseLocked     = errors.New("database is locked by another process")
)
