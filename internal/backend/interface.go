package backend

import (
	"context"

	"kakeibo/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the opened store. Tracker is nil for backends that
// do not record mirror progress.
type BackendResult struct {
	Repo    store.Repository
	Live    *store.Live
	Tracker store.SyncTracker
	Cleanup CleanupFunc
}

// Factory opens the expense store selected by config. Callers treat an
// error wrapping store.ErrUnavailable as a signal to run degraded.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type         BackendType
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
