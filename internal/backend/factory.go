package backend

import (
	"context"
	"fmt"

	"kakeibo/internal/log"
	"kakeibo/internal/storage"
	"kakeibo/internal/store"
	"kakeibo/internal/store/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentBackend)
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the repository and loads the first snapshot. Any
// failure is reported as store.ErrUnavailable.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var (
		repo    store.Repository
		tracker store.SyncTracker
	)
	switch config.Type {
	case SQLiteBackend:
		sqliteRepo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("%w: initialize SQLite repository: %v", store.ErrUnavailable, err)
		}
		repo, tracker = sqliteRepo, sqliteRepo
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		mem := memory.New()
		repo, tracker = mem, mem
		f.logger.WarnContext(ctx, "Initialized memory backend; data is lost on restart")
	}

	live, err := store.NewLive(ctx, repo, f.logger.WithComponent(log.ComponentStore))
	if err != nil {
		if cerr := repo.Close(); cerr != nil {
			f.logger.WarnContext(ctx, "Failed to close repository", log.FieldError, cerr)
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return &BackendResult{
		Repo:    repo,
		Live:    live,
		Tracker: tracker,
		Cleanup: live.Close,
	}, nil
}
