package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/call-transcriber/internal/config"
)

// ErrNotFound is returned by Store.Get for an unknown call id
var ErrNotFound = errors.New("transcript not found")

// Store persists one Record per call id. Put overwrites.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, callID string) (Record, error)
	Close() error
}

// Pinger is implemented by stores that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open selects the store backend from cfg
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.TranscriptStore {
	case config.StoreFile, "":
		return NewFileStore(cfg.TranscriptDir)
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown transcript store %q", cfg.TranscriptStore)
}
