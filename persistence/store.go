// Package persistence provides durable storage for conversation session
// snapshots.
//
// A snapshot is written after every completed turn and on every state
// change, so a stored snapshot is always sufficient to resume its session.
//
// Supported backends:
// - Memory: For development and testing (default)
// - Redis: For distributed deployments with shared state
// - SQLite: For single-node deployments that need durable history
package persistence

import (
	"context"
	"errors"

	"github.com/BaSui01/convoloop/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// Store persists session snapshots. Implementations must be safe for
// concurrent use; the session loop and API handlers share one store.
type Store interface {
	// SaveSnapshot upserts the snapshot for its session.
	SaveSnapshot(ctx context.Context, snap *types.Snapshot) error

	// LoadSnapshot returns the latest snapshot for the session, or
	// ErrNotFound.
	LoadSnapshot(ctx context.Context, sessionID string) (*types.Snapshot, error)

	// ListSessions returns the IDs of all stored sessions.
	ListSessions(ctx context.Context) ([]string, error)

	// DeleteSnapshot removes the session's snapshot. Deleting a missing
	// session returns ErrNotFound.
	DeleteSnapshot(ctx context.Context, sessionID string) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

func validateSnapshot(snap *types.Snapshot) error {
	if snap == nil || snap.SessionID == "" {
		return ErrInvalidInput
	}
	return nil
}
