// Package store provides durable local storage for tasks and the mutation
// journal. Two backends implement the same contract: a relational one on
// SQLite and a key-value fallback on bbolt. Callers never branch on which
// backend is active.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/model"
)

var (
	// ErrNotInitialized is returned for any operation issued before
	// Initialize has completed.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNotFound is returned when no task matches the given local id.
	ErrNotFound = errors.New("task not found")

	// ErrStorageUnavailable is returned when no backend could be brought up.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageIO wraps backend-level I/O failures. The store never
	// retries; retry policy belongs to callers.
	ErrStorageIO = errors.New("storage i/o error")
)

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageIO, op, err)
}

// Store is the single contract both backends satisfy. All operations are
// serialized internally to at least the "no torn writes" granularity;
// callers may invoke them concurrently.
type Store interface {
	// Initialize is idempotent; it creates schema or buckets if absent.
	Initialize(ctx context.Context) error

	// ListTasks returns every task, newest CreatedAt first.
	ListTasks(ctx context.Context) ([]model.Task, error)
	GetTaskByLocalID(ctx context.Context, localID string) (*model.Task, error)
	GetTaskByServerID(ctx context.Context, serverID int64) (*model.Task, error)

	// InsertTask assigns a fresh local id, stamps timestamps, marks the
	// task pending-create, persists it and appends the matching journal
	// entry before returning.
	InsertTask(ctx context.Context, draft model.Draft) (*model.Task, error)

	// UpdateTask merges the patch onto the existing row, marks it
	// pending-update and appends a journal entry. ErrNotFound if the
	// local id is unknown.
	UpdateTask(ctx context.Context, localID string, patch model.Patch) (*model.Task, error)

	// DeleteTask removes a never-synced task outright (dropping its
	// pending journal entries along with it); otherwise it marks the
	// task pending-delete and appends a journal entry carrying the
	// pre-delete snapshot.
	DeleteTask(ctx context.Context, localID string) error

	// RemoveTask physically deletes the row. Called by the sync engine
	// once the server has confirmed a delete.
	RemoveTask(ctx context.Context, localID string) error

	// ReconcileFromServer merges a downloaded snapshot: rows matched by
	// server id are overwritten only when NeedsSync is false; unmatched
	// server tasks are inserted as fully-synced local rows.
	ReconcileFromServer(ctx context.Context, serverTasks []model.ServerTask) error

	// AttachServerID records server acceptance: sets the server id and
	// clears NeedsSync, PendingAction and IsOffline.
	AttachServerID(ctx context.Context, localID string, serverID int64) error

	// ListPendingJournalEntries returns unsynced entries, oldest first.
	ListPendingJournalEntries(ctx context.Context) ([]model.JournalEntry, error)
	CountPendingJournalEntries(ctx context.Context) (int, error)
	MarkJournalEntrySynced(ctx context.Context, id int64) error
	PurgeSyncedJournalEntries(ctx context.Context) error

	// ClearAll wipes tasks and journal. Used only by explicit reset.
	ClearAll(ctx context.Context) error

	Close() error
}

// Backend selection values for Options.Backend.
const (
	BackendAuto   = "auto"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Options configures Open.
type Options struct {
	// Dir is the directory holding the database files.
	Dir string
	// Backend is one of auto, sqlite or bolt. Auto probes SQLite first
	// and falls back to the key-value backend.
	Backend string
}

// Open brings up a backend in dir and initializes it. With BackendAuto the
// relational backend is probed first; if it cannot be opened the key-value
// fallback is tried. ErrStorageUnavailable when neither comes up.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: storage directory is required", ErrStorageUnavailable)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage directory: %w", ErrStorageUnavailable, err)
	}

	backend := opts.Backend
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendSQLite:
		return openSQLite(ctx, filepath.Join(opts.Dir, "tasks.db"))
	case BackendBolt:
		return openBolt(ctx, filepath.Join(opts.Dir, "tasks.bolt"))
	case BackendAuto:
		s, sqlErr := openSQLite(ctx, filepath.Join(opts.Dir, "tasks.db"))
		if sqlErr == nil {
			return s, nil
		}
		logger.Warn("SQLite backend unavailable, falling back to key-value store",
			logger.F("error", sqlErr))
		b, boltErr := openBolt(ctx, filepath.Join(opts.Dir, "tasks.bolt"))
		if boltErr == nil {
			return b, nil
		}
		return nil, fmt.Errorf("%w: sqlite: %v; bolt: %v", ErrStorageUnavailable, sqlErr, boltErr)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrStorageUnavailable, backend)
	}
}

func openSQLite(ctx context.Context, path string) (Store, error) {
	s := NewSQLiteStore(path)
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	logger.Info("Local store ready", logger.F("backend", "sqlite"), logger.F("path", path))
	return s, nil
}

func openBolt(ctx context.Context, path string) (Store, error) {
	b := NewBoltStore(path)
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	logger.Info("Local store ready", logger.F("backend", "bolt"), logger.F("path", path))
	return b, nil
}
