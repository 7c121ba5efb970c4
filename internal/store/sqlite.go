package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/quietgrid/tasksync/internal/model"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC strings so lexicographic order
// matches chronological order in ORDER BY clauses.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Rows written by older schema revisions used plain RFC3339.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    local_id TEXT PRIMARY KEY,
    server_id INTEGER,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    due_date TEXT,
    completed_at TEXT,
    user_id INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    needs_sync INTEGER NOT NULL DEFAULT 1,
    pending_action TEXT NOT NULL DEFAULT '',
    is_offline INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_tasks_server_id ON tasks(server_id);
CREATE INDEX IF NOT EXISTS idx_tasks_needs_sync ON tasks(needs_sync);

CREATE TABLE IF NOT EXISTS sync_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_local_id TEXT NOT NULL,
    action TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_actions_synced ON sync_actions(synced);
CREATE INDEX IF NOT EXISTS idx_sync_actions_task ON sync_actions(task_local_id);
`

// SQLiteStore is the relational backend.
type SQLiteStore struct {
	path string

	mu          sync.Mutex
	db          *sqlx.DB
	initialized bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns an unopened store for the given database file.
// Call Initialize before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Initialize opens the database and creates the schema. Idempotent.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return ioErr("open database", err)
	}
	// modernc's driver is happiest with a single connection; this also
	// serializes all statements at the pool level.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return ioErr("connect to database", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return ioErr("enable foreign keys", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return ioErr("apply schema", err)
	}

	s.db = db
	s.initialized = true
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false
	return s.db.Close()
}

func (s *SQLiteStore) handle() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// taskRow maps a tasks table row.
type taskRow struct {
	LocalID       string         `db:"local_id"`
	ServerID      sql.NullInt64  `db:"server_id"`
	Title         string         `db:"title"`
	Description   string         `db:"description"`
	Status        string         `db:"status"`
	Priority      string         `db:"priority"`
	DueDate       sql.NullString `db:"due_date"`
	CompletedAt   sql.NullString `db:"completed_at"`
	UserID        int64          `db:"user_id"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	NeedsSync     bool           `db:"needs_sync"`
	PendingAction string         `db:"pending_action"`
	IsOffline     bool           `db:"is_offline"`
}

func (r taskRow) toTask() model.Task {
	t := model.Task{
		LocalID:       r.LocalID,
		Title:         r.Title,
		Description:   r.Description,
		Status:        r.Status,
		Priority:      r.Priority,
		UserID:        r.UserID,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
		NeedsSync:     r.NeedsSync,
		PendingAction: r.PendingAction,
		IsOffline:     r.IsOffline,
	}
	if r.ServerID.Valid {
		v := r.ServerID.Int64
		t.ServerID = &v
	}
	if r.DueDate.Valid {
		v := parseTime(r.DueDate.String)
		t.DueDate = &v
	}
	if r.CompletedAt.Valid {
		v := parseTime(r.CompletedAt.String)
		t.CompletedAt = &v
	}
	return t
}

func fromTask(t *model.Task) taskRow {
	r := taskRow{
		LocalID:       t.LocalID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		UserID:        t.UserID,
		CreatedAt:     formatTime(t.CreatedAt),
		UpdatedAt:     formatTime(t.UpdatedAt),
		NeedsSync:     t.NeedsSync,
		PendingAction: t.PendingAction,
		IsOffline:     t.IsOffline,
	}
	if t.ServerID != nil {
		r.ServerID = sql.NullInt64{Int64: *t.ServerID, Valid: true}
	}
	if t.DueDate != nil {
		r.DueDate = sql.NullString{String: formatTime(*t.DueDate), Valid: true}
	}
	if t.CompletedAt != nil {
		r.CompletedAt = sql.NullString{String: formatTime(*t.CompletedAt), Valid: true}
	}
	return r
}

// journalRow maps a sync_actions table row.
type journalRow struct {
	ID          int64  `db:"id"`
	TaskLocalID string `db:"task_local_id"`
	Action      string `db:"action"`
	Snapshot    string `db:"snapshot"`
	Timestamp   string `db:"timestamp"`
	Synced      bool   `db:"synced"`
}

func (r journalRow) toEntry() model.JournalEntry {
	return model.JournalEntry{
		ID:          r.ID,
		TaskLocalID: r.TaskLocalID,
		Action:      r.Action,
		Snapshot:    r.Snapshot,
		Timestamp:   parseTime(r.Timestamp),
		Synced:      r.Synced,
	}
}

const insertTaskQuery = `
INSERT INTO tasks (local_id, server_id, title, description, status, priority,
                   due_date, completed_at, user_id, created_at, updated_at,
                   needs_sync, pending_action, is_offline)
VALUES (:local_id, :server_id, :title, :description, :status, :priority,
        :due_date, :completed_at, :user_id, :created_at, :updated_at,
        :needs_sync, :pending_action, :is_offline)
`

const updateTaskQuery = `
UPDATE tasks
SET server_id = :server_id, title = :title, description = :description,
    status = :status, priority = :priority, due_date = :due_date,
    completed_at = :completed_at, user_id = :user_id, updated_at = :updated_at,
    needs_sync = :needs_sync, pending_action = :pending_action,
    is_offline = :is_offline
WHERE local_id = :local_id
`

func appendJournalTx(ctx context.Context, tx *sqlx.Tx, localID, action string, task *model.Task, now time.Time) error {
	snapshot, err := model.SnapshotTask(task)
	if err != nil {
		return fmt.Errorf("snapshot task: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_actions (task_local_id, action, snapshot, timestamp, synced)
		 VALUES (?, ?, ?, ?, 0)`,
		localID, action, snapshot, formatTime(now))
	if err != nil {
		return ioErr("append journal entry", err)
	}
	return nil
}

// ListTasks returns every task, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rows []taskRow
	if err := db.SelectContext(ctx, &rows,
		`SELECT * FROM tasks ORDER BY created_at DESC, local_id`); err != nil {
		return nil, ioErr("list tasks", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toTask())
	}
	return tasks, nil
}

// GetTaskByLocalID returns the task or ErrNotFound.
func (s *SQLiteStore) GetTaskByLocalID(ctx context.Context, localID string) (*model.Task, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var row taskRow
	err = db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE local_id = ?`, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("get task", err)
	}
	t := row.toTask()
	return &t, nil
}

// GetTaskByServerID returns the task or ErrNotFound.
func (s *SQLiteStore) GetTaskByServerID(ctx context.Context, serverID int64) (*model.Task, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var row taskRow
	err = db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE server_id = ?`, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("get task by server id", err)
	}
	t := row.toTask()
	return &t, nil
}

// InsertTask persists a new pending-create task and its journal entry in
// one transaction.
func (s *SQLiteStore) InsertTask(ctx context.Context, draft model.Draft) (*model.Task, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task := model.Task{
		LocalID:       uuid.New().String(),
		Title:         draft.Title,
		Description:   draft.Description,
		Status:        draft.Status,
		Priority:      draft.Priority,
		DueDate:       draft.DueDate,
		UserID:        draft.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
		NeedsSync:     true,
		PendingAction: model.ActionCreate,
		IsOffline:     true,
	}
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ioErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertTaskQuery, fromTask(&task)); err != nil {
		return nil, ioErr("insert task", err)
	}
	if err := appendJournalTx(ctx, tx, task.LocalID, model.ActionCreate, &task, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ioErr("commit insert", err)
	}

	return &task, nil
}

// UpdateTask merges the patch, marks the row pending-update and appends a
// journal entry, all in one transaction.
func (s *SQLiteStore) UpdateTask(ctx context.Context, localID string, patch model.Patch) (*model.Task, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ioErr("begin transaction", err)
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE local_id = ?`, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("get task", err)
	}

	now := time.Now()
	task := row.toTask()
	patch.Apply(&task, now)
	task.NeedsSync = true
	// A task still waiting for its create to land keeps pending_action =
	// create; the queued update entry carries the new field values.
	if task.PendingAction != model.ActionCreate {
		task.PendingAction = model.ActionUpdate
	}

	if _, err := tx.NamedExecContext(ctx, updateTaskQuery, fromTask(&task)); err != nil {
		return nil, ioErr("update task", err)
	}
	if err := appendJournalTx(ctx, tx, localID, model.ActionUpdate, &task, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ioErr("commit update", err)
	}

	return &task, nil
}

// DeleteTask removes a never-synced task outright together with its
// pending journal entries; a synced task is marked pending-delete and a
// journal entry with the pre-delete snapshot is appended.
func (s *SQLiteStore) DeleteTask(ctx context.Context, localID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return ioErr("begin transaction", err)
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE local_id = ?`, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return ioErr("get task", err)
	}

	now := time.Now()
	if !row.ServerID.Valid {
		// Never synced: nothing to tell the server. Drop the row and any
		// queued entries so the task cannot resurrect as a server ghost.
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE local_id = ?`, localID); err != nil {
			return ioErr("delete task", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_actions WHERE task_local_id = ? AND synced = 0`, localID); err != nil {
			return ioErr("drop journal entries", err)
		}
		return commitTx(tx, "delete")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET pending_action = ?, needs_sync = 1, updated_at = ? WHERE local_id = ?`,
		model.ActionDelete, formatTime(now), localID); err != nil {
		return ioErr("mark task deleted", err)
	}

	task := row.toTask()
	if err := appendJournalTx(ctx, tx, localID, model.ActionDelete, &task, now); err != nil {
		return err
	}
	return commitTx(tx, "delete")
}

// RemoveTask physically deletes the row. ErrNotFound when absent.
func (s *SQLiteStore) RemoveTask(ctx context.Context, localID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE local_id = ?`, localID)
	if err != nil {
		return ioErr("remove task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReconcileFromServer merges the downloaded snapshot. Server state wins
// only for rows with no outstanding local change.
func (s *SQLiteStore) ReconcileFromServer(ctx context.Context, serverTasks []model.ServerTask) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return ioErr("begin transaction", err)
	}
	defer tx.Rollback()

	for _, st := range serverTasks {
		var row taskRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE server_id = ?`, st.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			task := serverToLocal(st)
			if _, err := tx.NamedExecContext(ctx, insertTaskQuery, fromTask(&task)); err != nil {
				return ioErr("insert server task", err)
			}
		case err != nil:
			return ioErr("get task by server id", err)
		case row.NeedsSync:
			// Local pending change beats the server snapshot until it syncs.
		default:
			task := serverToLocal(st)
			task.LocalID = row.LocalID
			task.CreatedAt = parseTime(row.CreatedAt)
			if _, err := tx.NamedExecContext(ctx, updateTaskQuery, fromTask(&task)); err != nil {
				return ioErr("overwrite task from server", err)
			}
		}
	}
	return commitTx(tx, "reconcile")
}

func serverToLocal(st model.ServerTask) model.Task {
	id := st.ID
	now := time.Now()
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return model.Task{
		LocalID:     uuid.New().String(),
		ServerID:    &id,
		Title:       st.Title,
		Description: st.Description,
		Status:      st.Status,
		Priority:    st.Priority,
		DueDate:     st.DueDate,
		CompletedAt: st.CompletedAt,
		UserID:      st.UserID,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		NeedsSync:   false,
		IsOffline:   false,
	}
}

// AttachServerID records server acceptance of a task.
func (s *SQLiteStore) AttachServerID(ctx context.Context, localID string, serverID int64) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET server_id = ?, needs_sync = 0, pending_action = '',
		        is_offline = 0, updated_at = ?
		 WHERE local_id = ?`,
		serverID, formatTime(time.Now()), localID)
	if err != nil {
		return ioErr("attach server id", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingJournalEntries returns unsynced entries, oldest first.
func (s *SQLiteStore) ListPendingJournalEntries(ctx context.Context) ([]model.JournalEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rows []journalRow
	if err := db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_actions WHERE synced = 0 ORDER BY id`); err != nil {
		return nil, ioErr("list journal entries", err)
	}

	entries := make([]model.JournalEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

// CountPendingJournalEntries returns the number of unsynced entries.
func (s *SQLiteStore) CountPendingJournalEntries(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sync_actions WHERE synced = 0`); err != nil {
		return 0, ioErr("count journal entries", err)
	}
	return count, nil
}

// MarkJournalEntrySynced flags one entry as applied.
func (s *SQLiteStore) MarkJournalEntrySynced(ctx context.Context, id int64) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		`UPDATE sync_actions SET synced = 1 WHERE id = ?`, id); err != nil {
		return ioErr("mark journal entry synced", err)
	}
	return nil
}

// PurgeSyncedJournalEntries deletes every applied entry.
func (s *SQLiteStore) PurgeSyncedJournalEntries(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		`DELETE FROM sync_actions WHERE synced = 1`); err != nil {
		return ioErr("purge journal entries", err)
	}
	return nil
}

// ClearAll wipes tasks and journal.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return ioErr("clear tasks", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_actions`); err != nil {
		return ioErr("clear journal", err)
	}
	return nil
}

func commitTx(tx *sqlx.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return ioErr("commit "+op, err)
	}
	return nil
}
