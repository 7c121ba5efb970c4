package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quietgrid/tasksync/internal/model"
	bolt "go.etcd.io/bbolt"
)

// Bucket layout mirrors the relational schema: tasks keyed by local id, a
// secondary index from server id to local id, and the journal keyed by a
// monotonically increasing sequence so iteration order is enqueue order.
var (
	bucketTasks     = []byte("tasks")
	bucketServerIDs = []byte("server_ids")
	bucketJournal   = []byte("journal")
)

// BoltStore is the key-value fallback backend.
type BoltStore struct {
	path string

	mu          sync.Mutex
	db          *bolt.DB
	initialized bool
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore returns an unopened store for the given file. Call
// Initialize before use.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

// Initialize opens the file and creates the buckets. Idempotent.
func (b *BoltStore) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return ioErr("open key-value store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTasks, bucketServerIDs, bucketJournal} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return ioErr("create buckets", err)
	}

	b.db = db
	b.initialized = true
	return nil
}

// Close closes the underlying file.
func (b *BoltStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	b.initialized = false
	return b.db.Close()
}

func (b *BoltStore) handle() (*bolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, ErrNotInitialized
	}
	return b.db, nil
}

func itob(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func putTask(tx *bolt.Tx, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketTasks).Put([]byte(task.LocalID), data); err != nil {
		return err
	}
	if task.ServerID != nil {
		return tx.Bucket(bucketServerIDs).Put(itob(*task.ServerID), []byte(task.LocalID))
	}
	return nil
}

func getTask(tx *bolt.Tx, localID string) (*model.Task, bool) {
	data := tx.Bucket(bucketTasks).Get([]byte(localID))
	if data == nil {
		return nil, false
	}
	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false
	}
	return &task, true
}

func appendJournal(tx *bolt.Tx, localID, action string, task *model.Task, now time.Time) error {
	snapshot, err := model.SnapshotTask(task)
	if err != nil {
		return err
	}
	bucket := tx.Bucket(bucketJournal)
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	entry := model.JournalEntry{
		ID:          int64(seq),
		TaskLocalID: localID,
		Action:      action,
		Snapshot:    snapshot,
		Timestamp:   now,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return bucket.Put(itob(entry.ID), data)
}

// ListTasks returns every task, newest CreatedAt first. The key-value
// backend has no ordered index on timestamps, so the scan sorts in memory.
func (b *BoltStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var tasks []model.Task
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var task model.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	if err != nil {
		return nil, ioErr("list tasks", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].LocalID < tasks[j].LocalID
	})
	return tasks, nil
}

// GetTaskByLocalID returns the task or ErrNotFound.
func (b *BoltStore) GetTaskByLocalID(ctx context.Context, localID string) (*model.Task, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var task *model.Task
	err = db.View(func(tx *bolt.Tx) error {
		task, _ = getTask(tx, localID)
		return nil
	})
	if err != nil {
		return nil, ioErr("get task", err)
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

// GetTaskByServerID looks the task up through the secondary index.
func (b *BoltStore) GetTaskByServerID(ctx context.Context, serverID int64) (*model.Task, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var task *model.Task
	err = db.View(func(tx *bolt.Tx) error {
		localID := tx.Bucket(bucketServerIDs).Get(itob(serverID))
		if localID == nil {
			return nil
		}
		task, _ = getTask(tx, string(localID))
		return nil
	})
	if err != nil {
		return nil, ioErr("get task by server id", err)
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

// InsertTask persists a new pending-create task and its journal entry in
// one bolt transaction.
func (b *BoltStore) InsertTask(ctx context.Context, draft model.Draft) (*model.Task, error) {
	db, err := b.handle()
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

	err = db.Update(func(tx *bolt.Tx) error {
		if err := putTask(tx, &task); err != nil {
			return err
		}
		return appendJournal(tx, task.LocalID, model.ActionCreate, &task, now)
	})
	if err != nil {
		return nil, ioErr("insert task", err)
	}
	return &task, nil
}

// UpdateTask merges the patch and appends a journal entry.
func (b *BoltStore) UpdateTask(ctx context.Context, localID string, patch model.Patch) (*model.Task, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var updated *model.Task
	err = db.Update(func(tx *bolt.Tx) error {
		task, ok := getTask(tx, localID)
		if !ok {
			return ErrNotFound
		}
		now := time.Now()
		patch.Apply(task, now)
		task.NeedsSync = true
		if task.PendingAction != model.ActionCreate {
			task.PendingAction = model.ActionUpdate
		}
		if err := putTask(tx, task); err != nil {
			return err
		}
		if err := appendJournal(tx, localID, model.ActionUpdate, task, now); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err == nil {
		return updated, nil
	}
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	return nil, ioErr("update task", err)
}

// DeleteTask applies the soft/hard delete rules of the store contract.
func (b *BoltStore) DeleteTask(ctx context.Context, localID string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		task, ok := getTask(tx, localID)
		if !ok {
			return ErrNotFound
		}

		if task.ServerID == nil {
			if err := tx.Bucket(bucketTasks).Delete([]byte(localID)); err != nil {
				return err
			}
			return dropPendingEntries(tx, localID)
		}

		now := time.Now()
		task.PendingAction = model.ActionDelete
		task.NeedsSync = true
		task.UpdatedAt = now
		if err := putTask(tx, task); err != nil {
			return err
		}
		return appendJournal(tx, localID, model.ActionDelete, task, now)
	})
	if err == nil || err == ErrNotFound {
		return err
	}
	return ioErr("delete task", err)
}

func dropPendingEntries(tx *bolt.Tx, localID string) error {
	bucket := tx.Bucket(bucketJournal)
	var stale [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		var entry model.JournalEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		if entry.TaskLocalID == localID && !entry.Synced {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTask physically deletes the row and its index entry.
func (b *BoltStore) RemoveTask(ctx context.Context, localID string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		task, ok := getTask(tx, localID)
		if !ok {
			return ErrNotFound
		}
		if task.ServerID != nil {
			if err := tx.Bucket(bucketServerIDs).Delete(itob(*task.ServerID)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketTasks).Delete([]byte(localID))
	})
	if err == nil || err == ErrNotFound {
		return err
	}
	return ioErr("remove task", err)
}

// ReconcileFromServer merges the downloaded snapshot with the same rules as
// the relational backend.
func (b *BoltStore) ReconcileFromServer(ctx context.Context, serverTasks []model.ServerTask) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, st := range serverTasks {
			localID := tx.Bucket(bucketServerIDs).Get(itob(st.ID))
			if localID == nil {
				task := serverToLocal(st)
				if err := putTask(tx, &task); err != nil {
					return err
				}
				continue
			}
			existing, ok := getTask(tx, string(localID))
			if !ok || existing.NeedsSync {
				continue
			}
			task := serverToLocal(st)
			task.LocalID = existing.LocalID
			task.CreatedAt = existing.CreatedAt
			if err := putTask(tx, &task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("reconcile", err)
	}
	return nil
}

// AttachServerID records server acceptance of a task.
func (b *BoltStore) AttachServerID(ctx context.Context, localID string, serverID int64) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		task, ok := getTask(tx, localID)
		if !ok {
			return ErrNotFound
		}
		id := serverID
		task.ServerID = &id
		task.NeedsSync = false
		task.PendingAction = ""
		task.IsOffline = false
		task.UpdatedAt = time.Now()
		return putTask(tx, task)
	})
	if err == nil || err == ErrNotFound {
		return err
	}
	return ioErr("attach server id", err)
}

// ListPendingJournalEntries returns unsynced entries, oldest first. Keys
// are big-endian sequence numbers, so cursor order is enqueue order.
func (b *BoltStore) ListPendingJournalEntries(ctx context.Context) ([]model.JournalEntry, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var entries []model.JournalEntry
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJournal).ForEach(func(_, v []byte) error {
			var entry model.JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !entry.Synced {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, ioErr("list journal entries", err)
	}
	return entries, nil
}

// CountPendingJournalEntries returns the number of unsynced entries.
func (b *BoltStore) CountPendingJournalEntries(ctx context.Context) (int, error) {
	entries, err := b.ListPendingJournalEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// MarkJournalEntrySynced flags one entry as applied.
func (b *BoltStore) MarkJournalEntrySynced(ctx context.Context, id int64) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJournal)
		data := bucket.Get(itob(id))
		if data == nil {
			return nil
		}
		var entry model.JournalEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Synced = true
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(itob(id), updated)
	})
	if err != nil {
		return ioErr("mark journal entry synced", err)
	}
	return nil
}

// PurgeSyncedJournalEntries deletes every applied entry.
func (b *BoltStore) PurgeSyncedJournalEntries(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJournal)
		var done [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var entry model.JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Synced {
				done = append(done, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range done {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("purge journal entries", err)
	}
	return nil
}

// ClearAll wipes every bucket. The journal sequence restarts as well, which
// matches a fresh store.
func (b *BoltStore) ClearAll(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTasks, bucketServerIDs, bucketJournal} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("clear store", err)
	}
	return nil
}
