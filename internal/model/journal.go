package model

import (
	"encoding/json"
	"time"
)

// Actions a journal entry can record
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// JournalEntry is an immutable record of one local mutation awaiting
// upload. Entries are never modified after creation, only marked synced or
// purged.
type JournalEntry struct {
	ID          int64     `json:"id"`
	TaskLocalID string    `json:"task_local_id"`
	Action      string    `json:"action"`
	Snapshot    string    `json:"snapshot"`
	Timestamp   time.Time `json:"timestamp"`
	Synced      bool      `json:"synced"`
}

// TaskSnapshot is the serialized task state captured at enqueue time. Only
// the stable field set travels to the server; ServerID rides along when the
// task already has one so a queued delete knows which remote row to remove.
type TaskSnapshot struct {
	ServerID    *int64     `json:"server_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// SnapshotTask captures the stable field set of t as a JSON string.
func SnapshotTask(t *Task) (string, error) {
	snap := TaskSnapshot{
		ServerID:    t.ServerID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSnapshot parses a snapshot previously produced by SnapshotTask.
func DecodeSnapshot(data string) (TaskSnapshot, error) {
	var snap TaskSnapshot
	err := json.Unmarshal([]byte(data), &snap)
	return snap, err
}
