package model

import "time"

// Status values a task can be in
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Priority levels for tasks
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single todo item. LocalID is assigned by the local
// store and is stable for the task's local lifetime; ServerID is nil until
// the server has accepted the task.
type Task struct {
	LocalID       string     `json:"local_id"`
	ServerID      *int64     `json:"server_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UserID        int64      `json:"user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	NeedsSync     bool       `json:"needs_sync"`
	PendingAction string     `json:"pending_action,omitempty"`
	IsOffline     bool       `json:"is_offline"`
}

// Synced reports whether the task has been round-tripped through the
// server and carries no outstanding local change.
func (t *Task) Synced() bool {
	return t.ServerID != nil && !t.NeedsSync
}

// Draft holds the caller-supplied fields for a new task. Zero values for
// Status and Priority fall back to pending/medium at insert time.
type Draft struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     *time.Time
	UserID      int64
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *time.Time
	CompletedAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && p.CompletedAt == nil
}

// Apply merges the patch onto t. A status change to completed stamps
// CompletedAt when the patch does not carry one; leaving completed clears
// it again.
func (p Patch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	} else if p.Status != nil {
		if *p.Status == StatusCompleted && t.CompletedAt == nil {
			ts := now
			t.CompletedAt = &ts
		} else if *p.Status != StatusCompleted {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = now
}
