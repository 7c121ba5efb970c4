// Package gateway is the thin request/response client for the backend's
// task endpoints. The sync engine depends on the Client contract only.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/quietgrid/tasksync/internal/model"
)

// ErrAuthMissing is returned before any network call when no bearer token
// is available.
var ErrAuthMissing = errors.New("no authentication token available")

// TokenSource supplies the bearer token for outbound requests. An empty
// string means no token is available.
type TokenSource func() string

// TaskPayload is the field set the task endpoints accept.
type TaskPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// PayloadFromSnapshot builds the upload payload from a journal snapshot.
func PayloadFromSnapshot(snap model.TaskSnapshot) TaskPayload {
	return TaskPayload{
		Title:       snap.Title,
		Description: snap.Description,
		Status:      snap.Status,
		Priority:    snap.Priority,
		DueDate:     snap.DueDate,
	}
}

// Client is the remote task gateway contract.
type Client interface {
	// ListTasks fetches the authoritative task list for the current user.
	ListTasks(ctx context.Context) ([]model.ServerTask, error)

	// CreateTask submits a new task and returns the server's copy,
	// including the assigned id.
	CreateTask(ctx context.Context, payload TaskPayload) (model.ServerTask, error)

	// UpdateTask replaces the stable field set of an existing task.
	UpdateTask(ctx context.Context, serverID int64, payload TaskPayload) (model.ServerTask, error)

	// DeleteTask removes a task. A remote 404 is success: already gone.
	DeleteTask(ctx context.Context, serverID int64) error
}
