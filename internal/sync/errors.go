package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress rejects a second invocation while a
	// reconciliation is running. Non-blocking: the caller is not queued.
	ErrAlreadyInProgress = errors.New("sync already in progress")

	// ErrNoSuitableConnection reports that the attempt was skipped
	// because no usable connection is available. An expected idle
	// outcome, not a failure.
	ErrNoSuitableConnection = errors.New("no suitable connection")

	// ErrMissingServerID marks a journal entry whose task has no server
	// id yet: its create has not landed. The entry stays pending.
	ErrMissingServerID = errors.New("task has no server id")
)

// DownloadError aborts a whole attempt: without a confident download pass
// the upload phase does not run.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// EntryError records one journal entry that could not be applied. The
// entry stays unsynced and is retried next cycle.
type EntryError struct {
	EntryID int64
	Action  string
	TaskID  string
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("failed to sync %s for task %s (entry %d): %v",
		e.Action, e.TaskID, e.EntryID, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
