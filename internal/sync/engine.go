// Package sync reconciles the local store with the remote backend: it
// uploads the mutation journal, downloads authoritative server state and
// merges the two. At most one reconciliation runs at a time; every call
// site may invoke AttemptSync opportunistically.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quietgrid/tasksync/internal/gateway"
	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/quietgrid/tasksync/internal/store"
)

const defaultAutoSyncInterval = 30 * time.Second

// Result summarizes one sync attempt.
type Result struct {
	Success         bool
	SyncedActions   int
	DownloadedTasks int
	Errors          []string
}

// Status is the externally visible engine state.
type Status struct {
	IsSyncing      bool
	LastSync       time.Time
	PendingActions int
	SyncErrors     []string
	LastError      string
}

// Options configures the engine.
type Options struct {
	// AutoSyncInterval is the recurring timer period. Zero uses the
	// default of 30s.
	AutoSyncInterval time.Duration
	// AutoSync starts the background timer when connectivity is
	// available.
	AutoSync bool
}

// Engine orchestrates sync between the local store and the remote gateway.
type Engine struct {
	store   store.Store
	gateway gateway.Client
	monitor netmon.Monitor

	interval    time.Duration
	syncing     atomic.Bool
	autoEnabled atomic.Bool

	mu         sync.Mutex
	lastSync   time.Time
	syncErrors []string
	lastError  string
	timerStop  chan struct{}
	onComplete func(*Result)

	stopOnce    sync.Once
	stopCh      chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates an engine. Call Start to wire up connectivity-driven
// syncing, and Close on shutdown.
func New(st store.Store, gw gateway.Client, mon netmon.Monitor, opts Options) *Engine {
	interval := opts.AutoSyncInterval
	if interval <= 0 {
		interval = defaultAutoSyncInterval
	}
	e := &Engine{
		store:    st,
		gateway:  gw,
		monitor:  mon,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	e.autoEnabled.Store(opts.AutoSync)
	return e
}

// Start subscribes to network changes. The transition into connected
// triggers an immediate opportunistic attempt and starts the auto-sync
// timer; losing connectivity stops the timer.
func (e *Engine) Start(ctx context.Context) {
	ch, cancel := e.monitor.Subscribe()
	e.unsubscribe = cancel

	if e.monitor.Status().Connected && e.autoEnabled.Load() {
		e.startTimer(ctx)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case status, ok := <-ch:
				if !ok {
					return
				}
				e.onNetworkChange(ctx, status)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the timer and the network watcher. Safe to call more than
// once.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		e.stopTimer()
	})
	e.wg.Wait()
}

func (e *Engine) onNetworkChange(ctx context.Context, status netmon.Status) {
	if status.Connected {
		logger.Info("Network connected, attempting sync")
		if e.autoEnabled.Load() {
			e.startTimer(ctx)
		}
		e.TriggerSync(ctx)
		return
	}
	logger.Info("Network disconnected, stopping auto-sync")
	e.stopTimer()
}

// EnableAutoSync turns the background timer on (and starts it right away
// when online).
func (e *Engine) EnableAutoSync(ctx context.Context) {
	e.autoEnabled.Store(true)
	if e.monitor.Status().Connected {
		e.startTimer(ctx)
	}
}

// DisableAutoSync turns the background timer off.
func (e *Engine) DisableAutoSync() {
	e.autoEnabled.Store(false)
	e.stopTimer()
}

// TriggerSync fires a detached sync attempt whose outcome is logged, never
// awaited. Skip outcomes (busy, offline) are expected and logged at debug.
func (e *Engine) TriggerSync(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		result, err := e.AttemptSync(ctx)
		switch {
		case errors.Is(err, ErrAlreadyInProgress), errors.Is(err, ErrNoSuitableConnection):
			logger.Debug("Background sync skipped", logger.F("reason", err))
		case err != nil:
			logger.Warn("Background sync failed", logger.F("error", err))
		default:
			logger.Info("Background sync completed",
				logger.F("synced", result.SyncedActions),
				logger.F("downloaded", result.DownloadedTasks),
				logger.F("errors", len(result.Errors)))
		}
	}()
}

// OnComplete registers a callback invoked after every finished attempt,
// successful or not. Skipped attempts (busy, offline) do not fire it.
func (e *Engine) OnComplete(fn func(*Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = fn
}

// Status reports the current engine state. PendingActions reads the live
// journal count.
func (e *Engine) Status(ctx context.Context) Status {
	pending, err := e.store.CountPendingJournalEntries(ctx)
	if err != nil {
		logger.Warn("Failed to count pending journal entries", logger.F("error", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsSyncing:      e.syncing.Load(),
		LastSync:       e.lastSync,
		PendingActions: pending,
		SyncErrors:     append([]string(nil), e.syncErrors...),
		LastError:      e.lastError,
	}
}

// AttemptSync runs one full reconciliation: connectivity precondition,
// download phase, upload phase, journal cleanup. A second invocation while
// one is running returns ErrAlreadyInProgress immediately.
func (e *Engine) AttemptSync(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInProgress
	}
	defer e.syncing.Store(false)

	if !e.connectionUsable(ctx) {
		return nil, ErrNoSuitableConnection
	}

	logger.Info("Starting sync")
	result := &Result{}

	// Download phase. A failure here aborts the attempt: uploading
	// against unknown server state is not worth the risk of divergence.
	downloaded, err := e.download(ctx)
	if err != nil {
		derr := err
		if !errors.Is(err, gateway.ErrAuthMissing) {
			derr = &DownloadError{Err: err}
		}
		e.recordFailure(derr)
		result.Errors = append(result.Errors, derr.Error())
		return result, derr
	}
	result.DownloadedTasks = downloaded

	// Upload phase. Entries are independent across tasks; entries for
	// the same task stay in enqueue order, and a failed entry blocks the
	// rest of its task for this pass.
	synced, uploadErrs := e.upload(ctx)
	result.SyncedActions = synced
	for _, uerr := range uploadErrs {
		result.Errors = append(result.Errors, uerr.Error())
	}

	if err := e.store.PurgeSyncedJournalEntries(ctx); err != nil {
		logger.Warn("Failed to purge synced journal entries", logger.F("error", err))
	}

	result.Success = len(uploadErrs) == 0
	e.recordResult(result)

	e.mu.Lock()
	complete := e.onComplete
	e.mu.Unlock()
	if complete != nil {
		complete(result)
	}

	if result.Success {
		logger.Info("Sync completed",
			logger.F("synced", result.SyncedActions),
			logger.F("downloaded", result.DownloadedTasks))
	} else {
		logger.Warn("Sync completed with errors",
			logger.F("synced", result.SyncedActions),
			logger.F("errors", len(result.Errors)))
	}
	return result, nil
}

// connectionUsable checks the monitor's status and, when the monitor can
// probe, verifies the connection actually works.
func (e *Engine) connectionUsable(ctx context.Context) bool {
	if !e.monitor.Status().Connected {
		return false
	}
	if prober, ok := e.monitor.(netmon.Prober); ok {
		return prober.ProbeConnectivity(ctx)
	}
	return true
}

func (e *Engine) download(ctx context.Context) (int, error) {
	serverTasks, err := e.gateway.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.store.ReconcileFromServer(ctx, serverTasks); err != nil {
		return 0, err
	}
	logger.Debug("Downloaded tasks from server", logger.F("count", len(serverTasks)))
	return len(serverTasks), nil
}

func (e *Engine) upload(ctx context.Context) (int, []*EntryError) {
	entries, err := e.store.ListPendingJournalEntries(ctx)
	if err != nil {
		return 0, []*EntryError{{Action: "list", Err: err}}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	logger.Info("Uploading pending journal entries", logger.F("count", len(entries)))

	synced := 0
	var uploadErrs []*EntryError
	// Tasks whose entry failed this pass: their later entries must wait
	// for the next cycle to preserve per-task ordering.
	blocked := make(map[string]bool)

	for _, entry := range entries {
		if blocked[entry.TaskLocalID] {
			continue
		}
		if err := e.applyEntry(ctx, entry); err != nil {
			blocked[entry.TaskLocalID] = true
			uerr := &EntryError{
				EntryID: entry.ID,
				Action:  entry.Action,
				TaskID:  entry.TaskLocalID,
				Err:     err,
			}
			uploadErrs = append(uploadErrs, uerr)
			logger.Warn("Journal entry failed", logger.F("error", uerr))
			continue
		}
		if err := e.store.MarkJournalEntrySynced(ctx, entry.ID); err != nil {
			logger.Warn("Failed to mark journal entry synced",
				logger.F("entry", entry.ID), logger.F("error", err))
			continue
		}
		synced++
		logger.Debug("Journal entry applied",
			logger.F("action", entry.Action), logger.F("task", entry.TaskLocalID))
	}
	return synced, uploadErrs
}

// applyEntry replays one journal entry against the gateway and records the
// outcome in the store.
func (e *Engine) applyEntry(ctx context.Context, entry model.JournalEntry) error {
	snap, err := model.DecodeSnapshot(entry.Snapshot)
	if err != nil {
		return err
	}
	payload := gateway.PayloadFromSnapshot(snap)

	switch entry.Action {
	case model.ActionCreate:
		created, err := e.gateway.CreateTask(ctx, payload)
		if err != nil {
			return err
		}
		return e.store.AttachServerID(ctx, entry.TaskLocalID, created.ID)

	case model.ActionUpdate:
		task, err := e.store.GetTaskByLocalID(ctx, entry.TaskLocalID)
		if err != nil {
			return err
		}
		if task.ServerID == nil {
			return ErrMissingServerID
		}
		if _, err := e.gateway.UpdateTask(ctx, *task.ServerID, payload); err != nil {
			return err
		}
		return e.store.AttachServerID(ctx, entry.TaskLocalID, *task.ServerID)

	case model.ActionDelete:
		serverID := snap.ServerID
		if task, err := e.store.GetTaskByLocalID(ctx, entry.TaskLocalID); err == nil && task.ServerID != nil {
			serverID = task.ServerID
		}
		if serverID == nil {
			return ErrMissingServerID
		}
		if err := e.gateway.DeleteTask(ctx, *serverID); err != nil {
			return err
		}
		err := e.store.RemoveTask(ctx, entry.TaskLocalID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err

	default:
		return errors.New("unknown journal action " + entry.Action)
	}
}

func (e *Engine) recordResult(result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSync = time.Now()
	e.syncErrors = append([]string(nil), result.Errors...)
	if len(result.Errors) > 0 {
		e.lastError = result.Errors[len(result.Errors)-1]
	}
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncErrors = []string{err.Error()}
	e.lastError = err.Error()
}
