package sync

import (
	"context"
	"errors"
	"time"

	"github.com/quietgrid/tasksync/internal/logger"
)

// startTimer launches the recurring auto-sync timer. Idempotent while a
// timer is running.
func (e *Engine) startTimer(ctx context.Context) {
	e.mu.Lock()
	if e.timerStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.timerStop = stop
	e.mu.Unlock()

	logger.Info("Auto-sync started", logger.F("interval", e.interval))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.autoTick(ctx)
			case <-stop:
				return
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stopTimer halts the timer if one is running.
func (e *Engine) stopTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timerStop == nil {
		return
	}
	close(e.timerStop)
	e.timerStop = nil
	logger.Info("Auto-sync stopped")
}

// autoTick fires an attempt only when online, idle and there is work.
func (e *Engine) autoTick(ctx context.Context) {
	if !e.autoEnabled.Load() || e.syncing.Load() || !e.monitor.Status().Connected {
		return
	}
	pending, err := e.store.CountPendingJournalEntries(ctx)
	if err != nil {
		logger.Warn("Auto-sync could not read journal", logger.F("error", err))
		return
	}
	if pending == 0 {
		return
	}

	logger.Info("Auto-sync triggered", logger.F("pending", pending))
	result, err := e.AttemptSync(ctx)
	switch {
	case errors.Is(err, ErrAlreadyInProgress), errors.Is(err, ErrNoSuitableConnection):
		// Expected; next tick retries.
	case err != nil:
		logger.Warn("Auto-sync failed", logger.F("error", err))
	default:
		logger.Debug("Auto-sync completed",
			logger.F("synced", result.SyncedActions),
			logger.F("downloaded", result.DownloadedTasks))
	}
}
