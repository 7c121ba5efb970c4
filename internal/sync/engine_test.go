package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quietgrid/tasksync/internal/gateway"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/quietgrid/tasksync/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	serverTasks []model.ServerTask
	nextID      int64
	listErr     error
	createErr   error
	updateErr   error
	deleteErr   error
	listCalls   int
	createCalls int
	updateCalls int
	deletedIDs  []int64

	// When listGate is non-nil ListTasks signals listEntered and blocks
	// until the gate closes.
	listGate    chan struct{}
	listEntered chan struct{}
}

var _ gateway.Client = (*fakeGateway)(nil)

func (g *fakeGateway) ListTasks(ctx context.Context) ([]model.ServerTask, error) {
	g.mu.Lock()
	g.listCalls++
	gate, entered := g.listGate, g.listEntered
	err := g.listErr
	tasks := append([]model.ServerTask(nil), g.serverTasks...)
	g.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (g *fakeGateway) CreateTask(ctx context.Context, payload gateway.TaskPayload) (model.ServerTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return model.ServerTask{}, g.createErr
	}
	g.nextID++
	return model.ServerTask{
		ID:       g.nextID,
		Title:    payload.Title,
		Status:   payload.Status,
		Priority: payload.Priority,
	}, nil
}

func (g *fakeGateway) UpdateTask(ctx context.Context, serverID int64, payload gateway.TaskPayload) (model.ServerTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if g.updateErr != nil {
		return model.ServerTask{}, g.updateErr
	}
	return model.ServerTask{
		ID:       serverID,
		Title:    payload.Title,
		Status:   payload.Status,
		Priority: payload.Priority,
	}, nil
}

func (g *fakeGateway) DeleteTask(ctx context.Context, serverID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deletedIDs = append(g.deletedIDs, serverID)
	return nil
}

func (g *fakeGateway) listCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listCalls
}

type stubMonitor struct {
	mu        sync.Mutex
	connected bool
	ch        chan netmon.Status
}

var _ netmon.Monitor = (*stubMonitor)(nil)

func (m *stubMonitor) Status() netmon.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := netmon.KindNone
	if m.connected {
		kind = netmon.KindInternet
	}
	return netmon.Status{Connected: m.connected, Kind: kind}
}

func (m *stubMonitor) Subscribe() (<-chan netmon.Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ch = make(chan netmon.Status, 4)
	return m.ch, func() {}
}

func (m *stubMonitor) set(connected bool) {
	m.mu.Lock()
	m.connected = connected
	ch := m.ch
	m.mu.Unlock()
	if ch != nil {
		ch <- netmon.Status{Connected: connected}
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// flushJournal simulates an already completed upload of everything pending.
func flushJournal(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	entries, err := st.ListPendingJournalEntries(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, st.MarkJournalEntrySynced(ctx, e.ID))
	}
	require.NoError(t, st.PurgeSyncedJournalEntries(ctx))
}

func TestAttemptSyncOffline(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{}
	eng := New(st, gw, &stubMonitor{connected: false}, Options{})

	_, err := eng.AttemptSync(context.Background())
	require.ErrorIs(t, err, ErrNoSuitableConnection)
	require.Zero(t, gw.listCallCount())
}

func TestAttemptSyncSingleFlight(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{
		listGate:    make(chan struct{}),
		listEntered: make(chan struct{}, 1),
	}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := eng.AttemptSync(context.Background())
		done <- err
	}()

	<-gw.listEntered

	_, err := eng.AttemptSync(context.Background())
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	close(gw.listGate)
	require.NoError(t, <-done)

	// Once the first attempt finishes the lock is released again.
	_, err = eng.AttemptSync(context.Background())
	require.NoError(t, err)
}

func TestOfflineCreateRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{nextID: 6}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	task, err := st.InsertTask(ctx, model.Draft{Title: "offline work"})
	require.NoError(t, err)
	require.True(t, task.IsOffline)

	result, err := eng.AttemptSync(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.SyncedActions)
	require.Empty(t, result.Errors)

	got, err := st.GetTaskByLocalID(ctx, task.LocalID)
	require.NoError(t, err)
	require.NotNil(t, got.ServerID)
	require.Equal(t, int64(7), *got.ServerID)
	require.False(t, got.NeedsSync)
	require.False(t, got.IsOffline)
	require.Empty(t, got.PendingAction)

	pending, err := st.CountPendingJournalEntries(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	// The next download returns the same task; it must merge into the
	// existing row, not duplicate it.
	gw.mu.Lock()
	gw.serverTasks = []model.ServerTask{{ID: 7, Title: "offline work", Status: model.StatusPending, Priority: model.PriorityMedium}}
	gw.mu.Unlock()

	result, err = eng.AttemptSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.DownloadedTasks)

	tasks, err := st.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestDownloadFailureAbortsUpload(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{listErr: errors.New("boom")}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	_, err := st.InsertTask(ctx, model.Draft{Title: "queued"})
	require.NoError(t, err)

	_, err = eng.AttemptSync(ctx)
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)

	// Nothing was uploaded and the journal is intact.
	require.Zero(t, gw.createCalls)
	pending, err := st.CountPendingJournalEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestAuthMissingPassesThrough(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{listErr: gateway.ErrAuthMissing}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	_, err := eng.AttemptSync(context.Background())
	require.ErrorIs(t, err, gateway.ErrAuthMissing)
}

func TestFailedEntryBlocksSameTask(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{createErr: errors.New("server rejected")}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	task, err := st.InsertTask(ctx, model.Draft{Title: "v1"})
	require.NoError(t, err)
	title := "v2"
	_, err = st.UpdateTask(ctx, task.LocalID, model.Patch{Title: &title})
	require.NoError(t, err)

	result, err := eng.AttemptSync(ctx)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Zero(t, result.SyncedActions)
	require.Len(t, result.Errors, 1)

	// The failed create blocked the queued update: it was never attempted
	// out of order.
	require.Equal(t, 1, gw.createCalls)
	require.Zero(t, gw.updateCalls)

	pending, err := st.CountPendingJournalEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending)

	// A later pass with a healthy server drains both in order.
	gw.mu.Lock()
	gw.createErr = nil
	gw.mu.Unlock()

	result, err = eng.AttemptSync(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.SyncedActions)
	require.Equal(t, 2, gw.createCalls)
	require.Equal(t, 1, gw.updateCalls)
}

func TestDeleteReplay(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	task, err := st.InsertTask(ctx, model.Draft{Title: "doomed"})
	require.NoError(t, err)
	flushJournal(t, st)
	require.NoError(t, st.AttachServerID(ctx, task.LocalID, 42))
	require.NoError(t, st.DeleteTask(ctx, task.LocalID))

	// The server still lists the task; the pending delete must win over
	// the downloaded copy and then remove it remotely.
	gw.serverTasks = []model.ServerTask{{ID: 42, Title: "doomed", Status: model.StatusPending, Priority: model.PriorityMedium}}

	result, err := eng.AttemptSync(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []int64{42}, gw.deletedIDs)

	_, err = st.GetTaskByLocalID(ctx, task.LocalID)
	require.ErrorIs(t, err, store.ErrNotFound)

	pending, err := st.CountPendingJournalEntries(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestStatusReporting(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	_, err := st.InsertTask(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)

	status := eng.Status(ctx)
	require.False(t, status.IsSyncing)
	require.True(t, status.LastSync.IsZero())
	require.Equal(t, 1, status.PendingActions)

	_, err = eng.AttemptSync(ctx)
	require.NoError(t, err)

	status = eng.Status(ctx)
	require.False(t, status.LastSync.IsZero())
	require.Zero(t, status.PendingActions)
	require.Empty(t, status.SyncErrors)
}

func TestReconnectTriggersSync(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{}
	mon := &stubMonitor{connected: false}
	eng := New(st, gw, mon, Options{})
	eng.Start(ctx)
	defer eng.Close()

	_, err := st.InsertTask(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)
	require.Zero(t, gw.listCallCount())

	mon.set(true)

	require.Eventually(t, func() bool {
		return gw.listCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutoSyncDrainsJournal(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{}
	mon := &stubMonitor{connected: true}
	eng := New(st, gw, mon, Options{AutoSync: true, AutoSyncInterval: 20 * time.Millisecond})

	_, err := st.InsertTask(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)

	eng.Start(ctx)
	defer eng.Close()

	require.Eventually(t, func() bool {
		pending, err := st.CountPendingJournalEntries(ctx)
		return err == nil && pending == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerSyncCompletesBeforeClose(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gw := &fakeGateway{}
	eng := New(st, gw, &stubMonitor{connected: true}, Options{})

	_, err := st.InsertTask(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)

	eng.TriggerSync(ctx)
	eng.Close()

	// Close waits for the fired attempt, so by now the journal is drained.
	pending, err := st.CountPendingJournalEntries(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}
