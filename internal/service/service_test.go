package service_test

import (
	"context"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/quietgrid/tasksync/internal/gateway"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/quietgrid/tasksync/internal/service"
	"github.com/quietgrid/tasksync/internal/store"
	"github.com/quietgrid/tasksync/internal/sync"
	"github.com/stretchr/testify/require"
)

type fixedMonitor struct {
	connected bool
}

func (m *fixedMonitor) Status() netmon.Status {
	kind := netmon.KindNone
	if m.connected {
		kind = netmon.KindInternet
	}
	return netmon.Status{Connected: m.connected, Kind: kind}
}

func (m *fixedMonitor) Subscribe() (<-chan netmon.Status, func()) {
	ch := make(chan netmon.Status)
	return ch, func() {}
}

type fixedGateway struct {
	mu          stdsync.Mutex
	serverTasks []model.ServerTask
	nextID      int64
}

func (g *fixedGateway) ListTasks(ctx context.Context) ([]model.ServerTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.ServerTask(nil), g.serverTasks...), nil
}

func (g *fixedGateway) CreateTask(ctx context.Context, payload gateway.TaskPayload) (model.ServerTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return model.ServerTask{ID: g.nextID, Title: payload.Title, Status: payload.Status, Priority: payload.Priority}, nil
}

func (g *fixedGateway) UpdateTask(ctx context.Context, serverID int64, payload gateway.TaskPayload) (model.ServerTask, error) {
	return model.ServerTask{ID: serverID, Title: payload.Title, Status: payload.Status, Priority: payload.Priority}, nil
}

func (g *fixedGateway) DeleteTask(ctx context.Context, serverID int64) error {
	return nil
}

func newService(t *testing.T, connected bool) (*service.TaskService, store.Store) {
	t.Helper()
	st := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, st.Initialize(context.Background()))

	mon := &fixedMonitor{connected: connected}
	eng := sync.New(st, &fixedGateway{}, mon, sync.Options{})
	t.Cleanup(func() {
		eng.Close()
		_ = st.Close()
	})
	return service.New(st, eng, mon), st
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.Create(ctx, model.Draft{Title: "   "})
	require.ErrorIs(t, err, service.ErrTitleRequired)

	_, err = svc.Create(ctx, model.Draft{Title: "x", Status: "paused"})
	require.ErrorIs(t, err, service.ErrInvalidStatus)

	_, err = svc.Create(ctx, model.Draft{Title: "x", Priority: "urgent"})
	require.ErrorIs(t, err, service.ErrInvalidPriority)
}

func TestCreateOfflinePersistsLocally(t *testing.T) {
	svc, st := newService(t, false)
	ctx := context.Background()

	task, err := svc.Create(ctx, model.Draft{Title: "write report", Priority: model.PriorityHigh})
	require.NoError(t, err)
	require.True(t, task.NeedsSync)
	require.True(t, task.IsOffline)

	got, err := st.GetTaskByLocalID(ctx, task.LocalID)
	require.NoError(t, err)
	require.Equal(t, "write report", got.Title)

	count, err := svc.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	task, err := svc.Create(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)

	blank := "  "
	_, err = svc.Update(ctx, task.LocalID, model.Patch{Title: &blank})
	require.ErrorIs(t, err, service.ErrTitleRequired)

	bad := "archived"
	_, err = svc.Update(ctx, task.LocalID, model.Patch{Status: &bad})
	require.ErrorIs(t, err, service.ErrInvalidStatus)

	status := model.StatusCompleted
	updated, err := svc.Update(ctx, task.LocalID, model.Patch{Status: &status})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestDelete(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	task, err := svc.Create(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, task.LocalID))

	_, err = svc.Get(ctx, task.LocalID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, svc.Delete(ctx, "missing"), store.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	seed := []model.Draft{
		{Title: "pay rent", Status: model.StatusPending, Priority: model.PriorityHigh},
		{Title: "book flights", Description: "summer trip", Status: model.StatusInProgress, Priority: model.PriorityMedium},
		{Title: "renew passport", Status: model.StatusCompleted, Priority: model.PriorityHigh},
	}
	for _, d := range seed {
		_, err := svc.Create(ctx, d)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, service.Filters{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	high, err := svc.List(ctx, service.Filters{Priority: model.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, high, 2)

	completed, err := svc.List(ctx, service.Filters{Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, "renew passport", completed[0].Title)

	// Search is case-insensitive and matches descriptions too.
	found, err := svc.List(ctx, service.Filters{Search: "SUMMER"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "book flights", found[0].Title)

	none, err := svc.List(ctx, service.Filters{Search: "summer", Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestListOnlineMergesServerState(t *testing.T) {
	st := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, st.Initialize(context.Background()))

	mon := &fixedMonitor{connected: true}
	gw := &fixedGateway{serverTasks: []model.ServerTask{
		{ID: 5, Title: "from another device", Status: model.StatusPending, Priority: model.PriorityMedium},
	}}
	eng := sync.New(st, gw, mon, sync.Options{})
	t.Cleanup(func() {
		eng.Close()
		_ = st.Close()
	})
	svc := service.New(st, eng, mon)

	var changes int
	svc.OnChange(func() { changes++ })

	tasks, err := svc.List(context.Background(), service.Filters{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "from another device", tasks[0].Title)
	require.NotNil(t, tasks[0].ServerID)
	require.Equal(t, int64(5), *tasks[0].ServerID)
	require.False(t, tasks[0].NeedsSync)

	// The download changed local data, so subscribers were notified.
	require.Equal(t, 1, changes)
}

func TestStats(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.Create(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.Draft{Title: "b", Status: model.StatusInProgress})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.Draft{Title: "c", Status: model.StatusCompleted})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Completed)
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 3, stats.Offline)
	require.Equal(t, 1, stats.ByStatus[model.StatusPending])
	require.Equal(t, 1, stats.ByStatus[model.StatusInProgress])
	require.Equal(t, 1, stats.ByStatus[model.StatusCompleted])
}

func TestOnChangeNotifications(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	var calls int
	svc.OnChange(func() { calls++ })

	task, err := svc.Create(ctx, model.Draft{Title: "a"})
	require.NoError(t, err)
	title := "b"
	_, err = svc.Update(ctx, task.LocalID, model.Patch{Title: &title})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, task.LocalID))

	require.Equal(t, 3, calls)
}
