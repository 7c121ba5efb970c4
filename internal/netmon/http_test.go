package netmon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/stretchr/testify/require"
)

func TestProbeConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	m := netmon.NewHTTPMonitor(srv.URL, time.Minute)
	require.True(t, m.ProbeConnectivity(context.Background()))

	down := netmon.NewHTTPMonitor("http://127.0.0.1:1", time.Minute)
	require.False(t, down.ProbeConnectivity(context.Background()))
}

func TestProbeAnyResponseCounts(t *testing.T) {
	// A 503 still proves the network path works.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := netmon.NewHTTPMonitor(srv.URL, time.Minute)
	require.True(t, m.ProbeConnectivity(context.Background()))
}

func TestStartAndSubscribe(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
	}))
	defer srv.Close()

	m := netmon.NewHTTPMonitor(srv.URL, 20*time.Millisecond)
	require.False(t, m.Status().Connected, "disconnected until the first probe")

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Start(context.Background())
	defer m.Stop()

	select {
	case status := <-ch:
		require.True(t, status.Connected)
		require.Equal(t, netmon.KindInternet, status.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}
	require.True(t, m.Status().Connected)

	// Kill the endpoint; the next probes must flip the status exactly once.
	up.Store(false)
	select {
	case status := <-ch:
		require.False(t, status.Connected)
		require.Equal(t, netmon.KindNone, status.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event")
	}
	require.False(t, m.Status().Connected)
}

func TestSubscribeCancel(t *testing.T) {
	m := netmon.NewHTTPMonitor("http://127.0.0.1:1", time.Minute)
	ch, cancel := m.Subscribe()
	cancel()

	_, open := <-ch
	require.False(t, open, "cancel closes the channel")
}
