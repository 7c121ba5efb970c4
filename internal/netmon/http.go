package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/quietgrid/tasksync/internal/logger"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// HTTPMonitor derives connectivity by periodically issuing a HEAD request
// against a probe URL. Status changes fan out to subscribers; unchanged
// probes are not re-announced.
type HTTPMonitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	status Status
	subs   map[int]chan Status
	nextID int

	stopOnce sync.Once
	stopCh   chan struct{}
}

var (
	_ Monitor = (*HTTPMonitor)(nil)
	_ Prober  = (*HTTPMonitor)(nil)
)

// NewHTTPMonitor creates a monitor probing probeURL. Zero interval uses
// the default. The monitor starts in the disconnected state until the
// first probe; call Start to begin probing.
func NewHTTPMonitor(probeURL string, interval time.Duration) *HTTPMonitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &HTTPMonitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		status:   Status{Connected: false, Kind: KindNone},
		subs:     make(map[int]chan Status),
		stopCh:   make(chan struct{}),
	}
}

// Start performs an initial probe and then probes on the configured
// interval until Stop is called.
func (m *HTTPMonitor) Start(ctx context.Context) {
	m.update(m.ProbeConnectivity(ctx))
	go m.loop(ctx)
}

func (m *HTTPMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.update(m.ProbeConnectivity(ctx))
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends probing and closes all subscriber channels.
func (m *HTTPMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		defer m.mu.Unlock()
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
	})
}

// Status returns the last observed state.
func (m *HTTPMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers a status-change channel.
func (m *HTTPMonitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Status, 8)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			close(sub)
			delete(m.subs, id)
		}
	}
	return ch, cancel
}

// ProbeConnectivity issues one HEAD request against the probe URL. Any
// response counts as reachable; only transport errors mean offline.
func (m *HTTPMonitor) ProbeConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (m *HTTPMonitor) update(connected bool) {
	status := Status{Connected: connected, Kind: KindInternet}
	if !connected {
		status.Kind = KindNone
	}

	m.mu.Lock()
	changed := status != m.status
	m.status = status
	var targets []chan Status
	if changed {
		for _, ch := range m.subs {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	logger.Info("Network status changed",
		logger.F("connected", status.Connected),
		logger.F("kind", status.Kind))
	for _, ch := range targets {
		select {
		case ch <- status:
		default:
			// Slow subscriber; it will read the current state via Status.
		}
	}
}
