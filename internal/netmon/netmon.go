// Package netmon exposes the connectivity signal the sync engine consumes:
// a connected/disconnected status plus change notifications. The engine
// depends on the Monitor contract only; where the signal comes from is an
// implementation detail.
package netmon

import "context"

// Status is the current connectivity state.
type Status struct {
	Connected bool
	Kind      string
}

// Kind values reported by the built-in monitor.
const (
	KindNone     = "none"
	KindInternet = "internet"
)

// Monitor is the single source of truth for connectivity.
type Monitor interface {
	// Status returns the last observed state.
	Status() Status

	// Subscribe registers for status-change events. The returned cancel
	// function releases the subscription; the channel is closed after
	// cancel or when the monitor stops.
	Subscribe() (<-chan Status, func())
}

// Prober is an optional capability a Monitor may implement: a check that
// the reported connection is actually usable, not just present. The sync
// engine invokes it before an attempt when available.
type Prober interface {
	ProbeConnectivity(ctx context.Context) bool
}
