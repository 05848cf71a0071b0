// Package channels defines the contract between the gateway and the
// messaging platforms it serves.
package channels

import (
	"context"
	"time"
)

// Adapter is a messaging platform connection. Adapters receive
// platform messages, drive the conversation engine and deliver its
// replies back; the engine itself never sees platform types.
type Adapter interface {
	// Start begins receiving messages. It returns once the adapter
	// is running; delivery happens on adapter-owned goroutines.
	Start(ctx context.Context) error

	// Stop shuts the adapter down, waiting for in-flight handlers
	// until ctx expires.
	Stop(ctx context.Context) error

	// Name identifies the platform.
	Name() string

	// Status reports the connection state.
	Status() Status
}

// Status is a point-in-time connection report.
type Status struct {
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	LastPing  time.Time `json:"last_ping,omitempty"`
}

// Registry holds the configured adapters.
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an adapter.
func (r *Registry) Register(adapter Adapter) {
	r.adapters = append(r.adapters, adapter)
}

// All returns the registered adapters in registration order.
func (r *Registry) All() []Adapter {
	return r.adapters
}

// StartAll starts every adapter, stopping at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, adapter := range r.adapters {
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter and returns the last error seen.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, adapter := range r.adapters {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
