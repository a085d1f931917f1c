package adapter

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/virgilvox/clasp-flow-sub003/connstate"
	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// Registry tracks the application's adapters by connection id. It is the
// bridge between adapters, the graph executor (status snapshots), and the
// preflight validator (live status lookup).
//
// Construct one Registry at process start and inject it where needed;
// Reset exists for test isolation.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Base
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*Base),
	}
}

// Register adds an adapter under its connection id. Registering a second
// adapter for the same id is rejected.
func (r *Registry) Register(a *Base) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.ID()]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Registry", "Register", "duplicate connection id "+a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

// Unregister removes and returns the adapter for a connection id
func (r *Registry) Unregister(id string) (*Base, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.adapters[id]
	if exists {
		delete(r.adapters, id)
	}
	return a, exists
}

// Get returns the adapter for a connection id
func (r *Registry) Get(id string) (*Base, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, exists := r.adapters[id]
	return a, exists
}

// snapshot returns the registered adapters in id order
func (r *Registry) snapshot() []*Base {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Base, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ConnectAll connects every adapter configured for auto-connect. Adapters
// advance concurrently; the first failure is returned once all attempts
// have finished.
func (r *Registry) ConnectAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range r.snapshot() {
		if !a.Config().AutoConnect {
			continue
		}
		a := a
		g.Go(func() error {
			return a.Connect(gctx)
		})
	}
	return g.Wait()
}

// CloseAll disconnects and disposes every adapter and empties the registry
func (r *Registry) CloseAll(ctx context.Context) error {
	adapters := r.snapshot()

	r.mu.Lock()
	r.adapters = make(map[string]*Base)
	r.mu.Unlock()

	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			err := a.Disconnect(ctx)
			a.Dispose()
			return err
		})
	}
	return g.Wait()
}

// Reset drops all adapters without touching their lifecycles (test isolation)
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]*Base)
}

// StatusLookup returns a live connection-status lookup suitable for the
// preflight validator
func (r *Registry) StatusLookup() func(id string) (connstate.State, bool) {
	return func(id string) (connstate.State, bool) {
		a, exists := r.Get(id)
		if !exists {
			return connstate.StateIdle, false
		}
		return a.Machine().State(), true
	}
}

// Statuses returns an extended status snapshot for every adapter, in id order
func (r *Registry) Statuses() []ExtendedStatus {
	adapters := r.snapshot()
	out := make([]ExtendedStatus, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.ExtendedStatus())
	}
	return out
}
