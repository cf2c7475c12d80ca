// Package generation tracks which process lifetime created a given
// ServiceRecord, so the reconciler can tell "mine" from "a leftover
// from before I restarted."
package generation

import (
	"context"
	"fmt"
	"sync"

	"github.com/geoge23/fats/pkg/storage"
)

// Registry memoizes this process' generation number after its first
// successful read, so repeated calls never touch the store again.
type Registry struct {
	store storage.Store

	mu    sync.Mutex
	value int64
	have  bool
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Current returns this process' generation number, computing it via
// storage.Store.NextGeneration on the first call and returning the
// cached value thereafter.
func (r *Registry) Current(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.have {
		return r.value, nil
	}

	value, err := r.store.NextGeneration(ctx)
	if err != nil {
		return 0, fmt.Errorf("generation: %w", err)
	}
	r.value = value
	r.have = true
	return r.value, nil
}
