// Package secrets is a thin wrapper around storage.Store's secret
// rows. Secrets are stored named values; they are not consumed by the
// reconciliation loop or passed into containers, only referenced by
// name in a Project's DesiredSecrets.
package secrets

import (
	"context"
	"fmt"

	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/types"
)

// Manager upserts and reads secret values.
type Manager struct {
	store storage.Store
}

// NewManager returns a Manager backed by store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Upsert creates or overwrites the named secret's value.
func (m *Manager) Upsert(ctx context.Context, name, value string) error {
	if err := m.store.UpsertSecret(ctx, name, value); err != nil {
		return fmt.Errorf("secrets: upserting %s: %w", name, err)
	}
	return nil
}

// Get returns the named secret, or storage.ErrNotFound if it hasn't
// been set.
func (m *Manager) Get(ctx context.Context, name string) (*types.Secret, error) {
	secret, err := m.store.GetSecret(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("secrets: reading %s: %w", name, err)
	}
	return secret, nil
}
