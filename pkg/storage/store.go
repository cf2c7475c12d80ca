package storage

import (
	"context"
	"errors"

	"github.com/geoge23/fats/pkg/types"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// Store defines the persistence interface used by every other
// component. It is implemented by SQLiteStore.
type Store interface {
	// Projects
	UpsertProject(ctx context.Context, p *types.Project) (*types.Project, error)
	GetProject(ctx context.Context, id int64) (*types.Project, error)
	GetProjectByNameVersion(ctx context.Context, name, version string) (*types.Project, error)
	ListProjectVersions(ctx context.Context, name string) ([]*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)
	DeleteProject(ctx context.Context, id int64) error

	// ServiceRecords
	CreateServiceRecord(ctx context.Context, s *types.ServiceRecord) (*types.ServiceRecord, error)
	UpdateServiceRecord(ctx context.Context, s *types.ServiceRecord) error
	DeleteServiceRecord(ctx context.Context, id int64) error
	ListServiceRecords(ctx context.Context) ([]*types.ServiceRecord, error)
	GetServiceRecordByProject(ctx context.Context, projectID int64) (*types.ServiceRecord, error)

	// Generation counter
	NextGeneration(ctx context.Context) (int64, error)

	// Secrets
	UpsertSecret(ctx context.Context, name, value string) error
	GetSecret(ctx context.Context, name string) (*types.Secret, error)

	Close() error
}
