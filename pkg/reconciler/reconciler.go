// Package reconciler drives live ServiceRecords toward the set of
// desired Projects. It is level-triggered: every pass re-derives what
// should exist from storage rather than tracking deltas, so a missed
// or interrupted pass is corrected by the next one.
package reconciler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geoge23/fats/pkg/container"
	"github.com/geoge23/fats/pkg/generation"
	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/metrics"
	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/types"
)

// Reconciler converges ServiceRecords in storage toward the set of
// Projects in storage, one whole pass at a time.
type Reconciler struct {
	store      storage.Store
	containers *container.Manager
	generation *generation.Registry
	logger     zerolog.Logger

	// mu serializes whole passes: a pass started while another is
	// still running waits for it to finish rather than running
	// concurrently. The orphan-adoption phase within a pass must fully
	// complete before the creation phase starts, so a pass cannot be
	// split across goroutines either.
	mu sync.Mutex
}

// New returns a Reconciler.
func New(store storage.Store, containers *container.Manager, gen *generation.Registry) *Reconciler {
	return &Reconciler{
		store:      store,
		containers: containers,
		generation: gen,
		logger:     log.WithComponent("reconciler"),
	}
}

// Run performs exactly one reconciliation pass: orphaned ServiceRecords
// (from a previous process generation) are homogenized to the current
// generation or destroyed, then a container is created for every
// Project that still lacks one. Per-item failures are logged and
// counted, never returned, so one broken Project never blocks the
// others.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	currentGen, err := r.generation.Current(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: reading current generation: %w", err)
	}

	records, err := r.store.ListServiceRecords(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing service records: %w", err)
	}
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing projects: %w", err)
	}

	satisfied := r.adoptOrDestroyOrphans(ctx, records, currentGen)

	needsContainer := make([]*types.Project, 0, len(projects))
	for _, project := range projects {
		if !satisfied[project.ID] {
			needsContainer = append(needsContainer, project)
		}
	}

	r.logger.Info().
		Int("total_projects", len(projects)).
		Int("need_containers", len(needsContainer)).
		Msg("reconciliation pass starting container creation phase")

	r.createMissing(ctx, needsContainer, currentGen)
	return nil
}

// adoptOrDestroyOrphans is phase 1. It must run to completion before
// phase 2 starts, since it determines which Projects already have a
// live container and therefore don't need one created. It returns the
// set of project IDs already satisfied by an adopted record.
func (r *Reconciler) adoptOrDestroyOrphans(ctx context.Context, records []*types.ServiceRecord, currentGen int64) map[int64]bool {
	satisfied := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, record := range records {
		if record.Generation == currentGen {
			mu.Lock()
			satisfied[record.ProjectID] = true
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(record *types.ServiceRecord) {
			defer wg.Done()
			ok := r.homogenizeOrDestroy(ctx, record, currentGen)
			if ok {
				mu.Lock()
				satisfied[record.ProjectID] = true
				mu.Unlock()
			}
		}(record)
	}

	wg.Wait()
	return satisfied
}

// homogenizeOrDestroy handles one orphaned ServiceRecord: if its
// backing Project still exists and its container is still running, the
// record is relabeled with the current generation and kept; otherwise
// the container is destroyed and the record deleted. It returns true
// if the record was homogenized (and so its Project is satisfied).
func (r *Reconciler) homogenizeOrDestroy(ctx context.Context, record *types.ServiceRecord, currentGen int64) bool {
	project, err := r.store.GetProject(ctx, record.ProjectID)
	projectGone := err == storage.ErrNotFound
	if err != nil && !projectGone {
		r.logger.Error().Err(err).Int64("service_record_id", record.ID).Msg("failed to look up project for orphaned record")
		return false
	}

	exists := false
	if !projectGone {
		exists, err = r.containers.Exists(ctx, record.Hostname)
		if err != nil {
			r.logger.Error().Err(err).Int64("service_record_id", record.ID).Msg("failed to check container existence")
			return false
		}
	}

	if projectGone || !exists {
		r.logger.Info().Int64("service_record_id", record.ID).Int64("project_id", record.ProjectID).
			Msg("destroying orphaned service record")
		if err := r.containers.Destroy(ctx, record.ContainerID); err != nil {
			r.logger.Error().Err(err).Int64("service_record_id", record.ID).Msg("failed to destroy orphaned container")
			metrics.ReconcileFailuresTotal.WithLabelValues("destroy_orphan").Inc()
		}
		if err := r.store.DeleteServiceRecord(ctx, record.ID); err != nil {
			r.logger.Error().Err(err).Int64("service_record_id", record.ID).Msg("failed to delete orphaned service record")
			metrics.ReconcileFailuresTotal.WithLabelValues("destroy_orphan").Inc()
		}
		metrics.ContainersDestroyedTotal.WithLabelValues("orphaned").Inc()
		return false
	}

	record.Generation = currentGen
	if err := r.store.UpdateServiceRecord(ctx, record); err != nil {
		r.logger.Error().Err(err).Int64("service_record_id", record.ID).Msg("failed to homogenize service record")
		metrics.ReconcileFailuresTotal.WithLabelValues("homogenize").Inc()
		return false
	}
	r.logger.Info().Int64("service_record_id", record.ID).Int64("project_id", project.ID).
		Msg("homogenized service record to current generation")
	return true
}

// createMissing is phase 2: it starts a container for every Project
// not already satisfied by an adopted record. Failures are logged and
// counted, not propagated, so one bad build doesn't block the rest.
func (r *Reconciler) createMissing(ctx context.Context, projects []*types.Project, currentGen int64) {
	var wg sync.WaitGroup
	for _, project := range projects {
		wg.Add(1)
		go func(project *types.Project) {
			defer wg.Done()
			record, err := r.containers.Create(ctx, project, currentGen)
			if err != nil {
				r.logger.Error().Err(err).Int64("project_id", project.ID).
					Str("name", project.Name).Str("version", project.Version).
					Msg("failed to create container for project")
				metrics.ReconcileFailuresTotal.WithLabelValues("create").Inc()
				return
			}
			if _, err := r.store.CreateServiceRecord(ctx, record); err != nil {
				r.logger.Error().Err(err).Int64("project_id", project.ID).Msg("failed to persist new service record")
				metrics.ReconcileFailuresTotal.WithLabelValues("create").Inc()
				return
			}
			metrics.ContainersCreatedTotal.Inc()
		}(project)
	}
	wg.Wait()
}
