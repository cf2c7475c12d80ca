package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoge23/fats/pkg/container"
	"github.com/geoge23/fats/pkg/generation"
	"github.com/geoge23/fats/pkg/network"
	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/types"
)

// installFakeDocker installs a "docker" script on PATH that handles
// the subcommands the reconciler and its container.Manager issue:
// network ls/create always succeed, "ps -q -f name=..." reports
// psOutput (empty string means "no such container"), "run" prints a
// fresh-looking container id, and "rm -f" always succeeds.
func installFakeDocker(t *testing.T, psOutput string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake docker script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
case "$1" in
  network)
    if [ "$2" = "ls" ]; then
      echo "fats_network"
    fi
    exit 0
    ;;
  ps)
    echo "%s"
    exit 0
    ;;
  run)
    echo "cafebabe0001"
    exit 0
    ;;
  rm)
    exit 0
    ;;
esac
exit 0
`, psOutput)
	path := filepath.Join(dir, "docker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "fats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestReconciler(t *testing.T, store storage.Store, psOutput string) *Reconciler {
	installFakeDocker(t, psOutput)
	containers := container.NewManager(network.NewManager())
	gen := generation.NewRegistry(store)
	return New(store, containers, gen)
}

func TestRunCreatesContainerForNewProject(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)

	rec := newTestReconciler(t, store, "")
	require.NoError(t, rec.Run(ctx))

	record, err := store.GetServiceRecordByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "cafebabe0001", record.ContainerID)
	assert.Equal(t, int64(1), record.Generation)
}

func TestRunHomogenizesOrphanWithLiveContainer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)
	orphan, err := store.CreateServiceRecord(ctx, &types.ServiceRecord{
		Generation: 0, ContainerID: "oldcontainer", Hostname: "fats-myapp100-1234", Port: 30000, ProjectID: project.ID,
	})
	require.NoError(t, err)

	// "ps" reports the orphan's hostname is still a live container.
	rec := newTestReconciler(t, store, "oldcontainer")
	require.NoError(t, rec.Run(ctx))

	records, err := store.ListServiceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, orphan.ID, records[0].ID)
	assert.Equal(t, int64(1), records[0].Generation)
}

func TestRunDestroysOrphanWhenContainerGone(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)
	_, err = store.CreateServiceRecord(ctx, &types.ServiceRecord{
		Generation: 0, ContainerID: "goneforever", Hostname: "fats-myapp100-1234", Port: 30000, ProjectID: project.ID,
	})
	require.NoError(t, err)

	// "ps" reports nothing -- the container no longer exists.
	rec := newTestReconciler(t, store, "")
	require.NoError(t, rec.Run(ctx))

	records, err := store.ListServiceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEqual(t, "goneforever", records[0].ContainerID)
	assert.Equal(t, "cafebabe0001", records[0].ContainerID)
}

func TestRunIsNoOpOnSecondPassOnceConverged(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)

	rec := newTestReconciler(t, store, "cafebabe0001")
	require.NoError(t, rec.Run(ctx))
	require.NoError(t, rec.Run(ctx))

	records, err := store.ListServiceRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
