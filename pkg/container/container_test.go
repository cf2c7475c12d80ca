package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoge23/fats/pkg/network"
	"github.com/geoge23/fats/pkg/types"
)

// installFakeDocker puts a shell script named "docker" at the front of
// PATH that prints fakeOutput and exits 0, so tests never touch a real
// container engine.
func installFakeDocker(t *testing.T, fakeOutput string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake docker script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := fmt.Sprintf("#!/bin/sh\necho '%s'\n", fakeOutput)
	path := filepath.Join(dir, "docker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestExistsTrueWhenDockerReportsID(t *testing.T) {
	installFakeDocker(t, "abc123")
	m := NewManager(network.NewManager())

	exists, err := m.Exists(context.Background(), "fats-myapp-1234")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExistsFalseWhenDockerReportsNothing(t *testing.T) {
	installFakeDocker(t, "")
	m := NewManager(network.NewManager())

	exists, err := m.Exists(context.Background(), "fats-myapp-1234")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateReturnsServiceRecordWithinPortRange(t *testing.T) {
	installFakeDocker(t, "deadbeef0001")
	m := NewManager(network.NewManager())

	project := &types.Project{ID: 7, Name: "myapp", Version: "1.0.0"}
	record, err := m.Create(context.Background(), project, 3)
	require.NoError(t, err)

	assert.Equal(t, "deadbeef0001", record.ContainerID)
	assert.Equal(t, int64(3), record.Generation)
	assert.Equal(t, int64(7), record.ProjectID)
	assert.GreaterOrEqual(t, record.Port, types.MinPort)
	assert.LessOrEqual(t, record.Port, types.MaxPort)
	assert.Regexp(t, `^fats-myapp100-\d{4}$`, record.Hostname)
}

func TestDestroyIgnoresAlreadyGoneContainers(t *testing.T) {
	installFakeDocker(t, "")
	m := NewManager(network.NewManager())

	err := m.Destroy(context.Background(), "some-container-id")
	assert.NoError(t, err)
}
