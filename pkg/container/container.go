// Package container is the Container manager: it creates and destroys
// application containers through the subprocess gateway and reports
// whether a named container is still running.
package container

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/network"
	"github.com/geoge23/fats/pkg/subprocess"
	"github.com/geoge23/fats/pkg/types"
)

// nonAlnum matches every character that isn't a letter, digit, or '-', used to
// build a container name from a project's name and version the same way
// the container engine's name grammar requires.
var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Manager creates, inspects, and destroys application containers.
type Manager struct {
	network *network.Manager
}

// NewManager returns a Manager that attaches new containers to the
// given network.Manager's network.
func NewManager(net *network.Manager) *Manager {
	return &Manager{network: net}
}

// Exists reports whether a container named containerName is currently
// running, mirroring `docker ps -q -f name=`; stopped containers are
// not reported.
func (m *Manager) Exists(ctx context.Context, containerName string) (bool, error) {
	result, err := subprocess.Run(ctx, "docker", []string{
		"ps", "-q", "-f", "name=" + containerName,
	}, subprocess.Options{})
	if err != nil {
		return false, fmt.Errorf("container: checking existence of %s: %w", containerName, err)
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

// Create starts a new container for project at generation and returns
// the resulting ServiceRecord. The port is chosen at random from
// [types.MinPort, types.MaxPort] and passed to the container as PORT,
// the port the application listens on inside it; it is not published
// on the host.
func (m *Manager) Create(ctx context.Context, project *types.Project, generation int64) (*types.ServiceRecord, error) {
	if err := m.network.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	port := types.MinPort + rand.Intn(types.MaxPort-types.MinPort+1)
	salt := 1000 + rand.Intn(9000)
	sanitized := nonAlnum.ReplaceAllString(project.Name+project.Version, "")
	containerName := fmt.Sprintf("fats-%s-%d", sanitized, salt)

	plog := log.WithProject(project.Name, project.Version)

	result, err := subprocess.Run(ctx, "docker", []string{
		"run", "-d",
		"--name", containerName,
		"--network", network.NetworkName,
		"-e", "FATS_SERVICE_NUMBER=" + strconv.FormatInt(generation, 10),
		"-e", "FATS_PROJECT_CONFIG_ID=" + strconv.FormatInt(project.ID, 10),
		"-e", "PORT=" + strconv.Itoa(port),
		fmt.Sprintf("%s:%s", project.Name, project.Version),
	}, subprocess.Options{})
	if err != nil {
		return nil, fmt.Errorf("container: starting container for %s:%s: %w", project.Name, project.Version, err)
	}

	containerID := strings.TrimSpace(result.Stdout)
	plog.Info().
		Str("container_name", containerName).
		Str("container_id", containerID).
		Int("port", port).
		Msg("started container")

	return &types.ServiceRecord{
		Generation:  generation,
		ContainerID: containerID,
		Hostname:    containerName,
		Port:        port,
		ProjectID:   project.ID,
	}, nil
}

// Destroy force-removes the container identified by containerID. It is
// not an error to destroy a container that no longer exists.
func (m *Manager) Destroy(ctx context.Context, containerID string) error {
	if _, err := subprocess.Run(ctx, "docker", []string{"rm", "-f", containerID}, subprocess.Options{}); err != nil {
		return fmt.Errorf("container: destroying %s: %w", containerID, err)
	}
	return nil
}
