package network

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/subprocess"
)

// NetworkName is the fixed container-engine network every service
// container is attached to.
const NetworkName = "fats_network"

var hostnamePattern = regexp.MustCompile(`^[0-9a-f]+$`)

// Manager ensures the fats network exists and that this process is
// attached to it.
type Manager struct {
	mu     sync.Mutex
	exists bool
}

// NewManager returns a Manager with no cached state.
func NewManager() *Manager {
	return &Manager{}
}

// EnsureNetwork creates the container engine network if it doesn't
// already exist. A positive result is cached for the lifetime of the
// process: once the network is known to exist, it is never queried
// again.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exists {
		return nil
	}

	result, err := subprocess.Run(ctx, "docker", []string{
		"network", "ls", "--filter", "name=" + NetworkName, "--format", "{{.Name}}",
	}, subprocess.Options{})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}

	for _, name := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		if name == NetworkName {
			m.exists = true
			return nil
		}
	}

	if _, err := subprocess.Run(ctx, "docker", []string{"network", "create", NetworkName}, subprocess.Options{}); err != nil {
		return fmt.Errorf("creating network %s: %w", NetworkName, err)
	}
	log.Logger.Info().Str("network", NetworkName).Msg("created fats network")
	m.exists = true
	return nil
}

// SelfContainerID derives this process' own container id from its
// hostname, which the container engine sets to a 12-character hex
// container id by default. It returns an error if the hostname doesn't
// look like one -- i.e. when not actually running inside a container.
func SelfContainerID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("reading hostname: %w", err)
	}
	if len(hostname) == 12 && hostnamePattern.MatchString(hostname) {
		return hostname, nil
	}
	return "", fmt.Errorf("hostname %q does not look like a container id", hostname)
}

// AttachSelf connects this process' own container to the fats
// network, creating the network first if necessary.
func (m *Manager) AttachSelf(ctx context.Context) error {
	if err := m.EnsureNetwork(ctx); err != nil {
		return err
	}
	containerID, err := SelfContainerID()
	if err != nil {
		return fmt.Errorf("attaching self to network: %w", err)
	}
	if _, err := subprocess.Run(ctx, "docker", []string{"network", "connect", NetworkName, containerID}, subprocess.Options{}); err != nil {
		return fmt.Errorf("connecting %s to %s: %w", containerID, NetworkName, err)
	}
	log.Logger.Info().Str("container_id", containerID).Str("network", NetworkName).Msg("attached self to fats network")
	return nil
}
