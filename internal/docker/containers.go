package docker

import (
	"context"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

// ContainerInfo is the subset of Docker container state the Container
// entity (container_type=docker) is built from.
type ContainerInfo struct {
	ID      string
	Name    string
	State   string // running, created, exited, paused, ...
	Created time.Time
}

// ListContainers lists all containers (running and stopped) known to the
// Docker engine. Callers filter/label-match as needed; the façade treats
// any short id as a valid "docker:<id>" source.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, err
	}

	out := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		out = append(out, ContainerInfo{
			ID:      ctr.ID,
			Name:    name,
			State:   ctr.State,
			Created: time.Unix(ctr.Created, 0),
		})
	}
	return out, nil
}

// ListContainersByLabel lists containers carrying the given label (used by
// the bridge agent's docker_label filter for its own source enumeration).
func (c *Client) ListContainersByLabel(ctx context.Context, label string) ([]ContainerInfo, error) {
	all, err := c.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	if label == "" {
		return all, nil
	}

	key, value, hasValue := strings.Cut(label, "=")

	var filtered []ContainerInfo
	for _, ctr := range all {
		info, err := c.cli.ContainerInspect(ctx, ctr.ID)
		if err != nil {
			continue
		}
		if info.Config == nil {
			continue
		}
		v, ok := info.Config.Labels[key]
		if !ok {
			continue
		}
		if hasValue && v != value {
			continue
		}
		filtered = append(filtered, ctr)
	}
	return filtered, nil
}

// IsRunning reports whether the given container is currently running.
func (c *Client) IsRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, err
	}
	return info.State.Running, nil
}
