package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/shinji-kodama/devserve/internal/model"
)

// PublishedPorts lists the TCP ports published on the host by running
// containers.
func (c *Client) PublishedPorts(ctx context.Context) ([]model.PortReservation, error) {
	// Only running containers hold their published ports.
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list Docker containers: %w", err)
	}
	return reservationsFromContainers(containers), nil
}

// reservationsFromContainers converts container summaries into port
// reservations. Unpublished and UDP ports are skipped. Pure function.
func reservationsFromContainers(containers []types.Container) []model.PortReservation {
	var result []model.PortReservation
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			// Docker returns names with a leading "/".
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		for _, p := range c.Ports {
			if p.PublicPort == 0 || (p.Type != "" && p.Type != "tcp") {
				continue
			}
			result = append(result, model.PortReservation{
				Host:   p.IP,
				Port:   int(p.PublicPort),
				Source: "docker container " + name,
			})
		}
	}
	return result
}
