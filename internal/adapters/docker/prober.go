package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"hostdeck.app/internal/core/circuitbreaker"
)

// Prober answers container liveness questions through the Docker daemon API.
// All daemon calls go through a circuit breaker so a wedged daemon socket
// fails the sweep fast instead of stacking up blocked goroutines.
type Prober struct {
	cli *client.Client
	cb  *circuitbreaker.CircuitBreaker
}

func NewProber() (*Prober, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Prober{
		cli: cli,
		cb:  circuitbreaker.New("docker-daemon"),
	}, nil
}

func (p *Prober) IsRunning(ctx context.Context, containerID string) (bool, error) {
	var running bool
	err := p.cb.Execute(ctx, func() error {
		info, err := p.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return err
		}
		running = info.State != nil && info.State.Running
		return nil
	})
	return running, err
}

func (p *Prober) RunningContainers(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.cb.Execute(ctx, func() error {
		// Default list options: running containers only.
		containers, err := p.cli.ContainerList(ctx, container.ListOptions{})
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, c := range containers {
			ids = append(ids, c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
