package ports

import (
	"context"

	"hostdeck.app/internal/core/domain"
)

// OperationRepository is the durable store for operation records. The schema
// and migrations live with the adapter; the core only needs these calls.
type OperationRepository interface {
	Create(ctx context.Context, op *domain.Operation) error
	Update(ctx context.Context, op *domain.Operation) error
	Get(ctx context.Context, id string) (*domain.Operation, error)
	List(ctx context.Context, offset, limit int) ([]*domain.Operation, error)
	Count(ctx context.Context) (int64, error)
}

// ContainerProber answers liveness questions about containers. Backed by the
// Docker daemon; used by the status coupling and the reconciliation sweep.
type ContainerProber interface {
	IsRunning(ctx context.Context, containerID string) (bool, error)
	RunningContainers(ctx context.Context) ([]string, error)
}

// CommandBuilder supplies ready-to-run command specs for the stream and
// bridge paths. The core never assembles argv itself.
type CommandBuilder interface {
	FollowLogs(containerID string, running bool) domain.CommandSpec
	StatsStream(containerID string) domain.CommandSpec
	Exec(containerID, command string) domain.CommandSpec
	ListFiles(containerID, path string) domain.CommandSpec
	ReadFile(containerID, path string) domain.CommandSpec
}

// EventMirror relays locally published envelopes to an external channel
// (other workers, MQTT). Mirror errors are logged, never propagated to the
// publisher.
type EventMirror interface {
	Mirror(ctx context.Context, env domain.Envelope) error
}
