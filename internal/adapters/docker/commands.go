package docker

import (
	"hostdeck.app/internal/core/domain"
)

// Builder assembles docker CLI command specs. All streaming and bridge paths
// shell out to the docker binary rather than holding long-lived SDK streams;
// the processes inherit the daemon connection from the environment.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// FollowLogs follows the log stream of a running container, seeded with the
// last 100 lines. For a stopped container the full history is emitted without
// --follow so the process exits after the replay.
func (Builder) FollowLogs(containerID string, running bool) domain.CommandSpec {
	if running {
		return domain.CommandSpec{Argv: []string{"docker", "logs", "--follow", "--timestamps", "--tail", "100", containerID}}
	}
	return domain.CommandSpec{Argv: []string{"docker", "logs", "--timestamps", containerID}}
}

func (Builder) StatsStream(containerID string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"docker", "stats", containerID, "--format", "{{json .}}"}}
}

func (Builder) Exec(containerID, command string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"docker", "exec", containerID, "/bin/sh", "-c", command}}
}

func (Builder) ListFiles(containerID, path string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"docker", "exec", containerID, "ls", "-lnA", "--", path}}
}

func (Builder) ReadFile(containerID, path string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"docker", "exec", containerID, "cat", "--", path}}
}

// ContainerAction builds the lifecycle command for start, stop, restart and
// remove. Remove is forced so the caller does not have to stop first.
func (Builder) ContainerAction(action, containerID string) domain.CommandSpec {
	if action == "remove" {
		return domain.CommandSpec{Argv: []string{"docker", "rm", "-f", containerID}}
	}
	return domain.CommandSpec{Argv: []string{"docker", action, containerID}}
}

func (Builder) PullImage(name string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"docker", "pull", name}}
}

func (Builder) BuildImage(dir, tag string) domain.CommandSpec {
	return domain.CommandSpec{
		Argv: []string{"docker", "build", "-t", tag, "."},
		Dir:  dir,
	}
}

func (Builder) ComposeUp(dir string) domain.CommandSpec {
	return domain.CommandSpec{
		Argv: []string{"docker", "compose", "up", "-d", "--remove-orphans"},
		Dir:  dir,
	}
}

func (Builder) ComposeDown(dir string) domain.CommandSpec {
	return domain.CommandSpec{
		Argv: []string{"docker", "compose", "down"},
		Dir:  dir,
	}
}
