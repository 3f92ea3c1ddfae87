package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/ports"
	"hostdeck.app/internal/core/runner"
)

// ExecBridge runs single-shot commands inside a running container and
// publishes one exec-result event to the caller's room. No session, no
// streaming; concurrent execs are independent of each other and of any
// log-follow session on the same container.
type ExecBridge struct {
	broker  *broker.Broker
	builder ports.CommandBuilder
	timeout time.Duration
}

func NewExecBridge(b *broker.Broker, builder ports.CommandBuilder, timeout time.Duration) *ExecBridge {
	return &ExecBridge{broker: b, builder: builder, timeout: timeout}
}

// Exec runs command in the container and publishes the result to room.
func (e *ExecBridge) Exec(ctx context.Context, room, containerID, command string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := runner.Run(ctx, e.builder.Exec(containerID, command))
	ev := domain.ExecResult{Output: out, Timestamp: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	e.broker.Publish(room, ev)
}

// FileBridge lists directories and reads files inside a container via exec
// commands, publishing one file-list or file-content event per call. It is
// stateless: the browser keeps the current-directory notion.
type FileBridge struct {
	broker  *broker.Broker
	builder ports.CommandBuilder
	timeout time.Duration
}

func NewFileBridge(b *broker.Broker, builder ports.CommandBuilder, timeout time.Duration) *FileBridge {
	return &FileBridge{broker: b, builder: builder, timeout: timeout}
}

// List publishes the entries of path inside the container to room.
func (f *FileBridge) List(ctx context.Context, room, containerID, path string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ev := domain.FileList{Path: path, Timestamp: time.Now().UTC()}
	out, err := runner.Run(ctx, f.builder.ListFiles(containerID, path))
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Entries = parseListing(out)
	}
	f.broker.Publish(room, ev)
}

// Read publishes the content of path inside the container to room.
func (f *FileBridge) Read(ctx context.Context, room, containerID, path string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ev := domain.FileContent{Path: path, Timestamp: time.Now().UTC()}
	out, err := runner.Run(ctx, f.builder.ReadFile(containerID, path))
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Text = out
	}
	f.broker.Publish(room, ev)
}

// parseListing parses `ls -lnA` output. Works for both coreutils and busybox
// layouts: mode, links, uid, gid, size, then three date fields, then the
// name (joined back together when it contains spaces).
func parseListing(out string) []domain.FileEntry {
	var entries []domain.FileEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		name := strings.Join(fields[8:], " ")
		// Symlink listings carry the target after an arrow; keep the name.
		if i := strings.Index(name, " -> "); i >= 0 {
			name = name[:i]
		}
		entries = append(entries, domain.FileEntry{
			Name:  name,
			IsDir: strings.HasPrefix(fields[0], "d"),
			Size:  size,
		})
	}
	return entries
}
