package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
	"hostdeck.app/internal/core/ports"
	"hostdeck.app/internal/core/runner"
)

type sessionKey struct {
	room string
	kind domain.StreamKind
}

// Session is the live binding of a (room, kind) pair to one running external
// process. The runner is attached after the session is registered, so a Stop
// arriving during the spawn is remembered and applied on attach.
type Session struct {
	Room      string
	Kind      domain.StreamKind
	Target    string
	StartedAt time.Time

	seq atomic.Uint64

	mu      sync.Mutex
	run     *runner.Runner
	stopped bool
}

func (s *Session) nextSeq() uint64 {
	return s.seq.Add(1)
}

func (s *Session) attach(run *runner.Runner) {
	s.mu.Lock()
	s.run = run
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		run.Stop()
	}
}

func (s *Session) stop() {
	s.mu.Lock()
	s.stopped = true
	run := s.run
	s.mu.Unlock()
	if run != nil {
		run.Stop()
	}
}

// StreamManager enforces the single-producer invariant: at most one live
// runner per (room, kind). Start is atomic-idempotent, which also makes the
// reconciliation sweep safe against stop races by construction.
type StreamManager struct {
	broker  *broker.Broker
	builder ports.CommandBuilder
	prober  ports.ContainerProber

	mu       sync.Mutex
	sessions map[sessionKey]*Session

	// OnSessionCount, when set, observes the live session count.
	OnSessionCount func(n int)
}

func NewStreamManager(b *broker.Broker, builder ports.CommandBuilder, prober ports.ContainerProber) *StreamManager {
	return &StreamManager{
		broker:   b,
		builder:  builder,
		prober:   prober,
		sessions: make(map[sessionKey]*Session),
	}
}

// Start begins a stream session for (room, kind) running spec. If a session
// is already live for that key it is returned unchanged and no process is
// started; the second return value reports whether a new session was created.
// A launch failure publishes a single failed stream-complete to the room.
func (m *StreamManager) Start(room string, kind domain.StreamKind, target string, spec domain.CommandSpec) (*Session, bool, error) {
	key := sessionKey{room: room, kind: kind}

	s := &Session{
		Room:      room,
		Kind:      kind,
		Target:    target,
		StartedAt: time.Now(),
	}

	// Reserve the key before spawning so concurrent Starts stay idempotent
	// without unrelated rooms serializing behind a slow fork/exec.
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return cur, false, nil
	}
	m.sessions[key] = s
	m.notifyCountLocked()
	m.mu.Unlock()

	// Sessions outlive the request that created them; they end on process
	// exit or explicit stop, so the runner gets a background context.
	run, err := runner.Start(context.Background(), spec)
	if err != nil {
		m.mu.Lock()
		if m.sessions[key] == s {
			delete(m.sessions, key)
			m.notifyCountLocked()
		}
		m.mu.Unlock()
		m.broker.Publish(room, domain.StreamComplete{Success: false, Error: err.Error(), Timestamp: time.Now().UTC()})
		return nil, false, err
	}
	s.attach(run)

	logger.Info("stream session started", "room", room, "kind", string(kind), "target", target)
	go m.forward(key, s)
	return s, true, nil
}

// forward pumps runner output into the room and publishes the terminal
// stream-complete once the process exits.
func (m *StreamManager) forward(key sessionKey, s *Session) {
	for line := range s.run.Lines() {
		switch s.Kind {
		case domain.StreamStats:
			if sample, ok := ParseStatLine(line); ok {
				m.broker.Publish(s.Room, sample)
			}
		default:
			m.broker.Publish(s.Room, domain.LogLine{
				Seq:       s.nextSeq(),
				Text:      line,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	res := <-s.run.Done()

	m.mu.Lock()
	// Only evict ourselves: a successor session under the same key must not
	// be removed by a stale exit.
	if m.sessions[key] == s {
		delete(m.sessions, key)
		m.notifyCountLocked()
	}
	m.mu.Unlock()

	done := domain.StreamComplete{Success: res.Success, Timestamp: time.Now().UTC()}
	if !res.Success {
		done.Error = res.ErrText
	}
	m.broker.Publish(s.Room, done)
	logger.Info("stream session ended", "room", s.Room, "kind", string(s.Kind), "success", res.Success)
}

// Stop requests termination of the session for (room, kind). The session is
// removed when the runner's completion signal arrives, not synchronously.
// Stopping a nonexistent session is a no-op.
func (m *StreamManager) Stop(room string, kind domain.StreamKind) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey{room: room, kind: kind}]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
}

// Active reports whether a live session exists for (room, kind).
func (m *StreamManager) Active(room string, kind domain.StreamKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey{room: room, kind: kind}]
	return ok
}

// StartLogs starts a log session for a container. Running containers are
// followed; stopped ones stream their existing log history and complete.
func (m *StreamManager) StartLogs(ctx context.Context, room, containerID string) (*Session, bool, error) {
	running, err := m.prober.IsRunning(ctx, containerID)
	if err != nil {
		// The probe is advisory; a bad target surfaces as a launch or
		// runtime failure on the stream itself.
		logger.Warn("container state probe failed", "container", containerID, "error", err)
		running = true
	}
	return m.Start(room, domain.StreamLogs, containerID, m.builder.FollowLogs(containerID, running))
}

// StartStats starts a resource-stat sampling session for a container.
func (m *StreamManager) StartStats(room, containerID string) (*Session, bool, error) {
	return m.Start(room, domain.StreamStats, containerID, m.builder.StatsStream(containerID))
}

// OnContainerStatus couples container lifecycle to log-stream lifecycle: a
// successful start/restart brings up a log session for the container's room,
// a successful stop/remove tears streams down. Failed actions change nothing.
func (m *StreamManager) OnContainerStatus(ctx context.Context, containerID, action string, success bool) {
	if !success {
		return
	}
	switch action {
	case "start", "restart":
		if _, _, err := m.StartLogs(ctx, domain.ContainerLogsRoom(containerID), containerID); err != nil {
			logger.Warn("log session start after status change failed", "container", containerID, "error", err)
		}
	case "stop", "remove":
		m.Stop(domain.ContainerLogsRoom(containerID), domain.StreamLogs)
		m.Stop(domain.ContainerStatsRoom(containerID), domain.StreamStats)
	}
}

// RunSweeper periodically restarts log sessions for running containers whose
// room has subscribers but no live producer. It compensates for sessions lost
// to process crashes or silent channel failures; the status coupling remains
// the primary trigger path. Returns when ctx is cancelled.
func (m *StreamManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *StreamManager) sweep(ctx context.Context) {
	ids, err := m.prober.RunningContainers(ctx)
	if err != nil {
		logger.Warn("reconciliation sweep probe failed", "error", err)
		return
	}
	for _, id := range ids {
		room := domain.ContainerLogsRoom(id)
		if m.broker.Subscribers(room) == 0 {
			continue
		}
		if m.Active(room, domain.StreamLogs) {
			continue
		}
		logger.Info("sweep restarting log session", "container", id)
		if _, _, err := m.StartLogs(ctx, room, id); err != nil {
			logger.Warn("sweep restart failed", "container", id, "error", err)
		}
	}
}

func (m *StreamManager) notifyCountLocked() {
	if m.OnSessionCount != nil {
		m.OnSessionCount(len(m.sessions))
	}
}
