package services

import (
	"context"
	"sync"
	"testing"

	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
)

func newStreamManager(builder fakeBuilder, prober *fakeProber) (*StreamManager, *broker.Broker) {
	b := broker.New()
	if prober == nil {
		prober = &fakeProber{running: map[string]bool{}}
	}
	return NewStreamManager(b, builder, prober), b
}

func TestStart_PublishesLinesThenComplete(t *testing.T) {
	m, b := newStreamManager(fakeBuilder{}, nil)
	sub := newCollectSub()
	room := domain.ContainerLogsRoom("c1")
	b.Subscribe(room, sub)

	_, created, err := m.Start(room, domain.StreamLogs, "c1", sh(`printf 'a\nb\nc\n'`))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !created {
		t.Fatal("Start() created = false, want true")
	}

	want := []string{"a", "b", "c"}
	for i, text := range want {
		env := recvEnv(t, sub)
		line, ok := env.Event.(domain.LogLine)
		if !ok {
			t.Fatalf("event %d = %T, want LogLine", i, env.Event)
		}
		if line.Text != text {
			t.Errorf("line %d text = %q, want %q", i, line.Text, text)
		}
		if line.Seq != uint64(i+1) {
			t.Errorf("line %d seq = %d, want %d", i, line.Seq, i+1)
		}
	}

	env := recvEnv(t, sub)
	done, ok := env.Event.(domain.StreamComplete)
	if !ok {
		t.Fatalf("final event = %T, want StreamComplete", env.Event)
	}
	if !done.Success {
		t.Errorf("StreamComplete.Success = false, want true (error: %s)", done.Error)
	}

	waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session not evicted after exit")
}

func TestStart_IdempotentUnderConcurrency(t *testing.T) {
	m, _ := newStreamManager(fakeBuilder{}, nil)
	room := domain.ContainerLogsRoom("c1")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.Start(room, domain.StreamLogs, "c1", sh(`sleep 60`))
			if err != nil {
				t.Errorf("Start() error = %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d sessions, want 1", createdCount)
	}

	m.Stop(room, domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session still active after Stop")
}

func TestStart_DistinctRoomsConcurrently(t *testing.T) {
	m, _ := newStreamManager(fakeBuilder{}, nil)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := domain.ContainerLogsRoom(string(rune('a' + i)))
			_, created, err := m.Start(room, domain.StreamLogs, room, sh(`sleep 60`))
			if err != nil {
				t.Errorf("Start(%s) error = %v", room, err)
				return
			}
			if !created {
				t.Errorf("Start(%s) created = false, want true", room)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		room := domain.ContainerLogsRoom(string(rune('a' + i)))
		if !m.Active(room, domain.StreamLogs) {
			t.Errorf("session for %s not active", room)
		}
		m.Stop(room, domain.StreamLogs)
	}
	for i := 0; i < n; i++ {
		room := domain.ContainerLogsRoom(string(rune('a' + i)))
		waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session still active after Stop")
	}
}

func TestStop_DuringSpawnStillTerminates(t *testing.T) {
	m, _ := newStreamManager(fakeBuilder{}, nil)
	room := domain.ContainerLogsRoom("c1")

	// Race Stop against Start; whichever ordering wins, the session must not
	// stay live once both calls have returned.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, _, err := m.Start(room, domain.StreamLogs, "c1", sh(`sleep 60`)); err != nil {
			t.Errorf("Start() error = %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		m.Stop(room, domain.StreamLogs)
	}()
	wg.Wait()

	// A Stop that lost the race is a no-op; issue a final Stop and require
	// the session to drain.
	m.Stop(room, domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session still active after Stop")
}

func TestStart_LaunchFailurePublishesSingleComplete(t *testing.T) {
	m, b := newStreamManager(fakeBuilder{}, nil)
	sub := newCollectSub()
	room := domain.ContainerLogsRoom("c1")
	b.Subscribe(room, sub)

	_, _, err := m.Start(room, domain.StreamLogs, "c1", domain.CommandSpec{Argv: []string{"/nonexistent/binary"}})
	if err == nil {
		t.Fatal("Start() error = nil, want launch failure")
	}
	if m.Active(room, domain.StreamLogs) {
		t.Error("session registered despite launch failure")
	}

	env := recvEnv(t, sub)
	done, ok := env.Event.(domain.StreamComplete)
	if !ok {
		t.Fatalf("event = %T, want StreamComplete", env.Event)
	}
	if done.Success {
		t.Error("StreamComplete.Success = true, want false")
	}
	if done.Error == "" {
		t.Error("StreamComplete.Error empty, want launch error")
	}
	select {
	case extra := <-sub.ch:
		t.Errorf("unexpected extra event %v after launch failure", extra.Kind)
	default:
	}
}

func TestStop_NoSessionIsNoOp(t *testing.T) {
	m, _ := newStreamManager(fakeBuilder{}, nil)
	m.Stop(domain.ContainerLogsRoom("ghost"), domain.StreamLogs)
	m.Stop(domain.ContainerLogsRoom("ghost"), domain.StreamLogs)
}

func TestStart_LogsAndStatsIndependent(t *testing.T) {
	m, _ := newStreamManager(fakeBuilder{}, nil)

	logsRoom := domain.ContainerLogsRoom("c1")
	statsRoom := domain.ContainerStatsRoom("c1")
	if _, created, err := m.Start(logsRoom, domain.StreamLogs, "c1", sh(`sleep 60`)); err != nil || !created {
		t.Fatalf("logs Start() = (created=%v, err=%v)", created, err)
	}
	if _, created, err := m.Start(statsRoom, domain.StreamStats, "c1", sh(`sleep 60`)); err != nil || !created {
		t.Fatalf("stats Start() = (created=%v, err=%v)", created, err)
	}

	m.Stop(logsRoom, domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(logsRoom, domain.StreamLogs) }, "logs session still active")
	if !m.Active(statsRoom, domain.StreamStats) {
		t.Error("stats session stopped by logs Stop")
	}
	m.Stop(statsRoom, domain.StreamStats)
	waitFor(t, func() bool { return !m.Active(statsRoom, domain.StreamStats) }, "stats session still active")
}

func TestStatsSession_PublishesSamples(t *testing.T) {
	builder := fakeBuilder{stats: `printf '{"CPUPerc":"1.5%%","MemUsage":"10MiB / 1GiB","NetIO":"1kB / 2kB","BlockIO":"0B / 0B"}\n'`}
	m, b := newStreamManager(builder, nil)
	sub := newCollectSub()
	room := domain.ContainerStatsRoom("c1")
	b.Subscribe(room, sub)

	if _, _, err := m.StartStats(room, "c1"); err != nil {
		t.Fatalf("StartStats() error = %v", err)
	}

	env := recvEnv(t, sub)
	sample, ok := env.Event.(domain.StatSample)
	if !ok {
		t.Fatalf("event = %T, want StatSample", env.Event)
	}
	if sample.CPU != "1.5%" {
		t.Errorf("sample.CPU = %q, want %q", sample.CPU, "1.5%")
	}

	env = recvEnv(t, sub)
	if _, ok := env.Event.(domain.StreamComplete); !ok {
		t.Fatalf("final event = %T, want StreamComplete", env.Event)
	}
}

func TestOnContainerStatus_StopTearsDownStreams(t *testing.T) {
	builder := fakeBuilder{logs: `sleep 60`, stats: `sleep 60`}
	prober := &fakeProber{running: map[string]bool{"c1": true}}
	m, _ := newStreamManager(builder, prober)

	logsRoom := domain.ContainerLogsRoom("c1")
	statsRoom := domain.ContainerStatsRoom("c1")
	if _, _, err := m.StartLogs(context.Background(), logsRoom, "c1"); err != nil {
		t.Fatalf("StartLogs() error = %v", err)
	}
	if _, _, err := m.StartStats(statsRoom, "c1"); err != nil {
		t.Fatalf("StartStats() error = %v", err)
	}

	m.OnContainerStatus(context.Background(), "c1", "stop", true)

	waitFor(t, func() bool { return !m.Active(logsRoom, domain.StreamLogs) }, "log session survived stop")
	waitFor(t, func() bool { return !m.Active(statsRoom, domain.StreamStats) }, "stats session survived stop")
}

func TestOnContainerStatus_FailedActionChangesNothing(t *testing.T) {
	builder := fakeBuilder{logs: `sleep 60`}
	m, _ := newStreamManager(builder, &fakeProber{running: map[string]bool{"c1": true}})

	m.OnContainerStatus(context.Background(), "c1", "start", false)
	if m.Active(domain.ContainerLogsRoom("c1"), domain.StreamLogs) {
		t.Error("failed start action brought up a log session")
	}
}

func TestOnContainerStatus_StartBringsUpLogSession(t *testing.T) {
	builder := fakeBuilder{logs: `sleep 60`}
	m, _ := newStreamManager(builder, &fakeProber{running: map[string]bool{"c1": true}})

	m.OnContainerStatus(context.Background(), "c1", "start", true)

	room := domain.ContainerLogsRoom("c1")
	if !m.Active(room, domain.StreamLogs) {
		t.Fatal("log session not active after successful start")
	}
	m.Stop(room, domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session still active")
}

func TestSweep_RestartsOnlySubscribedRooms(t *testing.T) {
	builder := fakeBuilder{logs: `sleep 60`}
	prober := &fakeProber{
		running: map[string]bool{"c1": true, "c2": true},
		ids:     []string{"c1", "c2"},
	}
	m, b := newStreamManager(builder, prober)

	// Only c1 has a subscriber; the sweep must leave c2 alone.
	b.Subscribe(domain.ContainerLogsRoom("c1"), newCollectSub())

	m.sweep(context.Background())

	if !m.Active(domain.ContainerLogsRoom("c1"), domain.StreamLogs) {
		t.Error("sweep did not restart session for subscribed room")
	}
	if m.Active(domain.ContainerLogsRoom("c2"), domain.StreamLogs) {
		t.Error("sweep started session for room without subscribers")
	}

	m.Stop(domain.ContainerLogsRoom("c1"), domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(domain.ContainerLogsRoom("c1"), domain.StreamLogs) }, "session still active")
}

func TestSweep_SkipsRoomsWithLiveSession(t *testing.T) {
	builder := fakeBuilder{logs: `sleep 60`}
	prober := &fakeProber{running: map[string]bool{"c1": true}, ids: []string{"c1"}}
	m, b := newStreamManager(builder, prober)

	room := domain.ContainerLogsRoom("c1")
	b.Subscribe(room, newCollectSub())
	s, _, err := m.StartLogs(context.Background(), room, "c1")
	if err != nil {
		t.Fatalf("StartLogs() error = %v", err)
	}

	m.sweep(context.Background())

	got, created, err := m.Start(room, domain.StreamLogs, "c1", sh(`sleep 60`))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if created || got != s {
		t.Error("sweep replaced a live session")
	}

	m.Stop(room, domain.StreamLogs)
	waitFor(t, func() bool { return !m.Active(room, domain.StreamLogs) }, "session still active")
}
