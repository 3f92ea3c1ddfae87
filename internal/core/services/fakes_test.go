package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"hostdeck.app/internal/core/domain"
)

func sh(script string) domain.CommandSpec {
	return domain.CommandSpec{Argv: []string{"/bin/sh", "-c", script}}
}

// collectSub gathers delivered envelopes on a buffered channel.
type collectSub struct {
	ch chan domain.Envelope
}

func newCollectSub() *collectSub {
	return &collectSub{ch: make(chan domain.Envelope, 256)}
}

func (c *collectSub) Deliver(env domain.Envelope) bool {
	select {
	case c.ch <- env:
		return true
	default:
		return false
	}
}

func recvEnv(t *testing.T, c *collectSub) domain.Envelope {
	t.Helper()
	select {
	case env := <-c.ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Envelope{}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeBuilder maps every command kind to a fixed shell script. Exec passes
// the command through so tests control the behavior per call.
type fakeBuilder struct {
	logs  string
	stats string
	list  string
	read  string
}

func (f fakeBuilder) FollowLogs(string, bool) domain.CommandSpec { return sh(f.logs) }
func (f fakeBuilder) StatsStream(string) domain.CommandSpec      { return sh(f.stats) }
func (f fakeBuilder) Exec(_, command string) domain.CommandSpec  { return sh(command) }
func (f fakeBuilder) ListFiles(string, string) domain.CommandSpec {
	return sh(f.list)
}
func (f fakeBuilder) ReadFile(string, string) domain.CommandSpec {
	return sh(f.read)
}

type fakeProber struct {
	mu      sync.Mutex
	running map[string]bool
	ids     []string
	err     error
}

func (p *fakeProber) IsRunning(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[id], p.err
}

func (p *fakeProber) RunningContainers(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids, p.err
}

// fakeRepo is an in-memory operation store that records every status the
// record passes through.
type fakeRepo struct {
	mu          sync.Mutex
	ops         map[string]*domain.Operation
	transitions map[string][]domain.OperationStatus
	createErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		ops:         make(map[string]*domain.Operation),
		transitions: make(map[string][]domain.OperationStatus),
	}
}

func (r *fakeRepo) Create(_ context.Context, op *domain.Operation) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
	r.transitions[op.ID] = append(r.transitions[op.ID], op.Status)
	return nil
}

func (r *fakeRepo) Update(_ context.Context, op *domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
	r.transitions[op.ID] = append(r.transitions[op.ID], op.Status)
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*domain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, errors.New("operation not found")
	}
	cp := *op
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, offset, limit int) ([]*domain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Operation
	for _, op := range r.ops {
		cp := *op
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *fakeRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.ops)), nil
}

func (r *fakeRepo) statuses(id string) []domain.OperationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OperationStatus(nil), r.transitions[id]...)
}
