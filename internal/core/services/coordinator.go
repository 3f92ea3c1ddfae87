package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
	"hostdeck.app/internal/core/ports"
	"hostdeck.app/internal/core/runner"
)

const (
	resultTailLines = 50
	resultMaxBytes  = 4096
)

// Coordinator wraps run-to-completion external commands with operation
// record bookkeeping and optional progress streaming. It deduplicates
// nothing: one Launch call, one record, and a failed operation stays failed
// until somebody launches a fresh one.
type Coordinator struct {
	repo    ports.OperationRepository
	broker  *broker.Broker
	timeout time.Duration

	// OnFinished, when set, observes terminal operations (metrics).
	OnFinished func(status domain.OperationStatus, d time.Duration)
}

// NewCoordinator creates a coordinator whose launched commands are bounded by
// timeout. A zero timeout leaves operations unbounded.
func NewCoordinator(repo ports.OperationRepository, b *broker.Broker, timeout time.Duration) *Coordinator {
	return &Coordinator{repo: repo, broker: b, timeout: timeout}
}

// Launch creates an operation record, moves it to running, and executes spec
// in the background. If progressRoom is non-empty every output line is
// published there as a log-line event and completion as stream-complete.
// The command runs detached from ctx: the operation outlives the launching
// request and runs to completion, bounded only by the coordinator timeout.
// The returned operation is the record as of launch.
func (c *Coordinator) Launch(ctx context.Context, kind domain.OperationKind, target string, spec domain.CommandSpec, progressRoom, userRef string) (*domain.Operation, error) {
	op := &domain.Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Target:    target,
		Status:    domain.OperationPending,
		UserRef:   userRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.repo.Create(ctx, op); err != nil {
		return nil, err
	}

	op.Status = domain.OperationRunning
	if err := c.repo.Update(ctx, op); err != nil {
		return nil, err
	}

	// net/http cancels the request context as soon as the handler returns;
	// the runner must not ride it or every operation longer than the
	// response round-trip gets terminated.
	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
	}

	run, err := runner.Start(runCtx, spec)
	if err != nil {
		cancel()
		// Launch failure: reported once on the record (and room), no retry.
		c.finish(op, false, "", err.Error(), progressRoom)
		return op, nil
	}

	go c.track(op, run, progressRoom, cancel)
	return op, nil
}

func (c *Coordinator) track(op *domain.Operation, run *runner.Runner, progressRoom string, cancel context.CancelFunc) {
	defer cancel()
	var seq uint64
	var tail []string
	for line := range run.Lines() {
		tail = append(tail, line)
		if len(tail) > resultTailLines {
			tail = tail[len(tail)-resultTailLines:]
		}
		if progressRoom != "" {
			seq++
			c.broker.Publish(progressRoom, domain.LogLine{
				Seq:       seq,
				Text:      line,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	res := <-run.Done()
	summary := truncate(strings.Join(tail, "\n"), resultMaxBytes)
	if res.Success {
		c.finish(op, true, summary, "", progressRoom)
	} else {
		c.finish(op, false, summary, res.ErrText, progressRoom)
	}
}

// finish parks the record in its terminal state. Called exactly once per
// launch; the record is never touched again afterwards.
func (c *Coordinator) finish(op *domain.Operation, success bool, result, errText, progressRoom string) {
	now := time.Now().UTC()
	op.CompletedAt = &now
	op.Result = result
	if success {
		op.Status = domain.OperationCompleted
	} else {
		op.Status = domain.OperationFailed
		op.Error = errText
	}

	// The launching request is long gone by now; the terminal update must
	// not ride its context.
	if err := c.repo.Update(context.Background(), op); err != nil {
		logger.Error("operation record update failed", "operation", op.ID, "error", err)
	}

	if progressRoom != "" {
		done := domain.StreamComplete{Success: success, Timestamp: now}
		if !success {
			done.Error = errText
		}
		c.broker.Publish(progressRoom, done)
	}

	if c.OnFinished != nil {
		c.OnFinished(op.Status, now.Sub(op.CreatedAt))
	}
	logger.Info("operation finished", "operation", op.ID, "kind", string(op.Kind), "status", string(op.Status))
}

// Get returns one operation record.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.Operation, error) {
	return c.repo.Get(ctx, id)
}

// PaginatedOperations is a page of operation history with metadata.
type PaginatedOperations struct {
	Operations []*domain.Operation `json:"operations"`
	Total      int64               `json:"total"`
	Offset     int                 `json:"offset"`
	Limit      int                 `json:"limit"`
	HasMore    bool                `json:"has_more"`
}

// List returns operation history, newest first.
func (c *Coordinator) List(ctx context.Context, offset, limit int) (*PaginatedOperations, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	ops, err := c.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := c.repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &PaginatedOperations{
		Operations: ops,
		Total:      total,
		Offset:     offset,
		Limit:      limit,
		HasMore:    offset+len(ops) < int(total),
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
