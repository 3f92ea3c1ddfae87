package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"hostdeck.app/internal/core/domain"
)

const tailLines = 20

// Result is the completion signal of one external command.
type Result struct {
	Success bool
	Err     error
	// ErrText carries the captured error context on failure: the tail of the
	// combined output, or the exit error when the command produced nothing.
	ErrText string
}

// Runner executes one external command and exposes its combined output as a
// line sequence plus a single completion signal. Lines are produced as they
// arrive, not buffered to completion. A runner is not restartable; callers
// create a new one per invocation.
type Runner struct {
	cmd      *exec.Cmd
	lines    chan string
	done     chan Result
	stopOnce sync.Once

	tailMu sync.Mutex
	tail   []string
}

// Start launches the command. A launch failure is returned once, here; it is
// never retried. Cancelling ctx requests termination the same way Stop does.
func Start(ctx context.Context, spec domain.CommandSpec) (*Runner, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty command spec")
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir

	// Merge stdout and stderr into one pipe so output arrives as a single
	// ordered line sequence.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}

	r := &Runner{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan Result, 1),
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		defer close(r.lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			r.tailPush(line)
			r.lines <- line
		}
	}()

	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		err := cmd.Wait()
		// Wait has finished copying into pw; closing it ends the scanner.
		pw.Close()
		<-scanDone

		res := Result{Success: err == nil, Err: err}
		if err != nil {
			res.ErrText = r.tailText()
			if res.ErrText == "" {
				res.ErrText = err.Error()
			}
		}
		r.done <- res
	}()

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-waitDone:
		}
	}()

	return r, nil
}

// Lines yields the command's output lines in production order. The channel is
// closed when output ends.
func (r *Runner) Lines() <-chan string {
	return r.lines
}

// Done yields exactly one Result after the process exits and all output has
// been consumed into Lines.
func (r *Runner) Done() <-chan Result {
	return r.done
}

// Stop sends SIGTERM to the process. Best effort: termination is observed via
// Done, not here. Safe to call multiple times and after exit.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
}

func (r *Runner) tailPush(line string) {
	r.tailMu.Lock()
	r.tail = append(r.tail, line)
	if len(r.tail) > tailLines {
		r.tail = r.tail[len(r.tail)-tailLines:]
	}
	r.tailMu.Unlock()
}

func (r *Runner) tailText() string {
	r.tailMu.Lock()
	defer r.tailMu.Unlock()
	return strings.Join(r.tail, "\n")
}

// Run executes a one-shot command to completion and returns its combined
// output. Used for short commands where streaming adds nothing.
func Run(ctx context.Context, spec domain.CommandSpec) (string, error) {
	r, err := Start(ctx, spec)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for line := range r.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	res := <-r.Done()
	if !res.Success {
		return b.String(), errors.New(res.ErrText)
	}
	return b.String(), nil
}
