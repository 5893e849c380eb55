package storage

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/haasonsaas/chitragupta/internal/observability"
)

// ProcessResult is the outcome of one pooled shell command.
type ProcessResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Killed   bool   `json:"killed"`
}

// Shell runs one command line. ProcessPool satisfies it.
type Shell interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*ProcessResult, error)
}

const termGrace = 3 * time.Second

// ProcessPool runs shell commands with bounded concurrency and a FIFO
// queue. Timed-out commands get SIGTERM, a grace period, then SIGKILL.
type ProcessPool struct {
	jobs   chan poolJob
	wg     sync.WaitGroup
	logger *observability.Logger

	mu     sync.Mutex
	closed bool
}

type poolJob struct {
	ctx     context.Context
	command string
	timeout time.Duration
	done    chan poolDone
}

type poolDone struct {
	result *ProcessResult
	err    error
}

// NewProcessPool starts size workers over a queue of queueCap pending
// commands.
func NewProcessPool(size, queueCap int, logger *observability.Logger) *ProcessPool {
	if size < 1 {
		size = 1
	}
	if queueCap < 0 {
		queueCap = 0
	}
	p := &ProcessPool{
		jobs:   make(chan poolJob, queueCap),
		logger: logger.Named("processpool"),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Run queues a command and waits for its result.
func (p *ProcessPool) Run(ctx context.Context, command string, timeout time.Duration) (*ProcessResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("process pool closed")
	}
	p.mu.Unlock()

	job := poolJob{ctx: ctx, command: command, timeout: timeout, done: make(chan poolDone, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-job.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains the queue and stops the workers.
func (p *ProcessPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
}

func (p *ProcessPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		result, err := runCommand(job.ctx, job.command, job.timeout)
		job.done <- poolDone{result: result, err: err}
	}
}

func runCommand(ctx context.Context, command string, timeout time.Duration) (*ProcessResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Cancellation delivers SIGTERM; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	err := cmd.Run()
	result := &ProcessResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		result.Killed = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}
