// Package workerpool is a bounded executor: a fixed core of workers, extra workers
// up to a maximum when the backlog is full, and an explicit policy for what happens
// when both are exhausted.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"notifgw/internal/observability"
)

type OverflowPolicy int

const (
	// Block waits for backlog space (or ctx cancellation).
	Block OverflowPolicy = iota
	// Drop rejects the task with ErrDropped.
	Drop
	// RunInline executes the task on the submitting goroutine.
	RunInline
)

func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case Drop:
		return "drop"
	case RunInline:
		return "run_inline"
	default:
		return "unknown"
	}
}

func ParsePolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return Block, nil
	case "drop":
		return Drop, nil
	case "run_inline", "caller_runs", "":
		return RunInline, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

var (
	ErrClosed  = errors.New("workerpool: closed")
	ErrDropped = errors.New("workerpool: backlog full, task dropped")
)

type Task func(ctx context.Context)

type Options struct {
	Name      string
	Core      int
	Max       int
	Backlog   int
	KeepAlive time.Duration
	Policy    OverflowPolicy
}

type Pool struct {
	name      string
	core      int
	max       int
	keepAlive time.Duration
	policy    OverflowPolicy

	tasks chan Task
	quit  chan struct{}

	// ctx is handed to every task; cancelled when shutdown runs out of grace.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	workers atomic.Int32
}

func New(opts Options) *Pool {
	if opts.Core <= 0 {
		opts.Core = 1
	}
	if opts.Max < opts.Core {
		opts.Max = opts.Core
	}
	if opts.Backlog < 0 {
		opts.Backlog = 0
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = time.Minute
	}
	if opts.Name == "" {
		opts.Name = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:      opts.Name,
		core:      opts.Core,
		max:       opts.Max,
		keepAlive: opts.KeepAlive,
		policy:    opts.Policy,
		tasks:     make(chan Task, opts.Backlog),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < p.core; i++ {
		p.workers.Add(1)
		p.wg.Add(1)
		go p.worker(nil, true)
	}
	return p
}

// Submit hands t to the pool. It only returns an error for ErrClosed, ErrDropped,
// or ctx cancellation while blocked.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}

	select {
	case p.tasks <- t:
		p.mu.RUnlock()
		return nil
	default:
	}

	if p.tryGrow(t) {
		p.mu.RUnlock()
		return nil
	}

	observability.PoolOverflow.WithLabelValues(p.name, p.policy.String()).Inc()

	switch p.policy {
	case Drop:
		p.mu.RUnlock()
		return ErrDropped
	case RunInline:
		p.mu.RUnlock()
		p.run(t)
		return nil
	default:
		defer p.mu.RUnlock()
		select {
		case p.tasks <- t:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryGrow starts a non-core worker seeded with t if the pool is below max.
func (p *Pool) tryGrow(t Task) bool {
	for {
		n := p.workers.Load()
		if int(n) >= p.max {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.worker(t, false)
			return true
		}
	}
}

func (p *Pool) worker(first Task, core bool) {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	if first != nil {
		p.run(first)
	}

	var idle *time.Timer
	var idleC <-chan time.Time
	if !core {
		idle = time.NewTimer(p.keepAlive)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case t := <-p.tasks:
			p.run(t)
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(p.keepAlive)
			}
		case <-idleC:
			return
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		default:
			return
		}
	}
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker pool task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	t(p.ctx)
}

// Workers reports the number of live worker goroutines.
func (p *Pool) Workers() int { return int(p.workers.Load()) }

// Shutdown stops accepting tasks, lets workers finish the backlog, and waits until
// ctx is done. On timeout the task context is cancelled and Shutdown returns ctx.Err()
// once the workers have returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	slog.Info("worker pool stopping", "pool", p.name, "workers", p.Workers(), "backlog", len(p.tasks))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		slog.Info("worker pool stopped gracefully", "pool", p.name)
		return nil
	case <-ctx.Done():
		slog.Warn("worker pool shutdown timed out, cancelling in-flight tasks", "pool", p.name)
		p.cancel()
		<-done
		return ctx.Err()
	}
}
