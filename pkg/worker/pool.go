/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package worker provides a fixed-size goroutine pool with a bounded backlog
// that can be suspended and resumed across connection epochs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/carverauto/edgeprobe/pkg/logger"
)

const (
	DefaultSize    = 20
	DefaultBacklog = 256
)

var (
	ErrSuspended  = errors.New("worker pool suspended")
	ErrClosed     = errors.New("worker pool closed")
	ErrNotStarted = errors.New("worker pool not started")
)

// Config sizes the pool.
type Config struct {
	// Size is the number of worker goroutines and therefore the maximum
	// number of jobs running at once.
	Size int
	// Backlog is how many accepted jobs may wait for a free worker. Zero
	// makes Submit wait for an idle worker.
	Backlog int
}

// Job is a unit of work. Every accepted job gets exactly one call to either
// Run or Cancel.
type Job struct {
	Name   string
	Run    func(ctx context.Context)
	Cancel func(err error)
}

func (j *Job) cancel(err error) {
	if j.Cancel != nil {
		j.Cancel(err)
	}
}

type queued struct {
	job        Job
	generation uint64
}

// Pool runs jobs on a fixed set of goroutines. A new pool is suspended until
// Resume is called.
type Pool struct {
	config Config
	logger logger.Logger

	jobs chan queued
	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.RWMutex
	started    bool
	accepting  bool
	closed     bool
	gate       chan struct{}
	generation uint64

	runCtx    context.Context
	runCancel context.CancelFunc

	active atomic.Int64
	peak   atomic.Int64
	ran    atomic.Uint64
}

func NewPool(cfg Config, log logger.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}

	if cfg.Backlog < 0 {
		cfg.Backlog = DefaultBacklog
	}

	gate := make(chan struct{})
	close(gate)

	return &Pool{
		config: cfg,
		logger: log,
		jobs:   make(chan queued, cfg.Backlog),
		done:   make(chan struct{}),
		gate:   gate,
	}
}

// Start launches the worker goroutines. Jobs receive a context that keeps
// ctx's values but is only cancelled when Shutdown runs out of time.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}

	p.started = true
	p.runCtx, p.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	p.wg.Add(p.config.Size)

	for i := 0; i < p.config.Size; i++ {
		go p.worker(i)
	}

	p.logger.Info().Int("workers", p.config.Size).Int("backlog", p.config.Backlog).Msg("Worker pool started")
}

// Submit queues job. It blocks while the backlog is full until a slot frees
// up, the pool is suspended or closed, or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()

	switch {
	case p.closed:
		p.mu.RUnlock()

		return ErrClosed
	case !p.started:
		p.mu.RUnlock()

		return ErrNotStarted
	case !p.accepting:
		p.mu.RUnlock()

		return ErrSuspended
	}

	gate, gen := p.gate, p.generation
	p.mu.RUnlock()

	select {
	case p.jobs <- queued{job: job, generation: gen}:
		// Shutdown may have drained the backlog between the checks above
		// and the send.
		if p.isClosed() {
			p.drain(ErrClosed)
		}

		return nil
	case <-gate:
		if p.isClosed() {
			return ErrClosed
		}

		return ErrSuspended
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend stops accepting jobs and cancels the backlog with ErrSuspended.
// Running jobs are left alone.
func (p *Pool) Suspend() int {
	p.mu.Lock()

	if !p.accepting {
		p.mu.Unlock()

		return 0
	}

	p.accepting = false
	p.generation++
	close(p.gate)
	p.mu.Unlock()

	n := p.drain(ErrSuspended)

	p.logger.Info().Int("cancelled", n).Int64("running", p.active.Load()).Msg("Worker pool suspended")

	return n
}

// Resume reopens the pool for submissions.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accepting || p.closed {
		return
	}

	p.accepting = true
	p.gate = make(chan struct{})

	p.logger.Debug().Uint64("generation", p.generation).Msg("Worker pool accepting jobs")
}

// Shutdown closes the pool, cancels the backlog and waits for running jobs.
// When ctx expires first the running jobs' context is cancelled and
// ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	p.generation++

	if p.accepting {
		p.accepting = false
		close(p.gate)
	}

	started := p.started
	p.mu.Unlock()

	p.drain(ErrClosed)
	close(p.done)

	if !started {
		return nil
	}

	finished := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(finished)
	}()

	defer p.runCancel()

	select {
	case <-finished:
		p.drain(ErrClosed)
		p.logger.Info().Uint64("completed", p.ran.Load()).Msg("Worker pool stopped")

		return nil
	case <-ctx.Done():
		p.logger.Warn().Int64("running", p.active.Load()).Msg("Worker pool shutdown grace period expired")

		return fmt.Errorf("%w: %w", ErrClosed, ctx.Err())
	}
}

// Active is the number of jobs running right now.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Peak is the highest number of jobs that ran at once.
func (p *Pool) Peak() int64 {
	return p.peak.Load()
}

// Pending is the number of accepted jobs waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.closed
}

func (p *Pool) drain(err error) int {
	n := 0

	for {
		select {
		case q := <-p.jobs:
			q.job.cancel(err)
			n++
		default:
			return n
		}
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case q := <-p.jobs:
			p.mu.RLock()
			closed, current := p.closed, p.generation
			p.mu.RUnlock()

			switch {
			case closed:
				q.job.cancel(ErrClosed)
			case q.generation != current:
				q.job.cancel(ErrSuspended)
			default:
				p.run(id, &q.job)
			}
		}
	}
}

func (p *Pool) run(id int, job *Job) {
	n := p.active.Add(1)

	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	defer func() {
		p.active.Add(-1)
		p.ran.Add(1)

		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", id).
				Str("job", job.Name).
				Interface("panic", r).
				Msg("Recovered panic in worker")
		}
	}()

	job.Run(p.runCtx)
}
