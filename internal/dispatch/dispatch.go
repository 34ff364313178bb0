// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch runs detached background work on a fixed set of
// workers fed by a bounded queue.  Submitting never blocks: when the
// queue is full the task is dropped and logged, because the caller has
// already answered its client and has nobody to report back to.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	run  Task
}

// Pool executes submitted tasks.
type Pool struct {
	log  *zap.SugaredLogger
	jobs chan job

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
}

// New starts workers goroutines draining a queue of queueSize
// tasks.  Values below 1 are raised to 1.
func New(workers, queueSize int, log *zap.SugaredLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log,
		jobs:   make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.workers.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("background task panicked", "task", j.name, "panic", r)
		}
	}()
	if err := j.run(p.ctx); err != nil {
		p.log.Errorw("background task failed", "task", j.name, "error", err)
	}
}

// Submit queues t under name and reports whether it was accepted.  A
// task is rejected when the queue is full or the pool is closed.
func (p *Pool) Submit(name string, t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.Warnw("dropping task submitted after close", "task", name)
		return false
	}
	p.pending.Add(1)
	select {
	case p.jobs <- job{name: name, run: t}:
		return true
	default:
		p.pending.Done()
		p.log.Warnw("dropping task; queue full", "task", name, "capacity", cap(p.jobs))
		return false
	}
}

// Wait blocks until every task accepted so far has finished.  Do not
// call it concurrently with Submit.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close stops accepting tasks, lets queued tasks finish and returns
// once the workers exit, or when ctx is done, in which case running
// tasks see their context cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
