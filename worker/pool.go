// Package worker provides a bounded goroutine pool. The thread expander
// fans per-topic reply fetches out over it so parallelism stays at the
// configured width no matter how many topics a page carries.
package worker

import (
	"sync"
)

// Pool runs submitted jobs on a fixed set of goroutines.
//
// The queue buffers workerCount*4 jobs so a worker can pick up its next job
// without a handoff rendezvous; Submit blocks once the buffer fills, which
// is the back-pressure the expander relies on. Stop closes the queue and
// waits for in-flight jobs, so no goroutine outlives the pool.
type Pool struct {
	workerCount int
	jobs        chan func()
	wg          sync.WaitGroup
}

// NewPool creates a Pool with workerCount goroutines. Counts below one are
// raised to one.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobs:        make(chan func(), workerCount*4),
	}
}

// Start launches the workers. Call exactly once, before any Submit.
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
}

// Submit enqueues a job, blocking while the buffer is full. Must not be
// called after Stop.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Stop drains the queue and waits for every in-flight job to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
