package worker_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/worker"
)

func TestPool_ExecutesAllJobs(t *testing.T) {
	const jobs = 500
	p := worker.NewPool(10)
	p.Start()

	var counter int64
	for i := 0; i < jobs; i++ {
		p.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
	p.Stop()

	if counter != jobs {
		t.Errorf("expected %d jobs executed, got %d", jobs, counter)
	}
}

func TestPool_ZeroWorkersFallsBackToOne(t *testing.T) {
	p := worker.NewPool(0)
	p.Start()
	var ran int64
	p.Submit(func() { atomic.AddInt64(&ran, 1) })
	p.Stop()
	if ran != 1 {
		t.Errorf("expected job to run, ran=%d", ran)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const width = 3
	p := worker.NewPool(width)
	p.Start()

	var inFlight, peak int64
	var mu sync.Mutex
	gate := make(chan struct{})

	// Stay under the pool's buffer so Submit never blocks against the gate.
	for i := 0; i < 10; i++ {
		p.Submit(func() {
			n := atomic.AddInt64(&inFlight, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-gate
			atomic.AddInt64(&inFlight, -1)
		})
	}
	close(gate)
	p.Stop()

	if peak > width {
		t.Errorf("peak concurrency %d exceeded pool width %d", peak, width)
	}
}
