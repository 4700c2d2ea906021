package routing

import (
	"context"
	"sync"

	"github.com/soyeahso/concierge/internal/domain"
)

// dispatcher runs the messages of one conversation one after another, in
// the order they were enqueued, and different conversations in parallel.
// A conversation has a worker goroutine only while its queue is non-empty.
type dispatcher struct {
	run func(domain.InboundMessage)

	mu       sync.Mutex
	queues   map[string][]domain.InboundMessage // present while a worker runs
	inflight sync.WaitGroup
}

func newDispatcher(run func(domain.InboundMessage)) *dispatcher {
	return &dispatcher{run: run, queues: make(map[string][]domain.InboundMessage)}
}

// enqueue appends msg to the queue of key and starts a worker for key if
// none is running. It never blocks on message handling.
func (d *dispatcher) enqueue(key string, msg domain.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, running := d.queues[key]
	d.queues[key] = append(q, msg)
	if !running {
		d.inflight.Add(1)
		go d.drain(key)
	}
}

func (d *dispatcher) drain(key string) {
	defer d.inflight.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		msg := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.run(msg)
	}
}

// pending returns how many conversations have a running worker.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// wait blocks until every queue is drained or ctx is done.
func (d *dispatcher) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
