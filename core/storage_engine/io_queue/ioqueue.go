// Package ioqueue provides a bounded-concurrency dispatcher for disk I/O
// tasks. Tasks are started strictly in submission order; at most
// MaxInFlight tasks run at any moment. A task failure is reported only to
// its own caller and never poisons the queue.
package ioqueue

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	internaltelemetry "github.com/sushant-115/picodb/internal/telemetry"
)

// MaxInFlight is the ceiling on concurrently running tasks.
const MaxInFlight = 16

var ErrClosed = errors.New("i/o queue is closed")

// Task is a zero-argument I/O operation yielding a value.
type Task func() (any, error)

type taskResult struct {
	value any
	err   error
}

// Future resolves to the result of an enqueued task.
type Future struct {
	ch chan taskResult
}

// Wait blocks until the task has finished and returns its result.
func (f *Future) Wait() (any, error) {
	r := <-f.ch
	return r.value, r.err
}

type job struct {
	task   Task
	future *Future
}

// Queue serializes task start order and caps in-flight concurrency.
// Tasks enqueued before Start accumulate and dispatch once Start is called.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *list.List // FIFO of *job
	started bool
	closed  bool
	done    chan struct{}
	sem     chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// NewQueue creates a queue in the stopped state. metrics may be nil.
func NewQueue(logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		pending: list.New(),
		done:    make(chan struct{}),
		sem:     make(chan struct{}, MaxInFlight),
		logger:  logger,
		metrics: metrics,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue registers a task and returns a Future for its result. Safe to
// call before Start; such tasks remain pending until the queue starts.
func (q *Queue) Enqueue(task Task) *Future {
	f := &Future{ch: make(chan taskResult, 1)}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.ch <- taskResult{err: ErrClosed}
		return f
	}
	q.pending.PushBack(&job{task: task, future: f})
	if q.metrics != nil {
		q.metrics.IoQueueDepthUpDown.Add(context.Background(), 1)
	}
	q.cond.Signal()
	q.mu.Unlock()
	return f
}

// Start marks the queue ready and begins dispatching pending tasks.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.dispatch()
}

// dispatch pulls jobs off the pending list in FIFO order. Acquiring the
// semaphore before launching the worker goroutine guarantees that tasks
// begin execution in submission order even when the queue is saturated.
func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && q.pending.Len() == 0 {
			q.cond.Wait()
		}
		if q.pending.Len() == 0 {
			// closed and drained
			q.mu.Unlock()
			return
		}
		front := q.pending.Front()
		q.pending.Remove(front)
		q.mu.Unlock()

		j := front.Value.(*job)
		q.sem <- struct{}{}
		q.wg.Add(1)
		go q.run(j)
	}
}

func (q *Queue) run(j *job) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	start := time.Now()
	value, err := j.task()
	if err != nil {
		q.logger.Debug("io task failed", zap.Error(err))
	}
	if q.metrics != nil {
		q.metrics.IoTaskLatencyHist.Record(context.Background(), time.Since(start).Milliseconds())
		q.metrics.IoQueueDepthUpDown.Add(context.Background(), -1)
	}
	j.future.ch <- taskResult{value: value, err: err}
}

// Close stops accepting new tasks, runs every already-enqueued task to
// completion, and waits for all in-flight work to finish. If the queue was
// never started, pending tasks resolve with ErrClosed instead of running.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		started := q.started
		q.mu.Unlock()
		if started {
			<-q.done
			q.wg.Wait()
		}
		return
	}
	q.closed = true
	started := q.started
	if !started {
		for e := q.pending.Front(); e != nil; e = e.Next() {
			j := e.Value.(*job)
			j.future.ch <- taskResult{err: ErrClosed}
			if q.metrics != nil {
				q.metrics.IoQueueDepthUpDown.Add(context.Background(), -1)
			}
		}
		q.pending.Init()
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	if started {
		<-q.done
		q.wg.Wait()
	}
}
