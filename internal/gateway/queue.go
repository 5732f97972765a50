package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Sequential is the default upload limit: one multipart upload at a time
// across all lanes, so the file server never receives concurrent uploads.
// Higher limits are an explicit opt-in.
const Sequential int64 = 1

// Queue runs uploads in the background. Each lane is a FIFO drained by its
// own goroutine; a weighted semaphore bounds how many uploads run at once
// across lanes. With a limit of 1 every upload is sequential.
type Queue struct {
	lanes     map[string]chan *Job
	semaphore *semaphore.Weighted
	gateway   *Gateway
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue that uploads through g with at most
// maxConcurrent uploads in flight. Values below 1 mean Sequential.
func NewQueue(g *Gateway, maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = Sequential
	}
	return &Queue{
		lanes:     make(map[string]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		gateway:   g,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.lanes = make(map[string]chan *Job)
	q.closed = false
}

// Stop closes all lanes and waits for queued uploads to drain. Uploads still
// waiting for a semaphore slot when the context is cancelled are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

// Serve runs the queue until ctx is done, for use under a supervisor.
func (q *Queue) Serve(ctx context.Context) error {
	q.Start(ctx)
	<-ctx.Done()
	q.Stop()
	return ctx.Err()
}

func (q *Queue) String() string { return "upload-queue" }

// Enqueue appends job to its lane, starting the lane on first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.ctx == nil {
		return fmt.Errorf("upload queue not running")
	}

	lane, exists := q.lanes[job.Lane]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[job.Lane] = lane
		q.wg.Add(1)
		go q.processLane(q.ctx, job.Lane, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for lane %s", job.Lane)
	}
}

func (q *Queue) processLane(ctx context.Context, name string, lane chan *Job) {
	defer q.wg.Done()
	for job := range lane {
		if err := q.semaphore.Acquire(ctx, 1); err != nil {
			slog.Warn("upload dropped", "lane", name, "path", job.Path, "error", err)
			job.finish(Result{Outcome: OutcomeFailed, Err: err})
			continue
		}
		q.active.Add(1)
		now := time.Now()
		job.StartedAt = &now
		job.Status = JobInFlight
		job.finish(q.gateway.UploadToServer(ctx, job.Path, job.Tags))
		q.active.Add(-1)
		q.semaphore.Release(1)
	}
}

// WaitIdle blocks until no upload is in flight or the timeout expires.
// Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
