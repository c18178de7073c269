package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocrdeploy/pkg/types"
)

// QueueOptions sizes a Queue. Zero values use the defaults.
type QueueOptions struct {
	Workers int           // default 1
	Depth   int           // pending jobs beyond the running ones, default 64
	TTL     time.Duration // how long finished jobs stay retrievable, default 10m
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Depth <= 0 {
		o.Depth = 64
	}
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	return o
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type entry struct {
	req      types.JobRequest
	result   types.JobResult
	enqueued time.Time
	finished time.Time
}

// Queue runs jobs asynchronously on a fixed pool of workers.
type Queue struct {
	h    *Handler
	opts QueueOptions
	log  zerolog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	jobs   chan *entry

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewQueue starts opts.Workers workers and a janitor expiring finished jobs.
func NewQueue(h *Handler, opts QueueOptions, logger zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		h:       h,
		opts:    opts,
		log:     logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan *entry, opts.Depth),
		entries: make(map[string]*entry),
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	go q.janitor()
	return q
}

// Submit enqueues req without blocking. It returns ErrQueueFull when Depth
// jobs are already waiting and a conflict error when req.ID is still tracked.
func (q *Queue) Submit(req types.JobRequest) (types.JobResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.JobResult{}, ErrClosed
	}
	if prev, ok := q.entries[req.ID]; ok && !q.expired(prev) {
		return types.JobResult{}, jobConflictError{id: req.ID}
	}
	e := &entry{
		req:      req,
		result:   types.JobResult{ID: req.ID, Status: types.JobInQueue},
		enqueued: q.now(),
	}
	select {
	case q.jobs <- e:
	default:
		return types.JobResult{}, ErrQueueFull
	}
	q.entries[req.ID] = e
	return e.result, nil
}

// Get returns the current state of a job.
func (q *Queue) Get(id string) (types.JobResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || q.expired(e) {
		return types.JobResult{}, jobNotFoundError{id: id}
	}
	return e.result, nil
}

// Stats counts jobs by status.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s QueueStats
	for _, e := range q.entries {
		switch e.result.Status {
		case types.JobInQueue:
			s.Queued++
		case types.JobInProgress:
			s.InProgress++
		case types.JobCompleted:
			s.Completed++
		case types.JobFailed:
			s.Failed++
		}
	}
	return s
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// ends first, running jobs are canceled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { q.wg.Wait(); close(done) }()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for e := range q.jobs {
		q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	start := q.now()
	q.mu.Lock()
	e.result.Status = types.JobInProgress
	e.result.DelayTime = start.Sub(e.enqueued).Milliseconds()
	q.mu.Unlock()

	if err := q.ctx.Err(); err != nil {
		q.finish(e, types.JobResult{ID: e.req.ID, Status: types.JobFailed, Error: err.Error()})
		return
	}
	q.finish(e, q.h.Handle(q.ctx, e.req))
}

func (q *Queue) finish(e *entry, res types.JobResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res.DelayTime = e.result.DelayTime
	e.result = res
	e.finished = q.now()
	q.log.Debug().Str("job", res.ID).Str("status", res.Status).Int64("delay_ms", res.DelayTime).Msg("async job finished")
}

// expired must be called with mu held.
func (q *Queue) expired(e *entry) bool {
	return !e.finished.IsZero() && q.now().Sub(e.finished) > q.opts.TTL
}

// sweep drops expired entries and returns how many were removed.
func (q *Queue) sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, e := range q.entries {
		if q.expired(e) {
			delete(q.entries, id)
			n++
		}
	}
	return n
}

func (q *Queue) janitor() {
	interval := q.opts.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-t.C:
			if n := q.sweep(); n > 0 {
				q.log.Debug().Int("expired", n).Msg("expired finished jobs")
			}
		}
	}
}
