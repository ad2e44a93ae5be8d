// Package commandqueue serializes work into named lanes. The engine gives
// every session its own lane with concurrency 1, so one stage runs per
// session at a time while sessions proceed independently.
package commandqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/observability"
)

// Task is an asynchronous operation executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

// ErrClosed is returned for tasks enqueued after Close.
var ErrClosed = errors.New("command queue closed")

type taskRecord struct {
	task   Task
	ctx    context.Context
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue provides lane-based task serialization.
type Queue struct {
	lanes   map[string]*laneState
	mu      sync.RWMutex
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	dedup   *dedupCache
}

// New creates an empty queue. Lanes are created on first use with
// concurrency 1.
func New() *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, 5*time.Minute),
	}
}

// Enqueue schedules task on the lane and blocks until it completes.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	return q.EnqueueIdempotent(ctx, lane, "", task)
}

// EnqueueIdempotent is Enqueue with request deduplication: a repeated
// requestID within the dedup window returns the cached result instead of
// re-running the task. An empty requestID disables deduplication.
func (q *Queue) EnqueueIdempotent(ctx context.Context, lane, requestID string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// The waitgroup counter must not grow once Close has started waiting,
	// so the closed-check and the Add happen under a shared read lock that
	// Close excludes.
	q.closeMu.RLock()
	select {
	case <-q.ctx.Done():
		q.closeMu.RUnlock()
		return nil, ErrClosed
	default:
	}
	q.wg.Add(1)
	q.closeMu.RUnlock()
	defer q.wg.Done()

	if requestID != "" {
		if cached, ok := q.dedup.Get(requestID); ok {
			log.Debug().Str("lane", lane).Str("request_id", requestID).Msg("Returning cached task result")
			return cached.value, cached.err
		}
	}

	ls := q.lane(lane)
	record := &taskRecord{
		task:   task,
		ctx:    ctx,
		result: make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	observability.RecordQueueEnqueue(lane, queueSize)
	log.Debug().Str("lane", lane).Int("queue_size", queueSize).Msg("Task enqueued")

	go q.processLane(lane)

	result := <-record.result
	if requestID != "" {
		q.dedup.Set(requestID, result)
	}
	return result.value, result.err
}

func (q *Queue) lane(name string) *laneState {
	q.mu.RLock()
	ls, ok := q.lanes[name]
	q.mu.RUnlock()
	if ok {
		return ls
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, ok = q.lanes[name]; ok {
		return ls
	}
	ls = &laneState{concurrency: 1}
	q.lanes[name] = ls
	return ls
}

func (q *Queue) processLane(lane string) {
	ls := q.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		go q.executeTask(lane, record)
	}
}

func (q *Queue) executeTask(lane string, record *taskRecord) {
	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls := q.lane(lane)
	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		log.Error().Str("lane", lane).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		log.Debug().Str("lane", lane).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go q.processLane(lane)
}

// QueueSize returns the number of queued (not running) tasks on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, ok := q.lanes[lane]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Close stops accepting tasks, cancels running task contexts, and waits for
// every blocked Enqueue call to return.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	q.cancel()
	q.closeMu.Unlock()

	q.wg.Wait()
	q.dedup.Stop()
	return nil
}
