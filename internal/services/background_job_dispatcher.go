package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	defaultDispatcherWorkers = 4
	defaultDispatcherQueue   = 64
	defaultTaskTimeout       = 30 * time.Second
)

var (
	// ErrDispatcherClosed indicates the dispatcher no longer accepts work.
	ErrDispatcherClosed = errors.New("dispatcher: closed")
	// ErrDispatcherSaturated indicates the queue is full.
	ErrDispatcherSaturated = errors.New("dispatcher: queue full")
)

// TaskDispatcherDeps configure the worker pool.
type TaskDispatcherDeps struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type queuedTask struct {
	id   string
	name string
	run  func(ctx context.Context) error
}

// taskDispatcher runs enqueued tasks on a fixed worker pool, detached from
// the request context so slow SMTP or gateway calls never block responses.
type taskDispatcher struct {
	tasks       chan queuedTask
	taskTimeout time.Duration
	newID       func() string
	logger      func(context.Context, string, map[string]any)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ BackgroundJobDispatcher = (*taskDispatcher)(nil)

// NewTaskDispatcher starts the worker pool immediately.
func NewTaskDispatcher(deps TaskDispatcherDeps) (BackgroundJobDispatcher, error) {
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultDispatcherWorkers
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = defaultDispatcherQueue
	}
	timeout := deps.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	d := &taskDispatcher{
		tasks:       make(chan queuedTask, queueSize),
		taskTimeout: timeout,
		newID:       idGen,
		logger:      logger,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d, nil
}

// Enqueue submits a task and returns its id. The task runs with a fresh
// context bounded by the dispatcher task timeout.
func (d *taskDispatcher) Enqueue(ctx context.Context, task BackgroundTask) (string, error) {
	if task.Run == nil {
		return "", errors.New("dispatcher: task run function is required")
	}
	name := strings.TrimSpace(task.Name)
	if name == "" {
		name = "task"
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrDispatcherClosed
	}
	d.mu.Unlock()

	queued := queuedTask{id: d.newID(), name: name, run: task.Run}
	select {
	case d.tasks <- queued:
		d.logger(ctx, "task_enqueued", map[string]any{"taskId": queued.id, "name": name})
		return queued.id, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrDispatcherSaturated, name)
	}
}

// Close stops accepting tasks and waits for queued work to drain.
func (d *taskDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *taskDispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		taskCtx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
		if err := task.run(taskCtx); err != nil {
			d.logger(taskCtx, "task_failed", map[string]any{"taskId": task.id, "name": task.name, "error": err.Error()})
		} else {
			d.logger(taskCtx, "task_completed", map[string]any{"taskId": task.id, "name": task.name})
		}
		cancel()
	}
}
