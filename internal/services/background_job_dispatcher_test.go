package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskDispatcherRunsEnqueuedTask(t *testing.T) {
	dispatcher, err := NewTaskDispatcher(TaskDispatcherDeps{Workers: 1, QueueSize: 4})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer dispatcher.Close(context.Background())

	done := make(chan struct{})
	id, err := dispatcher.Enqueue(context.Background(), BackgroundTask{
		Name: "test_task",
		Run: func(context.Context) error {
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected task id")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run")
	}
}

func TestTaskDispatcherRejectsNilRun(t *testing.T) {
	dispatcher, err := NewTaskDispatcher(TaskDispatcherDeps{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer dispatcher.Close(context.Background())

	if _, err := dispatcher.Enqueue(context.Background(), BackgroundTask{Name: "empty"}); err == nil {
		t.Fatalf("expected error for nil run function")
	}
}

func TestTaskDispatcherSaturation(t *testing.T) {
	dispatcher, err := NewTaskDispatcher(TaskDispatcherDeps{Workers: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	blocker := BackgroundTask{
		Name: "blocker",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if _, err := dispatcher.Enqueue(context.Background(), blocker); err != nil {
		t.Fatalf("enqueue blocker: %v", err)
	}
	<-started

	// Worker is busy; one slot remains in the queue.
	idle := BackgroundTask{Name: "idle", Run: func(context.Context) error { return nil }}
	if _, err := dispatcher.Enqueue(context.Background(), idle); err != nil {
		t.Fatalf("enqueue queued task: %v", err)
	}
	if _, err := dispatcher.Enqueue(context.Background(), idle); !errors.Is(err, ErrDispatcherSaturated) {
		t.Fatalf("expected saturation, got %v", err)
	}

	close(release)
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestTaskDispatcherCloseDrainsQueue(t *testing.T) {
	dispatcher, err := NewTaskDispatcher(TaskDispatcherDeps{Workers: 2, QueueSize: 16})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		if _, err := dispatcher.Enqueue(context.Background(), BackgroundTask{
			Name: "count",
			Run: func(context.Context) error {
				ran.Add(1)
				return nil
			},
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := ran.Load(); got != 8 {
		t.Fatalf("expected 8 tasks run before close returned, got %d", got)
	}

	if _, err := dispatcher.Enqueue(context.Background(), BackgroundTask{
		Name: "late",
		Run:  func(context.Context) error { return nil },
	}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestTaskDispatcherTaskFailureDoesNotStopWorker(t *testing.T) {
	dispatcher, err := NewTaskDispatcher(TaskDispatcherDeps{Workers: 1, QueueSize: 4})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer dispatcher.Close(context.Background())

	if _, err := dispatcher.Enqueue(context.Background(), BackgroundTask{
		Name: "failing",
		Run:  func(context.Context) error { return errors.New("boom") },
	}); err != nil {
		t.Fatalf("enqueue failing: %v", err)
	}

	done := make(chan struct{})
	if _, err := dispatcher.Enqueue(context.Background(), BackgroundTask{
		Name: "follow_up",
		Run: func(context.Context) error {
			close(done)
			return nil
		},
	}); err != nil {
		t.Fatalf("enqueue follow up: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker stopped after failing task")
	}
}
