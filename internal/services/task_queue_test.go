package services

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestNotificationTaskTypes(t *testing.T) {
	if TaskTypeTeamCreated != "notify:team_created" {
		t.Errorf("TaskTypeTeamCreated = %q", TaskTypeTeamCreated)
	}
	if TaskTypeTaskCreated != "notify:task_created" {
		t.Errorf("TaskTypeTaskCreated = %q", TaskTypeTaskCreated)
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	queue := NewSyncQueue()
	if queue.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()
	if err := queue.Enqueue(&NotificationJob{Type: TaskTypeTeamCreated, TeamID: 1}); err != nil {
		t.Errorf("Enqueue without processor should not error, got %v", err)
	}
}

func TestSyncQueue_ProcessesJobs(t *testing.T) {
	queue := NewSyncQueue()

	var handled int32
	queue.SetProcessor(func(ctx context.Context, job *NotificationJob) error {
		if job.TaskID == 9 {
			atomic.AddInt32(&handled, 1)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(&NotificationJob{Type: TaskTypeTaskCreated, TeamID: 1, TaskID: 9}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := atomic.LoadInt32(&handled); got != 3 {
		t.Errorf("handled = %d, expected 3", got)
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	queue := &AsyncQueue{}
	if !queue.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}
