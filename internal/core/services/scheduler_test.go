package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven/mocks"
)

func dueTask(id string, taskType domain.TaskType, now time.Time) *domain.ScheduledTask {
	st := domain.NewScheduledTask(id, taskType, time.Hour)
	st.NextRun = now.Add(-time.Minute)
	return st
}

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		TaskQueue:    mocks.NewMockTaskQueue(),
		PollInterval: time.Minute,
	})

	if s == nil {
		t.Fatal("expected non-nil scheduler")
	}
	if s.interval != time.Minute {
		t.Errorf("expected interval 1m, got %v", s.interval)
	}
	if s.lockTTL != 2*time.Minute {
		t.Errorf("expected lock ttl 2m, got %v", s.lockTTL)
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TaskQueue: mocks.NewMockTaskQueue()})

	if s.interval != 30*time.Second {
		t.Errorf("expected default interval 30s, got %v", s.interval)
	}
	if s.logger == nil {
		t.Error("expected default logger")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		TaskQueue:    mocks.NewMockTaskQueue(),
		Logger:       discardLogger(),
		PollInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		t.Error("expected scheduler to be running")
	}

	// Start again should be no-op
	if err := s.Start(ctx); err != nil {
		t.Errorf("second start should not error: %v", err)
	}

	s.Stop()

	s.mu.RLock()
	running = s.running
	s.mu.RUnlock()
	if running {
		t.Error("expected scheduler to be stopped")
	}

	s.Stop()
}

func TestScheduler_CheckAndEnqueue(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	notDue := domain.NewScheduledTask("later", domain.TaskTypePurgeOrphans, time.Hour)
	notDue.NextRun = now.Add(time.Hour)
	disabled := dueTask("off", domain.TaskTypePurgeOrphans, now)
	disabled.Enabled = false

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{dueTask("purge", domain.TaskTypePurgeOrphans, now), notDue, disabled},
		TaskQueue: queue,
		Logger:    discardLogger(),
	})
	s.now = func() time.Time { return now }

	s.checkAndEnqueue(context.Background())

	pending := queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(pending))
	}
	if pending[0].Type != domain.TaskTypePurgeOrphans {
		t.Errorf("expected %s, got %s", domain.TaskTypePurgeOrphans, pending[0].Type)
	}

	for _, st := range s.ListScheduledTasks() {
		if st.ID != "purge" {
			continue
		}
		if st.LastRun == nil || !st.LastRun.Equal(now) {
			t.Errorf("expected last run %v, got %v", now, st.LastRun)
		}
		if !st.NextRun.Equal(now.Add(time.Hour)) {
			t.Errorf("expected next run in one interval, got %v", st.NextRun)
		}
	}

	// the same instant is no longer due
	s.checkAndEnqueue(context.Background())
	if n := len(queue.Pending()); n != 1 {
		t.Errorf("expected task not to be enqueued twice, got %d", n)
	}
}

func TestScheduler_CheckAndEnqueue_EnqueueError(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	queue.EnqueueFn = func(task *domain.Task) error {
		return errors.New("queue unavailable")
	}
	now := time.Now()
	scheduled := dueTask("purge", domain.TaskTypePurgeOrphans, now)
	nextRun := scheduled.NextRun

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{scheduled},
		TaskQueue: queue,
		Logger:    discardLogger(),
	})

	s.checkAndEnqueue(context.Background())

	// a failed enqueue stays due for the next cycle
	tasks := s.ListScheduledTasks()
	if tasks[0].LastRun != nil || !tasks[0].NextRun.Equal(nextRun) {
		t.Errorf("expected schedule unchanged, got %+v", tasks[0])
	}
}

func TestScheduler_CheckAndEnqueue_LockHeldElsewhere(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockDistributedLock()
	lock.Hold("scheduler", time.Minute)

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{dueTask("purge", domain.TaskTypePurgeOrphans, time.Now())},
		TaskQueue: queue,
		Lock:      lock,
		Logger:    discardLogger(),
	})

	s.checkAndEnqueue(context.Background())

	if n := len(queue.Pending()); n != 0 {
		t.Errorf("expected no tasks while another instance holds the lock, got %d", n)
	}
}

func TestScheduler_CheckAndEnqueue_LockError(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{dueTask("purge", domain.TaskTypePurgeOrphans, time.Now())},
		TaskQueue: queue,
		Lock:      lock,
		Logger:    discardLogger(),
	})

	s.checkAndEnqueue(context.Background())

	if n := len(queue.Pending()); n != 0 {
		t.Errorf("expected cycle to be skipped, got %d tasks", n)
	}
}

func TestScheduler_CheckAndEnqueue_ReleasesLock(t *testing.T) {
	lock := mocks.NewMockDistributedLock()

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{dueTask("purge", domain.TaskTypePurgeOrphans, time.Now())},
		TaskQueue: mocks.NewMockTaskQueue(),
		Lock:      lock,
		Logger:    discardLogger(),
	})

	s.checkAndEnqueue(context.Background())

	if lock.AcquireCount("scheduler") != 1 {
		t.Errorf("expected lock to be acquired once, got %d", lock.AcquireCount("scheduler"))
	}
	if lock.IsHeld("scheduler") {
		t.Error("expected lock to be released after the cycle")
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	scheduled := domain.NewScheduledTask("purge", domain.TaskTypePurgeOrphans, time.Hour)

	s := NewScheduler(SchedulerConfig{
		Tasks:     []*domain.ScheduledTask{scheduled},
		TaskQueue: queue,
		Logger:    discardLogger(),
	})

	task, err := s.TriggerNow(context.Background(), "purge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Type != domain.TaskTypePurgeOrphans {
		t.Errorf("expected %s, got %s", domain.TaskTypePurgeOrphans, task.Type)
	}
	if n := len(queue.Pending()); n != 1 {
		t.Errorf("expected 1 enqueued task, got %d", n)
	}
}

func TestScheduler_TriggerNow_NotFound(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TaskQueue: mocks.NewMockTaskQueue(), Logger: discardLogger()})

	_, err := s.TriggerNow(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		TaskQueue:    mocks.NewMockTaskQueue(),
		Logger:       discardLogger(),
		PollInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	cancel()

	select {
	case <-s.doneCh:
	case <-time.After(time.Second):
		t.Fatal("expected run loop to exit after context cancellation")
	}

	s.Stop()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		t.Error("expected scheduler to be stopped after context cancellation")
	}
}
