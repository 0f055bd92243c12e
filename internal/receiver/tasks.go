package receiver

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

type task struct {
	cancel context.CancelFunc
}

// TaskManager runs named background tasks. Starting a task cancels the
// previous task of the same name. Cancel is safe whether or not the task
// exists.
type TaskManager struct {
	mu      sync.Mutex
	tasks   map[string]*task
	running sync.WaitGroup
	logger  logger.Logger
}

// NewTaskManager creates an empty task manager.
func NewTaskManager(log logger.Logger) *TaskManager {
	if log == nil {
		log = GetLogger()
	}
	return &TaskManager{
		tasks:  make(map[string]*task),
		logger: log,
	}
}

// Start runs fn under name, cancelling any task already registered under
// that name. fn must return when its context is cancelled.
func (m *TaskManager) Start(ctx context.Context, name string, fn func(ctx context.Context)) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.tasks[name]; ok {
		prev.cancel()
	}
	m.tasks[name] = t
	m.mu.Unlock()

	m.running.Go(func() {
		defer cancel()
		defer m.remove(name, t)
		fn(taskCtx)
	})
}

func (m *TaskManager) remove(name string, t *task) {
	m.mu.Lock()
	if m.tasks[name] == t {
		delete(m.tasks, name)
	}
	m.mu.Unlock()
}

// Cancel requests the named task to stop and reports whether one was
// running. It does not wait for the task to return.
func (m *TaskManager) Cancel(name string) bool {
	m.mu.Lock()
	t, ok := m.tasks[name]
	if ok {
		delete(m.tasks, name)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Trace("no task to cancel", logger.String("task", name))
		return false
	}
	t.cancel()
	m.logger.Debug("task cancelled", logger.String("task", name))
	return true
}

// Running reports whether a task is registered under name.
func (m *TaskManager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[name]
	return ok
}

// Shutdown cancels all tasks and waits up to timeout for them to return.
func (m *TaskManager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	for name, t := range m.tasks {
		t.cancel()
		delete(m.tasks, name)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for tasks to finish after %v", timeout).
			Component("receiver").
			Category(errors.CategoryTimeout).
			Build()
	}
}
