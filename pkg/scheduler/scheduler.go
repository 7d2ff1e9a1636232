// Package scheduler contains a timer facility that runs delayed and periodic tasks.
package scheduler

import (
	"sync"
	"time"
)

// Task is a scheduled task.
type Task struct {
	s         *Scheduler
	terminate chan struct{}
	done      chan struct{}
	once      sync.Once
}

// Cancel stops the task and waits for a running callback to return.
// After Cancel returns, the callback is not called anymore.
// It must not be called from inside the callback of the same task.
func (t *Task) Cancel() {
	t.once.Do(func() {
		close(t.terminate)
	})
	<-t.done
}

// Done returns a channel that is closed when the task has ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Scheduler runs callbacks after a delay or periodically.
// Each task has its own routine, callbacks of the same task never overlap.
type Scheduler struct {
	mutex  sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// New allocates a Scheduler.
func New() *Scheduler {
	return &Scheduler{
		tasks: make(map[*Task]struct{}),
	}
}

func (s *Scheduler) add(run func(t *Task)) *Task {
	t := &Task{
		s:         s,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		close(t.done)
		return t
	}
	s.tasks[t] = struct{}{}
	s.mutex.Unlock()

	go func() {
		defer close(t.done)
		defer s.remove(t)
		run(t)
	}()

	return t
}

func (s *Scheduler) remove(t *Task) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.tasks, t)
}

// After calls cb once, after the given delay.
func (s *Scheduler) After(delay time.Duration, cb func()) *Task {
	return s.add(func(t *Task) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			cb()

		case <-t.terminate:
		}
	})
}

// Every calls cb periodically, with the given period.
func (s *Scheduler) Every(period time.Duration, cb func()) *Task {
	return s.add(func(t *Task) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// a cancel that arrives together with a tick wins
				select {
				case <-t.terminate:
					return
				default:
				}
				cb()

			case <-t.terminate:
				return
			}
		}
	})
}

// Len returns the number of active tasks.
func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.tasks)
}

// Close cancels all tasks and prevents new ones from running.
func (s *Scheduler) Close() {
	s.mutex.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mutex.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}
