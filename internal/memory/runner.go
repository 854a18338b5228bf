package memory

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/metrics"
)

// Task is one background unit of work with its own error boundary.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes tasks on a fixed pool of goroutines fed by a bounded
// queue. Submit never blocks: when the queue is full the task is dropped.
type Runner struct {
	tasks   chan Task
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(workers, queueSize int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Runner{tasks: make(chan Task, queueSize), timeout: timeout}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer r.wg.Done()
			for t := range r.tasks {
				r.run(workerID, t)
			}
		}(i)
	}
	return r
}

// Submit enqueues t and reports whether it was accepted.
func (r *Runner) Submit(t Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.tasks <- t:
		return true
	default:
		metrics.MemoryTaskDropped()
		log.WithField("task", t.Name).Warn("memory: queue full, task dropped")
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) run(workerID int, t Task) {
	start := time.Now()
	logger := log.WithFields(log.Fields{"task": t.Name, "worker": workerID})

	defer func() {
		if rec := recover(); rec != nil {
			metrics.MemoryTaskFailed(t.Name)
			logger.WithField("stack", string(debug.Stack())).Error(fmt.Sprintf("memory: task panicked: %v", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := t.Run(ctx); err != nil {
		metrics.MemoryTaskFailed(t.Name)
		logger.WithError(err).WithField("cost", time.Since(start)).Warn("memory: task failed")
		return
	}
	if cost := time.Since(start); cost > 2*time.Second {
		logger.WithField("cost", cost).Info("memory: slow task")
	}
}
