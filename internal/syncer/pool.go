package syncer

import "sync"

// Pool is a fixed-size worker pool with a bounded queue. Submission never
// blocks: a full queue is backpressure the caller surfaces to the trigger
// sender. Stop the accepting surface before calling Stop so no submission
// races the queue close.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool starts the workers immediately.
func NewPool(workers int, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	pool := &Pool{tasks: make(chan func(), queueSize)}
	pool.wg.Add(workers)
	for count := 0; count < workers; count++ {
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task()
			}
		}()
	}
	return pool
}

// TrySubmit enqueues the task, reporting false when the queue is full.
func (p *Pool) TrySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for queued and in-flight tasks to finish.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
