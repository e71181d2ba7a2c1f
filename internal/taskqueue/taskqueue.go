package taskqueue

import "sync"

// Task is a unit of work executed by the queue.
type Task func() error

// Queue runs queued tasks on a bounded number of goroutines.
// It is used for parallel uploads and checksum computation.
type Queue struct {
	maxWorkers  int
	curWorkers  int
	stopOnError bool
	tasks       []Task
	lock        *sync.Mutex
	cond        *sync.Cond
}

// New creates a queue with the given worker limit. When stopOnError is
// set, Run stops scheduling new tasks after the first task failure.
func New(workers int, stopOnError bool) *Queue {
	lock := &sync.Mutex{}
	return &Queue{
		maxWorkers:  workers,
		stopOnError: stopOnError,
		tasks:       make([]Task, 0),
		lock:        lock,
		cond:        sync.NewCond(lock),
	}
}

// Push appends a task to the queue. It may be called before Run or from
// within a running task.
func (q *Queue) Push(task Task) {
	q.lock.Lock()
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	q.lock.Unlock()
}

// Run executes tasks until the queue drains and all workers finished.
// It returns the last error reported by a task, if any.
func (q *Queue) Run() error {
	var err error

	for {
		q.lock.Lock()
		for (q.curWorkers == q.maxWorkers) ||
			(len(q.tasks) == 0 && q.curWorkers > 0) ||
			(q.stopOnError && err != nil && q.curWorkers > 0) {
			q.cond.Wait()
		}

		if (len(q.tasks) == 0) || (q.stopOnError && err != nil) {
			q.lock.Unlock()
			return err
		}

		q.curWorkers++
		task := q.tasks[0]
		q.tasks = q.tasks[1:]

		go func(task Task) {
			te := task()

			q.lock.Lock()
			q.curWorkers--
			if te != nil {
				err = te
			}
			q.cond.Signal()
			q.lock.Unlock()
		}(task)

		q.lock.Unlock()
	}
}
