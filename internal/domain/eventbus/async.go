package eventbus

import (
	"sync"
)

type asyncJob struct {
	topic string
	run   func()
}

// AsyncQueue runs jobs on a fixed set of workers. A panicking job is reported
// through onPanic and never kills its worker.
type AsyncQueue struct {
	workerNum int
	jobs      chan asyncJob
	stopChan  chan struct{}
	onPanic   func(topic string, r any)

	workers sync.WaitGroup
	pending sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	once    sync.Once
}

func NewAsyncQueue(workerNum, capacity int, onPanic func(string, any)) *AsyncQueue {
	if workerNum <= 0 {
		workerNum = 2
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &AsyncQueue{
		workerNum: workerNum,
		jobs:      make(chan asyncJob, capacity),
		stopChan:  make(chan struct{}),
		onPanic:   onPanic,
	}
}

func (q *AsyncQueue) Start() {
	for i := 0; i < q.workerNum; i++ {
		q.workers.Add(1)
		go q.worker()
	}
}

// Enqueue schedules run. It reports false when the queue is full or stopped.
func (q *AsyncQueue) Enqueue(run func(), topic string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return false
	}
	q.pending.Add(1)
	select {
	case q.jobs <- asyncJob{topic: topic, run: run}:
		return true
	default:
		q.pending.Done()
		return false
	}
}

// Wait blocks until every accepted job has finished.
func (q *AsyncQueue) Wait() {
	q.pending.Wait()
}

// Stop lets queued jobs finish and then stops the workers.
func (q *AsyncQueue) Stop() {
	q.once.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		q.pending.Wait()
		close(q.stopChan)
		q.workers.Wait()
	})
}

func (q *AsyncQueue) worker() {
	defer q.workers.Done()
	for {
		select {
		case <-q.stopChan:
			return
		case job := <-q.jobs:
			q.exec(job)
		}
	}
}

func (q *AsyncQueue) exec(job asyncJob) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil && q.onPanic != nil {
			q.onPanic(job.topic, r)
		}
	}()
	job.run()
}
