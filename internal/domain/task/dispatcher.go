package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/observability"
)

var (
	ErrQueueFull        = stderrors.New("task queue full")
	ErrDispatcherClosed = stderrors.New("dispatcher closed")
)

// Func is the blocking operation run on a worker.
type Func func(ctx context.Context) (any, error)

// MessageKind tells the owner what a Message carries.
type MessageKind int

const (
	MessageResult MessageKind = iota
	MessageError
	MessageDone
)

func (k MessageKind) String() string {
	switch k {
	case MessageResult:
		return "result"
	case MessageError:
		return "error"
	case MessageDone:
		return "done"
	}
	return "unknown"
}

// Message is delivered to the owner. For every task a MessageResult or
// MessageError arrives before its MessageDone.
type Message struct {
	TaskID uuid.UUID
	Name   string
	Tag    any
	Kind   MessageKind
	Result any
	Err    error
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Task is one dispatched operation.
type Task struct {
	ID        uuid.UUID
	Name      string
	Tag       any
	Status    Status
	CreatedAt time.Time
	fn        Func
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Workers   int
	QueueSize int
}

// Dispatcher runs blocking operations on a fixed pool of workers and reports
// outcomes on a single channel to the goroutine that owns workflow state.
type Dispatcher struct {
	cfg    Config
	jobs   chan *Task
	out    chan Message
	quit   chan struct{}
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher starts cfg.Workers workers.
func NewDispatcher(cfg Config, logger Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		jobs:   make(chan *Task, cfg.QueueSize),
		out:    make(chan Message, cfg.QueueSize*2),
		quit:   make(chan struct{}),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Messages is the outcome stream. It is closed by Close.
func (d *Dispatcher) Messages() <-chan Message {
	return d.out
}

// Dispatch queues fn and returns the task id without blocking.
func (d *Dispatcher) Dispatch(name string, tag any, fn Func) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, fmt.Errorf("dispatch %s: nil func", name)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return uuid.Nil, ErrDispatcherClosed
	}

	t := &Task{
		ID:        uuid.New(),
		Name:      name,
		Tag:       tag,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		fn:        fn,
	}
	select {
	case d.jobs <- t:
		return t.ID, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Stats reports the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:   d.cfg.Workers,
		Queued:    len(d.jobs),
		Running:   d.running.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Close stops accepting work, cancels running tasks and waits for the
// workers. Outcomes not yet consumed when Close runs may be dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.cancel()
	close(d.quit)
	d.wg.Wait()
	close(d.out)
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for t := range d.jobs {
		if d.ctx.Err() != nil {
			// drain without running once closed
			continue
		}
		d.run(id, t)
	}
}

func (d *Dispatcher) run(worker int, t *Task) {
	t.Status = StatusRunning
	d.running.Add(1)
	defer d.running.Add(-1)

	ctx, endSpan := observability.StartSpan(d.ctx, "task", t.Name)
	result, err := d.execute(ctx, t)
	endSpan(err)

	msg := Message{TaskID: t.ID, Name: t.Name, Tag: t.Tag, Result: result, Err: err}
	if err != nil {
		t.Status = StatusFailed
		d.failed.Add(1)
		msg.Kind = MessageError
		if d.logger != nil {
			d.logger.Debug("[任务] worker %d: %s failed: %v", worker, t.Name, err)
		}
	} else {
		t.Status = StatusComplete
		d.completed.Add(1)
		msg.Kind = MessageResult
	}

	// the outcome and its completion notice leave this goroutine in order
	if !d.send(msg) {
		return
	}
	d.send(Message{TaskID: t.ID, Name: t.Name, Tag: t.Tag, Kind: MessageDone})
}

func (d *Dispatcher) execute(ctx context.Context, t *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("[任务] %s panicked: %v", t.Name, r)
			}
			result = nil
			err = errors.New(errors.KindDomain, "task."+t.Name, fmt.Sprintf("task panicked: %v", r))
		}
	}()
	return t.fn(ctx)
}

func (d *Dispatcher) send(msg Message) bool {
	select {
	case d.out <- msg:
		return true
	case <-d.quit:
		return false
	}
}
