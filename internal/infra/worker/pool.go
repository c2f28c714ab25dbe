// Package worker bounds how many background deliveries run at once.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/infra/metrics"
)

type Task func(ctx context.Context) error

var (
	ErrNilTask = errors.New("worker: nil task")
	ErrStopped = errors.New("worker: pool stopped")
)

// Pool runs tasks on a fixed set of goroutines fed from a buffered queue.
// Tasks still queued when the pool stops are run with a cancelled context
// so callers waiting on them are released.
type Pool struct {
	size  int
	queue chan Task
	quit  chan struct{}
	stop  sync.Once
	wg    sync.WaitGroup
	log   *zerolog.Logger
}

func NewPool(size int, logger *zerolog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		size:  size,
		queue: make(chan Task, size*4),
		quit:  make(chan struct{}),
		log:   logging.Component(logger, "worker_pool"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.work(ctx, i)
	}
	p.log.Debug().Int("size", p.size).Msg("started")
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.queue:
			p.run(ctx, id, task)
		case <-ctx.Done():
			p.drain()
			return
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	metrics.WorkerTaskStarted()
	defer metrics.WorkerTaskFinished()
	if err := task(ctx); err != nil {
		metrics.IncWorkerTask("error")
		p.log.Warn().Err(err).Int("worker", id).Msg("task failed")
		return
	}
	metrics.IncWorkerTask("ok")
}

func (p *Pool) drain() {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case task := <-p.queue:
			metrics.IncWorkerTask("dropped")
			_ = task(cancelled)
		default:
			return
		}
	}
}

// Stop waits for running tasks and may be called more than once.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// SubmitWait blocks until the task is queued, ctx ends or the pool stops.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case <-p.quit:
		return ErrStopped
	default:
	}
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrStopped
	}
}
