package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// ErrRunnerClosed is returned when a job is submitted after Close.
var ErrRunnerClosed = errors.New("cluster runner closed")

// Result is the outcome of one extraction run.
type Result struct {
	Axis     string
	Clusters []models.ClusterInfo
	Err      error
}

// Runner executes extraction jobs on a bounded worker pool so clustering
// never runs inline on a request-serving path. Each run gets one coarse
// timeout: it completes or is abandoned, and a timed-out run simply
// retries on the next schedule.
type Runner struct {
	extractor *Extractor
	timeout   time.Duration
	logger    *zap.Logger

	jobs   chan job
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type job struct {
	axis    string
	results chan<- Result
}

// NewRunner starts workers goroutines servicing extraction jobs.
func NewRunner(extractor *Extractor, workers int, timeout time.Duration, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		extractor: extractor,
		timeout:   timeout,
		logger:    logger,
		jobs:      make(chan job, workers*2),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		clusters, err := r.extractor.Extract(ctx, j.axis)
		cancel()
		if err != nil {
			r.logger.Warn("cluster extraction failed",
				zap.String("axis", j.axis),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		}
		if j.results != nil {
			j.results <- Result{Axis: j.axis, Clusters: clusters, Err: err}
		}
	}
}

// Submit enqueues an extraction run for axis. The result is delivered on
// results when non-nil; results must have capacity for one send.
func (r *Runner) Submit(axis string, results chan<- Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	r.jobs <- job{axis: axis, results: results}
	return nil
}

// Close stops accepting jobs and waits for in-flight runs to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
