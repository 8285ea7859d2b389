// Package tasks runs background computation jobs, such as precomputing
// per-track visualizations, without blocking the sequencing engine.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// PlaybackGate reports whether a track is actively playing. Jobs that are
// not allowed during playback are held back while it returns true.
type PlaybackGate interface {
	Playing() bool
}

// Job is a unit of background work keyed by track identity.
type Job struct {
	ID                  string // Assigned on submit
	TrackID             string
	Description         string
	AllowDuringPlayback bool
	Run                 func(ctx context.Context) error
}

// Runner executes jobs one at a time on a single background goroutine.
// Only one runner instance is expected per process. Job completion is
// never waited on by the sequencing engine; callers read finished results
// through their own storage.
type Runner struct {
	mu sync.Mutex

	gate    PlaybackGate
	jobs    chan Job
	done    int // Jobs completed since the queue was last empty
	pending int
	current string // Description of the running job, empty when idle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a job runner. gate may be nil when no playback
// suspension is needed, e.g. in tests.
func NewRunner(gate PlaybackGate, queueSize int) *Runner {
	if queueSize < 1 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		gate:   gate,
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutine.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop cancels the running job and waits for the worker to exit.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Submit queues a job and returns its assigned ID. Submission never
// blocks; when the queue is full the job is dropped with a warning.
func (r *Runner) Submit(job Job) string {
	job.ID = uuid.New().String()

	r.mu.Lock()
	r.pending++
	r.mu.Unlock()

	select {
	case r.jobs <- job:
		return job.ID
	default:
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		zlog.Warn().Msgf("tasks: queue full, dropping job for %s", job.TrackID)
		return ""
	}
}

// Progress returns the fraction of queued work completed since the queue
// was last empty. An idle runner reports 1.
func (r *Runner) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == 0 {
		return 1
	}
	return float64(r.done) / float64(r.done+r.pending)
}

// CurrentDescription returns a description of the running job, or the
// empty string when idle.
func (r *Runner) CurrentDescription() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// worker drains the job queue. Jobs not allowed during playback are put
// back at the end of the queue while the gate is closed.
func (r *Runner) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case job := <-r.jobs:
			if !job.AllowDuringPlayback && r.gate != nil && r.gate.Playing() {
				// Requeue; try again once playback has stopped.
				select {
				case r.jobs <- job:
				default:
					r.dropJob()
					zlog.Warn().Msgf("tasks: queue full, dropping deferred job for %s", job.TrackID)
				}
				continue
			}
			r.runJob(job)
		default:
		}
	}
}

func (r *Runner) runJob(job Job) {
	r.mu.Lock()
	r.current = job.Description
	r.mu.Unlock()

	if err := job.Run(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Warn().Msgf("tasks: job %q for %s failed: %v", job.Description, job.TrackID, err)
	}
	r.finishJob()
}

func (r *Runner) finishJob() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	r.pending--
	if r.pending == 0 {
		r.done = 0
		r.current = ""
	}
}

// dropJob takes a job out of the pending count without crediting it as
// completed work.
func (r *Runner) dropJob() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending--
	if r.pending == 0 {
		r.done = 0
		r.current = ""
	}
}
