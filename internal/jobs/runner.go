package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucasmv/chatvault/internal/bus"
	"github.com/lucasmv/chatvault/internal/importer"
	"go.uber.org/zap"
)

// ErrNotFound covers unknown job ids and jobs owned by a different caller.
var ErrNotFound = errors.New("job not found")

// Pipeline is the work a job executes. Run must advance the job through
// Extracting, Parsing and Importing via the advance callback; the runner
// handles the terminal stages.
type Pipeline interface {
	Run(ctx context.Context, advance func(Stage) error) (*importer.Stats, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, advance func(Stage) error) (*importer.Stats, error)

func (f PipelineFunc) Run(ctx context.Context, advance func(Stage) error) (*importer.Stats, error) {
	return f(ctx, advance)
}

// Job is one tracked import run.
type Job struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	machine *machine

	mu         sync.Mutex
	errMsg     string
	stats      *importer.Stats
	finishedAt time.Time
}

// Status is a point-in-time snapshot of a job. Progress is the stage's
// completion percentage.
type Status struct {
	ID         string
	OwnerID    string
	Stage      Stage
	Progress   int
	Error      string
	Stats      *importer.Stats
	CreatedAt  time.Time
	FinishedAt time.Time
}

func (j *Job) snapshot() *Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	stage := j.machine.Current()
	return &Status{
		ID:         j.ID,
		OwnerID:    j.OwnerID,
		Stage:      stage,
		Progress:   stage.Percent(),
		Error:      j.errMsg,
		Stats:      j.stats,
		CreatedAt:  j.CreatedAt,
		FinishedAt: j.finishedAt,
	}
}

// Runner executes import pipelines in the background and retains finished
// jobs for a while so callers can poll their outcome.
type Runner struct {
	retention     time.Duration
	sweepInterval time.Duration
	bus           *bus.Bus
	logger        *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	cancel context.CancelFunc
	now    func() time.Time // overridable in tests
}

// NewRunner creates a runner that keeps finished jobs around for retention.
func NewRunner(retention, sweepInterval time.Duration, b *bus.Bus, logger *zap.Logger) *Runner {
	return &Runner{
		retention:     retention,
		sweepInterval: sweepInterval,
		bus:           b,
		logger:        logger,
		jobs:          make(map[string]*Job),
		now:           time.Now,
	}
}

// Submit registers a new job and starts its pipeline in the background.
func (r *Runner) Submit(ctx context.Context, ownerID string, p Pipeline) string {
	job := &Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: r.now(),
	}
	job.machine = newMachine(job.ID, r.bus)

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	go r.run(ctx, job, p)
	return job.ID
}

// Status returns a snapshot of a job, scoped to its owner. A foreign job is
// indistinguishable from a missing one.
func (r *Runner) Status(id, ownerID string) (*Status, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok || job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return job.snapshot(), nil
}

func (r *Runner) run(ctx context.Context, job *Job, p Pipeline) {
	stats, err := p.Run(ctx, job.machine.Transition)
	if err != nil {
		r.fail(job, err)
		return
	}

	job.mu.Lock()
	job.stats = stats
	job.finishedAt = r.now()
	job.mu.Unlock()

	// The pipeline must have reached Importing; anything short of that is a
	// pipeline bug and counts as a failure.
	if err := job.machine.Transition(Completed); err != nil {
		r.fail(job, err)
		return
	}
	r.logger.Info("import job completed", zap.String("job", job.ID))
}

func (r *Runner) fail(job *Job, err error) {
	job.mu.Lock()
	job.errMsg = err.Error()
	job.finishedAt = r.now()
	job.mu.Unlock()

	if terr := job.machine.Transition(Failed); terr != nil {
		r.logger.Error("could not mark job failed",
			zap.String("job", job.ID), zap.Error(terr))
	}
	r.logger.Warn("import job failed", zap.String("job", job.ID), zap.Error(err))
}

// Start begins the background sweep that drops old finished jobs.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop stops the sweep loop. Running pipelines are cancelled through the
// context their Submit call received.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep drops every finished job past the retention window. Exposed for
// tests.
func (r *Runner) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, job := range r.jobs {
		if !job.machine.Current().Terminal() {
			continue
		}
		job.mu.Lock()
		old := job.finishedAt.Before(cutoff)
		job.mu.Unlock()
		if old {
			delete(r.jobs, id)
			dropped++
		}
	}
	return dropped
}
