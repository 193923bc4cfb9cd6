package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidcompose/config"
)

// Composer turns one job into one output file. Implemented by ffmpeg.Runner;
// injected as an interface so the manager is testable without a binary.
type Composer interface {
	Compose(ctx context.Context, job *Job) (outputPath string, err error)
}

var (
	// ErrQueueFull is returned by Submit when the job queue is at capacity.
	// Submissions are rejected rather than blocking the caller.
	ErrQueueFull = errors.New("job queue is full")

	// ErrValidation wraps all submission-time input errors. No task record
	// exists for a submission that failed validation.
	ErrValidation = errors.New("invalid submission")
)

// Failure messages are capped so a polled error never carries an entire
// ffmpeg transcript.
const maxErrorLen = 2000

// expected input counts per mode
var modeInputs = map[Mode]int{
	ModeConcat:   2,
	ModePiP:      2,
	ModePiPScore: 2,
	ModeSingle:   1,
	ModeImage:    1,
}

// Manager owns the job queue and the fixed worker pool that drains it.
// Task records themselves live in the Store.
type Manager struct {
	cfg      *config.Config
	store    *Store
	queue    chan *Job
	composer Composer
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, store *Store, composer Composer) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		queue:    make(chan *Job, cfg.QueueSize),
		composer: composer,
	}
}

// Start launches the worker pool and the output reaper. Workers stop when
// ctx is canceled; in-flight jobs run to a terminal state first (see Wait).
func (m *Manager) Start(ctx context.Context) {
	log.Printf("task manager started, %d workers, queue size %d", m.cfg.WorkerCount, m.cfg.QueueSize)
	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	go m.reapLoop(ctx)
}

// Wait blocks until all workers have drained their current jobs.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit validates the submission, creates a pending record and enqueues the
// job. Validation failures surface synchronously wrapped in ErrValidation and
// leave no record behind; a full queue returns ErrQueueFull.
func (m *Manager) Submit(mode Mode, inputs []string, opts Options) (*Task, error) {
	if err := m.validate(mode, inputs, opts); err != nil {
		return nil, err
	}

	t := m.store.Create(mode, inputs)
	job := &Job{TaskID: t.ID, Mode: mode, Inputs: inputs, Options: opts}

	select {
	case m.queue <- job:
	default:
		// Roll back the record so a rejected submission is never observable.
		m.store.Delete(t.ID)
		return nil, ErrQueueFull
	}

	log.Printf("task %s submitted (mode=%s)", t.ID, mode)
	return t, nil
}

func (m *Manager) validate(mode Mode, inputs []string, opts Options) error {
	want, ok := modeInputs[mode]
	if !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, mode)
	}
	if len(inputs) != want {
		return fmt.Errorf("%w: mode %s needs %d input(s), got %d", ErrValidation, mode, want, len(inputs))
	}
	for _, p := range inputs {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("%w: input %s is not readable: %v", ErrValidation, filepath.Base(p), err)
		}
		f.Close()
	}
	if mode == ModePiPScore && opts.Score == "" {
		return fmt.Errorf("%w: mode %s requires a score", ErrValidation, mode)
	}
	return nil
}

// Get returns the current record snapshot for a task id.
func (m *Manager) Get(id string) (*Task, error) {
	return m.store.Get(id)
}

// List returns snapshots of all known tasks.
func (m *Manager) List() []*Task {
	return m.store.List()
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %d shutting down", n)
			return
		case job := <-m.queue:
			m.runJob(ctx, job)
		}
	}
}

// runJob drives one task through processing to a terminal state. Transition
// failures here mean a lifecycle bug; they are logged loudly and the record
// is forced to failed rather than left inconsistent.
func (m *Manager) runJob(ctx context.Context, job *Job) {
	if err := m.store.Transition(job.TaskID, StateProcessing, Result{}); err != nil {
		log.Printf("FATAL invariant: task %s could not enter processing: %v", job.TaskID, err)
		m.store.ForceFail(job.TaskID, "internal scheduling error")
		return
	}
	log.Printf("task %s processing", job.TaskID)

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.FFTimeout)
	outputPath, err := m.composer.Compose(jobCtx, job)
	cancel()

	var terr error
	if err != nil {
		log.Printf("task %s failed: %v", job.TaskID, err)
		terr = m.store.Transition(job.TaskID, StateFailed, Result{Error: truncate(err.Error(), maxErrorLen)})
	} else {
		log.Printf("task %s completed: %s", job.TaskID, outputPath)
		terr = m.store.Transition(job.TaskID, StateCompleted, Result{OutputPath: outputPath})
	}
	if terr != nil {
		log.Printf("FATAL invariant: task %s could not reach terminal state: %v", job.TaskID, terr)
		m.store.ForceFail(job.TaskID, "internal scheduling error")
	}

	// Staged inputs are exclusively owned by this task and are done with.
	for _, p := range job.Inputs {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("could not remove staged input %s: %v", p, rmErr)
		}
	}
}

// reapLoop periodically removes output files (and their records) that have
// outlived OUTPUT_LOCAL_LIFETIME.
func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reaper shutting down")
			return
		case <-ticker.C:
			for _, t := range m.store.List() {
				if !t.State.Terminal() || time.Since(t.FinishedAt) < m.cfg.OutputLocalLifetime {
					continue
				}
				if t.OutputPath != "" {
					log.Printf("reaping old output %s", t.OutputPath)
					if err := os.Remove(t.OutputPath); err != nil && !os.IsNotExist(err) {
						log.Printf("reap %s: %v", t.OutputPath, err)
						continue
					}
				}
				m.store.Delete(t.ID)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
