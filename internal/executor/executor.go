package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/google/uuid"
)

// Status is a job's terminal or in-flight state.
type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	Terminated
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "pending"
	}
}

// Spec describes a job to submit: a command line plus the environment and
// resource hints a backend may honor.
type Spec struct {
	Name    string
	Args    []string
	Env     map[string]string
	OSEnv   bool
	Workdir string
	CPUs    int
	Memory  int
	EnvSpec map[string]any
}

// Job is a single submitted unit of work, tracked for the lifetime of one
// submit/wait cycle.
type Job struct {
	ID      uuid.UUID
	Name    string
	Workdir string

	mu     sync.Mutex
	status Status
	code   int
	err    error

	cancel func()
}

// IDHex returns the job's correlation id as a bare hex string, matching
// the <executor-root>/<id-hex> workdir convention.
func (j *Job) IDHex() string {
	return hex.EncodeToString(j.ID[:])
}

// Status reports the job's current status and, if terminal, its exit code.
func (j *Job) Status() (Status, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.code
}

func (j *Job) setTerminal(status Status, code int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.code = code
	j.err = err
}

// Backend runs one job to completion and can be asked to terminate it
// early. Start must not block past launching the job; Wait blocks until
// the job reaches a terminal state.
type Backend interface {
	Name() string
	Start(ctx context.Context, job *Job, spec Spec) error
	Wait(ctx context.Context, job *Job) (int, error)
	Terminate(ctx context.Context, job *Job) error
}

// Executor tracks every job submitted against a single Backend, placing
// each job's workdir at root/<id-hex> unless its Spec names a workdir.
type Executor struct {
	backend Backend
	root    string

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// New returns an Executor that dispatches to backend, rooting job workdirs
// under root.
func New(backend Backend, root string) *Executor {
	return &Executor{backend: backend, root: root, jobs: map[uuid.UUID]*Job{}}
}

// Submit starts spec as a new job. If wait is true, Submit blocks until
// the job reaches a terminal state before returning; otherwise it returns
// as soon as the backend has launched the job.
func (e *Executor) Submit(ctx context.Context, spec Spec, wait bool) (*Job, error) {
	logger := ctxlog.FromContext(ctx).With("executor", e.backend.Name())

	id := uuid.New()
	workdir := spec.Workdir
	if workdir == "" {
		workdir = filepath.Join(e.root, hex.EncodeToString(id[:]))
	}

	job := &Job{ID: id, Name: spec.Name, Workdir: workdir, status: Pending}
	spec.Workdir = workdir

	e.mu.Lock()
	e.jobs[id] = job
	e.mu.Unlock()

	logger.Debug("submitting job", "name", spec.Name, "uuid", job.IDHex()[:8])
	if err := e.backend.Start(ctx, job, spec); err != nil {
		job.setTerminal(Failed, -1, err)
		return job, fmt.Errorf("executor: start %q: %w", spec.Name, err)
	}
	job.mu.Lock()
	job.status = Running
	job.mu.Unlock()

	if wait {
		if _, err := e.Wait(ctx, job); err != nil {
			return job, err
		}
	}
	return job, nil
}

// Wait blocks until job reaches a terminal state and returns its exit code.
func (e *Executor) Wait(ctx context.Context, job *Job) (int, error) {
	code, err := e.backend.Wait(ctx, job)
	if err != nil {
		job.setTerminal(Failed, code, err)
		return code, err
	}
	if code == 0 {
		job.setTerminal(Succeeded, code, nil)
	} else {
		job.setTerminal(Failed, code, fmt.Errorf("executor: job %q exited with code %d", job.Name, code))
	}
	return code, job.err
}

// WaitAll blocks until every outstanding job submitted by this executor
// reaches a terminal state.
func (e *Executor) WaitAll(ctx context.Context) {
	for _, job := range e.snapshot() {
		if st, _ := job.Status(); st == Pending || st == Running {
			_, _ = e.Wait(ctx, job)
		}
	}
}

// Terminate requests termination of a specific job, or of every
// outstanding job if job is nil.
func (e *Executor) Terminate(ctx context.Context, job *Job) error {
	if job == nil {
		var firstErr error
		for _, j := range e.snapshot() {
			if err := e.Terminate(ctx, j); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	if st, _ := job.Status(); st != Pending && st != Running {
		return nil
	}
	if err := e.backend.Terminate(ctx, job); err != nil {
		return err
	}
	job.setTerminal(Terminated, 143, nil)
	return nil
}

func (e *Executor) snapshot() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	return out
}
