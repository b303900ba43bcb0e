package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
)

// SubprocessBackend runs jobs as local child processes, each in its own
// process group so Terminate can reach grandchildren the job itself
// spawned, not just the direct child.
type SubprocessBackend struct {
	mu      sync.Mutex
	procs   map[string]*exec.Cmd
	streams map[string][2]*os.File
}

// NewSubprocessBackend returns a Backend that runs jobs as local
// subprocesses. It is the default backend selected by name "subprocess".
func NewSubprocessBackend() *SubprocessBackend {
	return &SubprocessBackend{procs: map[string]*exec.Cmd{}, streams: map[string][2]*os.File{}}
}

func (b *SubprocessBackend) Name() string { return "subprocess" }

// Start launches spec.Args as a child process with its own process group,
// redirecting stdout/stderr to files under the job's workdir.
func (b *SubprocessBackend) Start(ctx context.Context, job *Job, spec Spec) error {
	logger := ctxlog.FromContext(ctx).With("job", spec.Name, "uuid", job.IDHex()[:8])

	if len(spec.Args) == 0 {
		return fmt.Errorf("subprocess: job %q has no command", spec.Name)
	}
	if err := os.MkdirAll(job.Workdir, 0o755); err != nil {
		return fmt.Errorf("subprocess: create workdir: %w", err)
	}

	stdoutPath := filepath.Join(job.Workdir, fmt.Sprintf("%s.%s.stdout", spec.Name, job.IDHex()))
	stderrPath := filepath.Join(job.Workdir, fmt.Sprintf("%s.%s.stderr", spec.Name, job.IDHex()))
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("subprocess: create stdout: %w", err)
	}
	stderr, err := os.Create(stderrPath)
	if err != nil {
		stdout.Close()
		return fmt.Errorf("subprocess: create stderr: %w", err)
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = job.Workdir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = mergedEnv(spec.Env, spec.OSEnv)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("subprocess: start: %w", err)
	}
	logger.Debug("started process", "pid", cmd.Process.Pid)

	b.mu.Lock()
	b.procs[job.IDHex()] = cmd
	b.streams[job.IDHex()] = [2]*os.File{stdout, stderr}
	b.mu.Unlock()

	return nil
}

func mergedEnv(env map[string]string, osEnv bool) []string {
	base := map[string]string{}
	if osEnv {
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					base[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	for k, v := range env {
		base[k] = v
	}
	if _, ok := base["PATH"]; !ok {
		base["PATH"] = "/usr/local/bin:/usr/local/sbin:/usr/bin:/usr/sbin:/bin:/sbin"
	}
	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}

// Wait blocks until the process started for job exits and returns its
// exit code.
func (b *SubprocessBackend) Wait(ctx context.Context, job *Job) (int, error) {
	cmd := b.lookup(job)
	if cmd == nil {
		return -1, fmt.Errorf("subprocess: no process tracked for job %q", job.Name)
	}
	err := cmd.Wait()
	b.closeStreams(job)
	b.forget(job)
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Terminate sends SIGTERM to the job's entire process group, so orphaned
// grandchildren the job spawned are reached as well as the direct child.
func (b *SubprocessBackend) Terminate(ctx context.Context, job *Job) error {
	logger := ctxlog.FromContext(ctx).With("job", job.Name, "uuid", job.IDHex()[:8])
	cmd := b.lookup(job)
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	logger.Warn("terminating process", "pid", cmd.Process.Pid)
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func (b *SubprocessBackend) lookup(job *Job) *exec.Cmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.procs[job.IDHex()]
}

func (b *SubprocessBackend) forget(job *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.procs, job.IDHex())
}

func (b *SubprocessBackend) closeStreams(job *Job) {
	b.mu.Lock()
	streams, ok := b.streams[job.IDHex()]
	delete(b.streams, job.IDHex())
	b.mu.Unlock()
	if ok {
		streams[0].Close()
		streams[1].Close()
	}
}
