// Package process implements job/process spawning and the job table backing
// the environment's synthetic "pipe" path: synchronous runs that block the
// VM until the child exits, and background jobs that do not.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/value"
)

// TermController is implemented by internal/term.Controller: it restores
// cooked terminal mode around a synchronous child and reinstalls raw mode
// after the child exits, per spec.md §5.
type TermController interface {
	Suspend() error
	Restore() error
}

// Result describes a finished child process, matching what
// describe_process_output formats for the user.
type Result struct {
	Success bool
	Code    int
	Stdout  string
	Stderr  string
	Err     error
}

// Job is one tracked child process, synchronous or background.
type Job struct {
	ID       int
	Piped    bool
	Done     chan struct{}
	result   Result
	fdHandle string
}

// Result returns the job's outcome; only meaningful once Done is closed.
func (j *Job) Result() Result { return j.result }

// Table is the environment's job table: it tracks running/finished jobs and
// open input/output file handles, and implements env.PipeSource so that
// `$pipe:<jobid>` resolves to a job's captured-stdout handle.
type Table struct {
	mu         sync.Mutex
	jobs       map[int]*Job
	handles    map[string]*os.File
	nextJob    int
	nextHandle int
	group      errgroup.Group
	term       TermController
}

// NewTable returns an empty job table. term may be nil (no terminal mode
// management, e.g. under test or when stdin is not a TTY).
func NewTable(term TermController) *Table {
	return &Table{
		jobs:    map[int]*Job{},
		handles: map[string]*os.File{},
		term:    term,
	}
}

func cmdFor(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("run: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return cmd, nil
}

// Run spawns argv synchronously: it suspends raw terminal mode (if a
// TermController is wired), waits for the child, then restores it.
func (t *Table) Run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) (Result, error) {
	cmd, err := cmdFor(ctx, argv)
	if err != nil {
		return Result{}, err
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if t.term != nil {
		if err := t.term.Suspend(); err != nil {
			return Result{}, fmt.Errorf("run: suspend terminal: %w", err)
		}
		defer func() { _ = t.term.Restore() }()
	}

	runErr := cmd.Run()
	res := Result{Success: runErr == nil}
	if cmd.ProcessState != nil {
		res.Code = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			res.Err = runErr
		}
	}
	return res, nil
}

// Spawn starts argv as a background job and returns its job id immediately.
// If piped, stdout is captured and later exposed via the "pipe" path;
// otherwise the child inherits the shell's stdio.
func (t *Table) Spawn(ctx context.Context, argv []string, piped bool) (int, error) {
	cmd, err := cmdFor(ctx, argv)
	if err != nil {
		return 0, err
	}

	var outBuf *bytes.Buffer
	if piped {
		outBuf = &bytes.Buffer{}
		cmd.Stdout = outBuf
	} else {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	t.mu.Lock()
	t.nextJob++
	id := t.nextJob
	job := &Job{ID: id, Piped: piped, Done: make(chan struct{})}
	if piped {
		t.nextHandle++
		job.fdHandle = fmt.Sprintf("@%d", t.nextHandle)
	}
	t.jobs[id] = job
	t.mu.Unlock()

	if err := cmd.Start(); err != nil {
		job.result = Result{Success: false, Err: err}
		close(job.Done)
		return 0, err
	}

	t.group.Go(func() error {
		waitErr := cmd.Wait()
		res := Result{Success: waitErr == nil}
		if cmd.ProcessState != nil {
			res.Code = cmd.ProcessState.ExitCode()
		}
		if outBuf != nil {
			res.Stdout = outBuf.String()
		}
		if waitErr != nil {
			if _, ok := waitErr.(*exec.ExitError); !ok {
				res.Err = waitErr
			}
		}
		t.mu.Lock()
		job.result = res
		t.mu.Unlock()
		close(job.Done)
		return nil
	})

	return id, nil
}

// Wait blocks until job id finishes and returns its result.
func (t *Table) Wait(id int) (Result, error) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("no such job: %d", id)
	}
	<-job.Done
	return job.Result(), nil
}

// CleanJobs sweeps every finished job, piped or not, out of the table;
// running jobs are kept.
func (t *Table) CleanJobs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, job := range t.jobs {
		select {
		case <-job.Done:
			delete(t.jobs, id)
		default:
		}
	}
}

// JobInfo is a snapshot of one tracked job, for the `jobs` builtin.
type JobInfo struct {
	ID      int
	Piped   bool
	Running bool
}

// GetJobs returns a snapshot of all tracked jobs, ordered by id.
func (t *Table) GetJobs() []JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	infos := make([]JobInfo, 0, len(t.jobs))
	for _, job := range t.jobs {
		running := true
		select {
		case <-job.Done:
			running = false
		default:
		}
		infos = append(infos, JobInfo{ID: job.ID, Piped: job.Piped, Running: running})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// PipeVar implements env.PipeSource: it returns the captured-stdout handle
// of a still-tracked piped job. The handle is assigned at spawn time, so this
// does not block.
func (t *Table) PipeVar(id string) (value.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, job := range t.jobs {
		if fmt.Sprint(job.ID) == id && job.Piped {
			return value.NewFlat(job.fdHandle), true
		}
	}
	return value.NewEmpty(), false
}

// PipeAll implements env.PipeSource.
func (t *Table) PipeAll() []env.PipeEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]env.PipeEntry, 0, len(t.jobs))
	for _, job := range t.jobs {
		if job.Piped {
			entries = append(entries, env.PipeEntry{ID: fmt.Sprint(job.ID), Val: value.NewFlat(job.fdHandle)})
		}
	}
	return entries
}

// PipeOutput returns the captured stdout bytes for a finished piped job
// named by its "@<n>" handle, so that `|` can feed them as the next
// command's stdin.
func (t *Table) PipeOutput(handle string) (io.Reader, bool) {
	t.mu.Lock()
	var found *Job
	for _, job := range t.jobs {
		if job.fdHandle == handle {
			found = job
			break
		}
	}
	t.mu.Unlock()
	if found == nil {
		return nil, false
	}
	// Wait without holding t.mu: the job's wait goroutine takes it to record
	// the result before closing Done.
	<-found.Done
	return bytesReader(found.Result().Stdout), true
}

func bytesReader(s string) io.Reader { return bytes.NewReader([]byte(s)) }

// OpenInput opens path for reading and returns an "@<n>" handle.
func (t *Table) OpenInput(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	return t.registerHandle(f), nil
}

// OpenOutput opens (creating/truncating) path for writing and returns an
// "@<n>" handle.
func (t *Table) OpenOutput(path string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	return t.registerHandle(f), nil
}

func (t *Table) registerHandle(f *os.File) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHandle++
	h := fmt.Sprintf("@%d", t.nextHandle)
	t.handles[h] = f
	return h
}

// Handle resolves a previously opened "@<n>" handle back to its *os.File.
func (t *Table) Handle(h string) (*os.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.handles[h]
	return f, ok
}

// CloseHandle closes and forgets a handle.
func (t *Table) CloseHandle(h string) error {
	t.mu.Lock()
	f, ok := t.handles[h]
	delete(t.handles, h)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Close()
}

// Shutdown waits for all background job goroutines to finish bookkeeping.
// Running children are not killed; this only waits for already-started
// wait/capture goroutines to return.
func (t *Table) Shutdown() error {
	return t.group.Wait()
}
