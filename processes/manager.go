package processes

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/winehost/prefix"
)

const (
	defaultGracePeriod       = 10 * time.Second
	defaultLogBufferCapacity = 1000
)

// RunRecord is the journal entry written when a process is launched.
type RunRecord struct {
	ID         string
	PrefixPath string
	Program    string
	PID        int
	State      string
	StartedAt  time.Time
}

// RunStore persists the launch/exit journal. The Manager treats journal
// failures as non-fatal: they are logged and the process keeps running.
type RunStore interface {
	RecordLaunch(ctx context.Context, rec RunRecord) error
	RecordExit(ctx context.Context, id string, state string, exitCode int, endedAt time.Time) error
}

// LaunchRequest describes one invocation against a prefix.
type LaunchRequest struct {
	// Program is the Windows executable to run, as a host path or a path
	// inside the prefix's virtual drive.
	Program string
	// Args are passed to the program.
	Args []string
	// Env overrides are layered on top of the host environment and the
	// prefix's own variables.
	Env map[string]string
	// Dir is the working directory; defaults to the prefix path.
	Dir string
	// Debug selects WINEDEBUG channels for this invocation.
	Debug *prefix.DebugRules
	// UseStartExe launches via `wine start`, letting Wine's shell resolve
	// file associations and detach GUI programs.
	UseStartExe bool
}

// Manager spawns and tracks external Wine processes. Multiple processes
// against the same or different prefixes may run concurrently; every
// exported method is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	procs map[string]*ManagedProcess // keyed by run ID

	dist        *prefix.Distribution
	logger      *slog.Logger
	prober      Prober
	store       RunStore
	logCapacity int
	gracePeriod time.Duration

	wg sync.WaitGroup // tracks watcher and output scanner goroutines
}

// Config holds configuration options for the Manager.
type Config struct {
	Distribution *prefix.Distribution
	Logger       *slog.Logger  // Optional, defaults to slog.Default()
	Prober       Prober        // Optional, defaults to SignalProber
	Store        RunStore      // Optional journal; nil disables persistence
	LogCapacity  int           // Optional, defaults to 1000 entries per process
	GracePeriod  time.Duration // Optional default for Terminate, defaults to 10s
}

// NewManager creates a new Manager instance.
func NewManager(config Config) (*Manager, error) {
	if config.Distribution == nil {
		return nil, fmt.Errorf("Distribution is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prober := config.Prober
	if prober == nil {
		prober = SignalProber{}
	}
	logCapacity := config.LogCapacity
	if logCapacity == 0 {
		logCapacity = defaultLogBufferCapacity
	}
	gracePeriod := config.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = defaultGracePeriod
	}

	return &Manager{
		procs:       make(map[string]*ManagedProcess),
		dist:        config.Distribution,
		logger:      logger.With("component", "ProcessManager"),
		prober:      prober,
		store:       config.Store,
		logCapacity: logCapacity,
		gracePeriod: gracePeriod,
	}, nil
}

// buildArgs constructs the argument vector passed to the wine binary for a
// request.
func buildArgs(req LaunchRequest) []string {
	args := make([]string, 0, len(req.Args)+2)
	if req.UseStartExe {
		args = append(args, "start")
	}
	args = append(args, req.Program)
	args = append(args, req.Args...)
	return args
}

// Launch spawns req.Program inside pfx and begins tracking it. The prefix
// must be Ready; otherwise Launch fails with ErrPrefixNotReady before
// anything is spawned. Spawn failures surface as ErrSpawn and are never
// retried by the manager.
func (m *Manager) Launch(ctx context.Context, pfx *prefix.Prefix, req LaunchRequest) (*ManagedProcess, error) {
	if status := pfx.Status(); status != prefix.StatusReady {
		return nil, &LaunchError{
			Program: req.Program,
			Kind:    ErrPrefixNotReady,
			Err:     fmt.Errorf("prefix %s is %s", pfx.Path(), status),
		}
	}

	cmd := exec.Command(m.dist.Wine, buildArgs(req)...)
	cmd.Dir = req.Dir
	if cmd.Dir == "" {
		cmd.Dir = pfx.Path()
	}
	cmd.Env = prefix.MergeEnv(append(os.Environ(), pfx.Environ(req.Debug)...), req.Env)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Program: req.Program, Kind: ErrSpawn, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		return nil, &LaunchError{Program: req.Program, Kind: ErrSpawn, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: req.Program, Kind: ErrSpawn, Err: err}
	}

	mp := &ManagedProcess{
		ID:        uuid.New().String(),
		Prefix:    pfx,
		Program:   req.Program,
		PID:       cmd.Process.Pid,
		Logs:      NewLogBuffer(m.logCapacity),
		cmd:       cmd,
		state:     StateStarting,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.procs[mp.ID] = mp
	m.mu.Unlock()

	m.logger.Info("Process started", "id", mp.ID, "prefix", pfx.Path(), "program", req.Program, "pid", mp.PID)

	if m.store != nil {
		rec := RunRecord{
			ID:         mp.ID,
			PrefixPath: pfx.Path(),
			Program:    req.Program,
			PID:        mp.PID,
			State:      mp.State().String(),
			StartedAt:  mp.StartTime(),
		}
		if err := m.store.RecordLaunch(ctx, rec); err != nil {
			m.logger.Error("Failed to journal process launch", "id", mp.ID, "error", err)
		}
	}

	// cmd.Wait closes the pipes as soon as the child exits, so the watcher
	// must not reap until both scanners have drained them.
	var ioWg sync.WaitGroup

	// Capture stdout
	m.wg.Add(1)
	ioWg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ioWg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			mp.Logs.Add("stdout", scanner.Text(), mp.PID)
			m.logger.Debug("Process stdout", "id", mp.ID, "pid", mp.PID, "output", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			m.logger.Error("Error reading stdout from process", "id", mp.ID, "pid", mp.PID, "error", err)
		}
	}()

	// Capture stderr
	m.wg.Add(1)
	ioWg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			mp.Logs.Add("stderr", scanner.Text(), mp.PID)
			m.logger.Debug("Process stderr", "id", mp.ID, "pid", mp.PID, "output", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			m.logger.Error("Error reading stderr from process", "id", mp.ID, "pid", mp.PID, "error", err)
		}
	}()

	mp.markRunning()

	// Watcher goroutine: reaps the process and records the one and only
	// terminal state transition. Output is fully drained first, so by the
	// time Done is closed the LogBuffer holds everything the process wrote.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ioWg.Wait()
		waitErr := cmd.Wait()
		m.handleProcessExit(mp, waitErr)
	}()

	return mp, nil
}

// handleProcessExit classifies the result of cmd.Wait and records the
// terminal state.
func (m *Manager) handleProcessExit(mp *ManagedProcess, waitErr error) {
	var state ProcessState
	var exit ExitStatus
	var failure error

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		state = StateExited
		exit = ExitStatus{Code: 0}
	case errors.As(waitErr, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			state = StateKilled
			exit = ExitStatus{Code: -1, Signal: ws.Signal().String()}
		} else {
			state = StateExited
			exit = ExitStatus{Code: exitErr.ExitCode()}
		}
	default:
		// Wait itself failed. Distinguish a vanished process from a
		// transient wait error so disappearance is reported, not ignored.
		state = StateFailed
		exit = ExitStatus{Code: -1}
		if probeErr := m.prober.Probe(mp); probeErr != nil && errors.Is(probeErr, ErrProcessLost) {
			failure = probeErr
		} else {
			failure = fmt.Errorf("waiting on process %s (pid %d): %w", mp.ID, mp.PID, waitErr)
		}
	}

	if !mp.markTerminal(state, exit, failure) {
		return
	}
	m.logger.Info("Process exited", "id", mp.ID, "pid", mp.PID, "state", state.String(), "exitCode", exit.Code, "signal", exit.Signal)

	if m.store != nil {
		if err := m.store.RecordExit(context.Background(), mp.ID, state.String(), exit.Code, time.Now()); err != nil {
			m.logger.Error("Failed to journal process exit", "id", mp.ID, "error", err)
		}
	}
}

// Wait blocks until the process reaches a terminal state and returns how it
// ended. Only the calling goroutine is suspended; other processes are
// unaffected. Once the termination has been reported, the process is
// removed from the manager's tracking table.
//
// Wait returns an error wrapping ErrProcessLost if the OS reported no such
// process while we still believed it to be running.
func (m *Manager) Wait(ctx context.Context, mp *ManagedProcess) (ExitStatus, error) {
	select {
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	case <-mp.Done():
	}

	state, exit, failure := mp.terminal()

	m.mu.Lock()
	delete(m.procs, mp.ID)
	m.mu.Unlock()

	if state == StateFailed {
		return exit, failure
	}
	return exit, nil
}

// Terminate requests graceful shutdown of the process, escalating to
// SIGKILL after the grace period elapses. A non-positive grace period uses
// the manager default. Terminate is idempotent: called on a process that
// already reached a terminal state it is a no-op, and concurrent calls with
// Wait observe the same single terminal transition.
func (m *Manager) Terminate(ctx context.Context, mp *ManagedProcess, grace time.Duration) error {
	if mp.State().Terminal() {
		return nil
	}
	if grace <= 0 {
		grace = m.gracePeriod
	}

	cmd := mp.command()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	m.logger.Info("Terminating process", "id", mp.ID, "pid", mp.PID, "grace", grace)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// The watcher will still reap and classify the exit; just note it.
		m.logger.Warn("Failed to send SIGTERM to process", "id", mp.ID, "pid", mp.PID, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-mp.Done():
		return nil
	case <-ctx.Done():
		cmd.Process.Kill()
		return ctx.Err()
	case <-timer.C:
	}

	m.logger.Warn("Process did not exit within grace period, sending SIGKILL", "id", mp.ID, "pid", mp.PID)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %s (pid %d): %w", mp.ID, mp.PID, err)
	}

	select {
	case <-mp.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the tracked process with the given run ID, if any.
func (m *Manager) Get(id string) (*ManagedProcess, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.procs[id]
	return mp, ok
}

// List returns the currently tracked processes, oldest first.
func (m *Manager) List() []*ManagedProcess {
	m.mu.RLock()
	procs := make([]*ManagedProcess, 0, len(m.procs))
	for _, mp := range m.procs {
		procs = append(procs, mp)
	}
	m.mu.RUnlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].StartTime().Before(procs[j].StartTime())
	})
	return procs
}

// Shutdown terminates every tracked process concurrently and waits for all
// watcher and output goroutines to drain.
func (m *Manager) Shutdown(ctx context.Context) {
	m.logger.Info("Shutting down all managed processes...")
	procs := m.List()

	var shutdownWg sync.WaitGroup
	for _, mp := range procs {
		if mp.State().Terminal() {
			continue
		}
		shutdownWg.Add(1)
		go func(proc *ManagedProcess) {
			defer shutdownWg.Done()
			if err := m.Terminate(ctx, proc, 0); err != nil {
				m.logger.Error("Error terminating process during shutdown", "id", proc.ID, "error", err)
			}
		}(mp)
	}
	shutdownWg.Wait()
	m.wg.Wait()
	m.logger.Info("All managed processes have stopped.")
}
