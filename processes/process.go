package processes

import (
	"os/exec"
	"sync"
	"time"

	"github.com/tomyedwab/winehost/prefix"
)

// LogEntry represents a single captured output line from a managed process.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
	Message   string    `json:"message"`
	PID       int       `json:"pid"`
}

// LogBuffer maintains a bounded ring of recent output lines. Wine is very
// chatty on stderr, so the buffer keeps only the newest entries.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	nextID   int64
}

// NewLogBuffer creates a new log buffer with the specified capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Add appends a captured line, evicting the oldest entry once the buffer
// is full.
func (lb *LogBuffer) Add(source, message string, pid int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.entries) >= lb.capacity {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, LogEntry{
		ID:        lb.nextID,
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
		PID:       pid,
	})
	lb.nextID++
}

// EntriesFromID returns all entries with an ID greater than fromID, oldest
// first. Callers poll with the last ID they saw to stream incrementally.
func (lb *LogBuffer) EntriesFromID(fromID int64) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, 0)
	for _, entry := range lb.entries {
		if entry.ID > fromID {
			result = append(result, entry)
		}
	}
	return result
}

// Latest returns the most recent count entries, oldest first.
func (lb *LogBuffer) Latest(count int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if count <= 0 || len(lb.entries) == 0 {
		return []LogEntry{}
	}
	start := len(lb.entries) - count
	if start < 0 {
		start = 0
	}
	result := make([]LogEntry, len(lb.entries)-start)
	copy(result, lb.entries[start:])
	return result
}

// ProcessState represents the lifecycle state of a managed process.
type ProcessState int

const (
	// StateStarting means the process has been spawned but not yet
	// observed running.
	StateStarting ProcessState = iota
	// StateRunning means the process is alive.
	StateRunning
	// StateExited means the process terminated on its own with an exit
	// code.
	StateExited
	// StateKilled means the process was terminated by a signal.
	StateKilled
	// StateFailed means the process was lost or could not be reaped.
	StateFailed
)

// String returns a string representation of the ProcessState.
func (ps ProcessState) String() string {
	switch ps {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateExited:
		return "Exited"
	case StateKilled:
		return "Killed"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// Terminal reports whether the state is final. There are no transitions
// out of a terminal state.
func (ps ProcessState) Terminal() bool {
	switch ps {
	case StateExited, StateKilled, StateFailed:
		return true
	default:
		return false
	}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	// Code is the exit code for a normal exit, -1 otherwise.
	Code int
	// Signal is the name of the terminating signal, empty on normal exit.
	Signal string
}

// ManagedProcess is a host-tracked handle to one live external process
// bound to a prefix. It is owned by the Manager until its termination has
// been observed and reported to a caller.
type ManagedProcess struct {
	ID      string // unique run identifier
	Prefix  *prefix.Prefix
	Program string
	PID     int
	Logs    *LogBuffer

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     ProcessState
	startTime time.Time
	exit      ExitStatus
	failure   error // reason when state == StateFailed

	// done is closed exactly once, when the terminal state is recorded.
	done chan struct{}
}

// State returns the current process state.
func (mp *ManagedProcess) State() ProcessState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// StartTime returns when the process was spawned.
func (mp *ManagedProcess) StartTime() time.Time {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.startTime
}

// Done returns a channel closed when the process reaches a terminal state.
func (mp *ManagedProcess) Done() <-chan struct{} {
	return mp.done
}

// markRunning transitions Starting -> Running. It is a no-op once the
// process has a terminal state.
func (mp *ManagedProcess) markRunning() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state == StateStarting {
		mp.state = StateRunning
	}
}

// markTerminal records the terminal state. Only the watcher goroutine
// calls this, and the terminal check makes a second call impossible to
// observe: the first transition wins and done is closed once.
func (mp *ManagedProcess) markTerminal(state ProcessState, exit ExitStatus, failure error) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state.Terminal() {
		return false
	}
	mp.state = state
	mp.exit = exit
	mp.failure = failure
	close(mp.done)
	return true
}

// terminal returns the recorded terminal state. Valid only after Done()
// is closed.
func (mp *ManagedProcess) terminal() (ProcessState, ExitStatus, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state, mp.exit, mp.failure
}

func (mp *ManagedProcess) command() *exec.Cmd {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.cmd
}
