package processes

import (
	"errors"
	"fmt"
	"syscall"
)

// Prober checks whether the OS still knows about a managed process. It is
// used to distinguish "exited and reaped" from "disappeared out from under
// us" when wait fails.
type Prober interface {
	// Probe returns nil if the process exists, an error wrapping
	// ErrProcessLost if the OS reports no such process, and any other
	// error if the check itself failed.
	Probe(proc *ManagedProcess) error
}

// SignalProber implements Prober with the classic kill(pid, 0) liveness
// check.
type SignalProber struct{}

// Probe checks process existence without delivering a signal.
func (SignalProber) Probe(proc *ManagedProcess) error {
	if proc.PID <= 0 {
		return fmt.Errorf("invalid pid %d for process %s: %w", proc.PID, proc.ID, ErrProcessLost)
	}
	err := syscall.Kill(proc.PID, 0)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("pid %d for process %s: %w", proc.PID, proc.ID, ErrProcessLost)
	}
	// EPERM means the process exists but belongs to someone else now.
	if errors.Is(err, syscall.EPERM) {
		return nil
	}
	return fmt.Errorf("probing pid %d for process %s: %w", proc.PID, proc.ID, err)
}
