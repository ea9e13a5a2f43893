package processes

// Package processes manages the lifecycle of external Wine processes
// launched against a prefix: spawning, output capture, waiting for exit,
// and graceful-then-forceful termination. Each launched process is tracked
// as a ManagedProcess with a small state machine; terminal states are final
// and every process reaches exactly one of them, no matter how many callers
// race Wait and Terminate.
//
// The manager performs no internal scheduling of its own. One watcher
// goroutine per process reaps the OS process and records the terminal
// state; everything else blocks on that result.
