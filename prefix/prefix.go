package prefix

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

// Arch is the Windows architecture a prefix was initialized for.
type Arch string

const (
	Win32 Arch = "win32"
	Win64 Arch = "win64"
)

// Valid reports whether the architecture is one Wine understands.
func (a Arch) Valid() bool {
	return a == Win32 || a == Win64
}

// Status represents the initialization state of a prefix.
type Status int

const (
	// StatusUninitialized means the prefix directory does not yet contain a
	// virtual Windows environment.
	StatusUninitialized Status = iota
	// StatusInitializing means first-time setup is in progress.
	StatusInitializing
	// StatusReady means the prefix is initialized and processes may be
	// launched against it.
	StatusReady
	// StatusFailed means initialization was attempted and did not complete.
	StatusFailed
)

// String returns a string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "Uninitialized"
	case StatusInitializing:
		return "Initializing"
	case StatusReady:
		return "Ready"
	case StatusFailed:
		return "Failed"
	default:
		return "InvalidStatus"
	}
}

// Config holds per-prefix launch configuration.
type Config struct {
	// Esync enables eventfd-based synchronization in Wine builds that
	// support it.
	Esync bool
	// Msync enables mach semaphore-based synchronization, the macOS
	// counterpart to esync.
	Msync bool
	// DynamicLibraryPaths is joined into DYLD_FALLBACK_LIBRARY_PATH so the
	// loader can find graphics translation layers (MoltenVK, DXVK, etc.)
	// shipped outside the Wine install.
	DynamicLibraryPaths []string
}

// Prefix is one isolated Wine environment directory. Instances are created
// by Ensure and shared by any number of concurrently launched processes;
// all methods are safe for concurrent use.
type Prefix struct {
	path string
	arch Arch
	dist *Distribution
	cfg  Config

	mu     sync.Mutex
	status Status
}

// Path returns the prefix directory.
func (p *Prefix) Path() string { return p.path }

// Arch returns the Windows architecture the prefix was created for.
func (p *Prefix) Arch() Arch { return p.arch }

// Distribution returns the Wine install the prefix is bound to.
func (p *Prefix) Distribution() *Distribution { return p.dist }

// Status returns the current initialization status.
func (p *Prefix) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Prefix) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// Environ returns the Wine-specific environment entries for a command run
// against this prefix. The caller appends these to the host environment;
// later entries win, so prefix settings override any inherited ones.
func (p *Prefix) Environ(rules *DebugRules) []string {
	env := []string{
		"WINEPREFIX=" + p.path,
		"WINEARCH=" + string(p.arch),
	}
	if len(p.cfg.DynamicLibraryPaths) > 0 {
		env = append(env, "DYLD_FALLBACK_LIBRARY_PATH="+strings.Join(p.cfg.DynamicLibraryPaths, ":"))
	}
	if p.cfg.Esync {
		env = append(env, "ESYNC=1")
	}
	if p.cfg.Msync {
		env = append(env, "MSYNC=1")
	}
	if !rules.Empty() {
		env = append(env, "WINEDEBUG="+rules.String())
	}
	return env
}

// MergeEnv layers override variables on top of the base environment,
// replacing duplicates. Overrides are applied in sorted key order so the
// resulting command line is deterministic.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if _, replaced := overrides[key]; replaced {
				continue
			}
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+overrides[k])
	}
	return merged
}

// KillAll asks wineserver to terminate every process attached to this
// prefix. This is the only reliable way to bring down a whole prefix, since
// Wine processes fork helpers the host never spawned directly.
func (p *Prefix) KillAll(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.dist.Wineserver, "-k")
	cmd.Dir = p.path
	cmd.Env = append(cmd.Environ(), "WINEPREFIX="+p.path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wineserver -k for prefix %s: %w (output: %s)", p.path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ImportRegistry merges a .reg file into the prefix's virtual registry
// using the regedit tool from the bound distribution.
func (p *Prefix) ImportRegistry(ctx context.Context, regFile string) error {
	cmd := exec.CommandContext(ctx, p.dist.Regedit, regFile)
	cmd.Dir = p.path
	cmd.Env = append(cmd.Environ(), p.Environ(nil)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("regedit import %s into prefix %s: %w (output: %s)", regFile, p.path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
