package prefix

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// systemRegFile is the registry hive Wine writes during prefix creation.
// Its presence marks an initialized prefix and its #arch= header records
// the architecture the prefix was created for.
const systemRegFile = "system.reg"

// Initializer performs first-time setup of a freshly created prefix
// directory. The default implementation runs wineboot; tests substitute a
// fake that writes the expected layout directly.
type Initializer interface {
	Initialize(ctx context.Context, p *Prefix) error
}

// WinebootInitializer initializes prefixes by running `wine wineboot
// --init`, which creates the virtual drive, registry hives and dosdevices
// links.
type WinebootInitializer struct {
	Dist   *Distribution
	Logger *slog.Logger
}

func (w *WinebootInitializer) Initialize(ctx context.Context, p *Prefix) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Initializing prefix with wineboot", "path", p.Path(), "arch", p.Arch())

	cmd := exec.CommandContext(ctx, w.Dist.Wine, "wineboot", "--init")
	cmd.Dir = p.Path()
	cmd.Env = append(cmd.Environ(), p.Environ(nil)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wineboot --init in %s: %w (output: %s)", p.Path(), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Prefix setup is single-writer per path. The lock map is process-wide so
// two goroutines ensuring the same path never race on directory creation.
var (
	pathLocksMu sync.Mutex
	pathLocks   = make(map[string]*sync.Mutex)
)

func lockPath(path string) func() {
	pathLocksMu.Lock()
	lock, ok := pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		pathLocks[path] = lock
	}
	pathLocksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Ensure creates or validates the prefix at path for the requested
// architecture and returns it in the Ready state.
//
// If the directory already holds an initialized prefix, its recorded
// architecture must match arch; otherwise Ensure fails with
// ErrInvalidPrefix and changes nothing. If the directory is absent or
// empty, it is created and handed to init for first-time setup. Calling
// Ensure twice with identical arguments is idempotent; the second call
// validates and returns without re-initializing.
func Ensure(ctx context.Context, dist *Distribution, path string, arch Arch, cfg Config, init Initializer) (*Prefix, error) {
	if !arch.Valid() {
		return nil, invalidf(path, "unknown architecture %q", arch)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ioError(path, err)
	}

	unlock := lockPath(abs)
	defer unlock()

	p := &Prefix{path: abs, arch: arch, dist: dist, cfg: cfg, status: StatusUninitialized}

	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return nil, invalidf(abs, "path exists and is not a directory")
	case err == nil:
		initialized, err := validateExisting(p)
		if err != nil {
			return nil, err
		}
		if initialized {
			p.status = StatusReady
			return p, nil
		}
		// Empty directory: fall through to first-time setup.
	case os.IsNotExist(err):
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, ioError(abs, err)
		}
	default:
		return nil, ioError(abs, err)
	}

	p.setStatus(StatusInitializing)
	if err := init.Initialize(ctx, p); err != nil {
		p.setStatus(StatusFailed)
		return nil, fmt.Errorf("initializing prefix %s: %w", abs, err)
	}

	initialized, err := validateExisting(p)
	if err != nil {
		p.setStatus(StatusFailed)
		return nil, err
	}
	if !initialized {
		p.setStatus(StatusFailed)
		return nil, invalidf(abs, "initializer completed but %s was not created", systemRegFile)
	}
	p.setStatus(StatusReady)
	return p, nil
}

// validateExisting inspects an existing prefix directory. It returns true
// when the directory holds an initialized prefix matching p.arch, false
// when the directory is empty and safe to initialize, and an error when the
// contents are incompatible.
func validateExisting(p *Prefix) (bool, error) {
	regPath := filepath.Join(p.path, systemRegFile)
	if _, err := os.Stat(regPath); err != nil {
		if !os.IsNotExist(err) {
			return false, ioError(p.path, err)
		}
		entries, err := os.ReadDir(p.path)
		if err != nil {
			return false, ioError(p.path, err)
		}
		if len(entries) > 0 {
			return false, invalidf(p.path, "directory is not empty but contains no %s", systemRegFile)
		}
		return false, nil
	}

	arch, err := readArch(regPath)
	if err != nil {
		return false, err
	}
	if arch != p.arch {
		return false, invalidf(p.path, "prefix architecture is %s, requested %s", arch, p.arch)
	}
	return true, nil
}

// readArch extracts the #arch= header Wine writes at the top of system.reg.
func readArch(regPath string) (Arch, error) {
	f, err := os.Open(regPath)
	if err != nil {
		return "", ioError(regPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "#arch="); ok {
			arch := Arch(strings.TrimSpace(value))
			if !arch.Valid() {
				return "", invalidf(regPath, "unrecognized architecture %q in %s", value, systemRegFile)
			}
			return arch, nil
		}
		// The header block ends at the first registry key.
		if strings.HasPrefix(line, "[") {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", ioError(regPath, err)
	}
	return "", invalidf(regPath, "no #arch header in %s", systemRegFile)
}
