package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tomyedwab/winehost/prefix"
	"github.com/tomyedwab/winehost/processes"
	"github.com/tomyedwab/winehost/store"
)

func main() {
	wineRoot := flag.String("wine", "", "Path to the Wine distribution root (containing bin/wine)")
	prefixPath := flag.String("prefix", "", "Path to the Wine prefix directory")
	archFlag := flag.String("arch", "win64", "Windows architecture for the prefix (win32 or win64)")
	dbPath := flag.String("db", "", "Path to the registry/journal database (empty disables persistence)")
	esync := flag.Bool("esync", false, "Enable eventfd synchronization")
	msync := flag.Bool("msync", false, "Enable mach semaphore synchronization")
	libPaths := flag.String("lib", "", "Colon-separated dynamic library fallback paths")
	debugSpec := flag.String("debug", "", "Comma-separated WINEDEBUG channels, each optionally prefixed with + or -")
	useStart := flag.Bool("start", false, "Launch via 'wine start'")
	killAll := flag.Bool("kill", false, "Terminate all processes in the prefix and exit")
	grace := flag.Duration("grace", 10*time.Second, "Grace period before escalating termination to SIGKILL")
	verbose := flag.Bool("v", false, "Enable debug logging, including captured process output")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *wineRoot == "" || *prefixPath == "" {
		fmt.Fprintln(os.Stderr, "usage: winehost -wine <dist root> -prefix <dir> [flags] [program args...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	code, err := run(logger, *wineRoot, *prefixPath, *archFlag, *dbPath, *debugSpec, prefix.Config{
		Esync:               *esync,
		Msync:               *msync,
		DynamicLibraryPaths: splitPaths(*libPaths),
	}, *useStart, *killAll, *grace, flag.Args())
	if err != nil {
		logger.Error("winehost failed", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(logger *slog.Logger, wineRoot, prefixPath, archFlag, dbPath, debugSpec string, cfg prefix.Config, useStart, killAll bool, grace time.Duration, args []string) (int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dist, err := prefix.NewDistribution(wineRoot)
	if err != nil {
		return 0, err
	}

	var st *store.Store
	if dbPath != "" {
		st, err = store.Open(dbPath)
		if err != nil {
			return 0, fmt.Errorf("opening database %s: %w", dbPath, err)
		}
		defer st.Close()
	}

	pfx, err := prefix.Ensure(ctx, dist, prefixPath, prefix.Arch(archFlag), cfg, &prefix.WinebootInitializer{Dist: dist, Logger: logger})
	if err != nil {
		return 0, err
	}
	logger.Info("Prefix ready", "path", pfx.Path(), "arch", pfx.Arch())

	if st != nil {
		if err := st.SavePrefix(ctx, pfx); err != nil {
			logger.Error("Failed to record prefix in registry", "error", err)
		}
	}

	if killAll {
		logger.Info("Killing all processes in prefix", "path", pfx.Path())
		return 0, pfx.KillAll(ctx)
	}

	if len(args) == 0 {
		return 0, fmt.Errorf("no program to launch; pass an executable after the flags")
	}

	rules, err := parseDebugSpec(debugSpec)
	if err != nil {
		return 0, err
	}

	mgrConfig := processes.Config{
		Distribution: dist,
		Logger:       logger,
		GracePeriod:  grace,
	}
	if st != nil {
		mgrConfig.Store = st
	}
	manager, err := processes.NewManager(mgrConfig)
	if err != nil {
		return 0, err
	}

	proc, err := manager.Launch(ctx, pfx, processes.LaunchRequest{
		Program:     args[0],
		Args:        args[1:],
		Debug:       rules,
		UseStartExe: useStart,
	})
	if err != nil {
		return 0, err
	}

	// Stream captured child output incrementally, polling the log buffer
	// with the last entry ID seen. A final drain after Done is safe because
	// the manager records the terminal state only once output is complete.
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		var lastID int64
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		emit := func() {
			for _, entry := range proc.Logs.EntriesFromID(lastID) {
				logger.Info("Process output", "source", entry.Source, "line", entry.Message)
				lastID = entry.ID
			}
		}
		for {
			select {
			case <-proc.Done():
				emit()
				return
			case <-ticker.C:
				emit()
			}
		}
	}()

	// Forward SIGINT/SIGTERM to the child as a graceful terminate.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, terminating child process", "signal", sig.String())
		if err := manager.Terminate(ctx, proc, grace); err != nil {
			logger.Error("Failed to terminate child process", "error", err)
		}
	}()

	status, err := manager.Wait(ctx, proc)
	<-logDone
	manager.Shutdown(ctx)
	if err != nil {
		return 0, err
	}

	logger.Info("Process finished", "exitCode", status.Code, "signal", status.Signal)
	return status.Code, nil
}

// parseDebugSpec turns a comma-separated channel list into debug rules.
// A leading '-' disables the channel; '+' or no prefix enables it.
func parseDebugSpec(spec string) (*prefix.DebugRules, error) {
	if spec == "" {
		return nil, nil
	}
	rules := &prefix.DebugRules{}
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		enabled := true
		switch token[0] {
		case '+':
			token = token[1:]
		case '-':
			enabled = false
			token = token[1:]
		}
		if token == "" {
			return nil, fmt.Errorf("empty channel name in -debug spec %q", spec)
		}
		rules.Add(prefix.DebugRule{Channel: prefix.DebugChannel(token), Enabled: enabled})
	}
	return rules, nil
}

func splitPaths(paths string) []string {
	if paths == "" {
		return nil
	}
	return strings.Split(paths, ":")
}
