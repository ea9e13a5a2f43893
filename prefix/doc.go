package prefix

// Package prefix manages Wine prefixes: isolated environment directories
// containing a virtual Windows filesystem and registry. It knows how to
// create and validate a prefix for a requested Windows architecture, how to
// assemble the environment (WINEPREFIX, WINEDEBUG, esync/msync toggles,
// dynamic library fallback paths) for commands launched against a prefix,
// and how to shut down everything running inside one via wineserver.
//
// Spawning and tracking of individual processes is delegated to the
// processes package; this package only owns the per-prefix configuration
// surface.
