package prefix

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
)

func TestNewDistributionMissingWine(t *testing.T) {
	_, err := NewDistribution(t.TempDir())
	if !errors.Is(err, ErrInvalidDistribution) {
		t.Errorf("NewDistribution on empty root = %v, want ErrInvalidDistribution", err)
	}
}

func TestNewDistributionToolPaths(t *testing.T) {
	dist := testDistribution(t)
	for name, path := range map[string]string{
		"wine":       dist.Wine,
		"wineserver": dist.Wineserver,
		"regedit":    dist.Regedit,
	} {
		want := filepath.Join(dist.Root, "bin", name)
		if path != want {
			t.Errorf("%s path = %q, want %q", name, path, want)
		}
	}
}

func TestPrefixEnviron(t *testing.T) {
	dist := testDistribution(t)
	path := filepath.Join(t.TempDir(), "pfx")
	cfg := Config{
		Esync:               true,
		Msync:               true,
		DynamicLibraryPaths: []string{"/usr/local/lib", "/opt/moltenvk/lib"},
	}
	p, err := Ensure(context.Background(), dist, path, Win64, cfg, &fakeInitializer{arch: Win64})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	rules := (&DebugRules{}).Enable(ChannelRelay)
	env := p.Environ(rules)

	want := []string{
		"WINEPREFIX=" + p.Path(),
		"WINEARCH=win64",
		"DYLD_FALLBACK_LIBRARY_PATH=/usr/local/lib:/opt/moltenvk/lib",
		"ESYNC=1",
		"MSYNC=1",
		"WINEDEBUG=+relay",
	}
	for _, entry := range want {
		if !slices.Contains(env, entry) {
			t.Errorf("Environ missing %q, got %v", entry, env)
		}
	}
}

func TestPrefixEnvironMinimal(t *testing.T) {
	dist := testDistribution(t)
	path := filepath.Join(t.TempDir(), "pfx")
	p, err := Ensure(context.Background(), dist, path, Win32, Config{}, &fakeInitializer{arch: Win32})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	env := p.Environ(nil)
	for _, entry := range env {
		for _, banned := range []string{"ESYNC=", "MSYNC=", "WINEDEBUG=", "DYLD_FALLBACK_LIBRARY_PATH="} {
			if strings.HasPrefix(entry, banned) {
				t.Errorf("Environ contains %q for a zero config", entry)
			}
		}
	}
	if !slices.Contains(env, "WINEARCH=win32") {
		t.Errorf("Environ missing WINEARCH=win32, got %v", env)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "WINEPREFIX=/old", "HOME=/home/u"}
	got := MergeEnv(base, map[string]string{
		"WINEPREFIX": "/new",
		"APPDATA":    "c:/users/u",
	})
	want := []string{"PATH=/usr/bin", "HOME=/home/u", "APPDATA=c:/users/u", "WINEPREFIX=/new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeEnv = %v, want %v", got, want)
	}
}

func TestMergeEnvNoOverrides(t *testing.T) {
	base := []string{"PATH=/usr/bin"}
	if got := MergeEnv(base, nil); !reflect.DeepEqual(got, base) {
		t.Errorf("MergeEnv with no overrides = %v, want %v", got, base)
	}
}
