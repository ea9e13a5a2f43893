package prefix

import (
	"os"
	"path/filepath"
)

// Distribution holds the resolved tool paths of a Wine install. On macOS
// these typically live under a relocatable root such as a Homebrew cellar
// or an app bundle's Resources directory.
type Distribution struct {
	Root       string
	Wine       string
	Wineserver string
	Regedit    string
}

// NewDistribution resolves the standard tool layout under root/bin and
// verifies the wine binary actually exists there. It fails with
// ErrInvalidDistribution if the layout does not look like a Wine install.
func NewDistribution(root string) (*Distribution, error) {
	dist := &Distribution{
		Root:       root,
		Wine:       filepath.Join(root, "bin", "wine"),
		Wineserver: filepath.Join(root, "bin", "wineserver"),
		Regedit:    filepath.Join(root, "bin", "regedit"),
	}
	info, err := os.Stat(dist.Wine)
	if err != nil {
		return nil, &Error{Path: root, Kind: ErrInvalidDistribution, Msg: "wine binary not found under bin/", Err: err}
	}
	if info.IsDir() {
		return nil, &Error{Path: root, Kind: ErrInvalidDistribution, Msg: "bin/wine is a directory"}
	}
	return dist, nil
}
