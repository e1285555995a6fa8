package cli

import (
	"os"
	"path/filepath"
)

const appName = "voxloop"

// Paths resolves the on-disk layout: configuration under the OS
// config dir, runtime data under the user home.
//
//	~/.config/voxloop/config.yaml   (Linux; platform equivalent elsewhere)
//	~/.voxloop/store                transcript store
//	~/.voxloop/voices               conditioning artifacts
type Paths struct {
	// ConfigRoot is the configuration directory.
	ConfigRoot string

	// DataRoot is the runtime data directory.
	DataRoot string
}

// NewPaths resolves both roots for the current user.
func NewPaths() (*Paths, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{
		ConfigRoot: filepath.Join(cfg, appName),
		DataRoot:   filepath.Join(home, "."+appName),
	}, nil
}

// ConfigFile is the YAML configuration path.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigRoot, "config.yaml")
}

// StoreDir holds the transcript store.
func (p *Paths) StoreDir() string {
	return filepath.Join(p.DataRoot, "store")
}

// VoicesDir holds conditioning artifacts.
func (p *Paths) VoicesDir() string {
	return filepath.Join(p.DataRoot, "voices")
}

// EnsureConfig creates the configuration directory.
func (p *Paths) EnsureConfig() error {
	return os.MkdirAll(p.ConfigRoot, 0o755)
}

// EnsureData creates the data directories.
func (p *Paths) EnsureData() error {
	for _, dir := range []string{p.StoreDir(), p.VoicesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
