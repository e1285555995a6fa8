package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	paths, err := NewPaths()
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}

	if paths.ConfigRoot == "" {
		t.Error("ConfigRoot should not be empty")
	}
	if filepath.Base(paths.ConfigRoot) != appName {
		t.Errorf("ConfigRoot = %q, should end with %q", paths.ConfigRoot, appName)
	}

	if filepath.Base(paths.DataRoot) != "."+appName {
		t.Errorf("DataRoot = %q, should end with %q", paths.DataRoot, "."+appName)
	}
}

func TestPaths_ConfigFile(t *testing.T) {
	paths := &Paths{ConfigRoot: "/etc/voxloop", DataRoot: "/var/voxloop"}

	want := filepath.Join("/etc/voxloop", "config.yaml")
	if got := paths.ConfigFile(); got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestPaths_DataDirs(t *testing.T) {
	paths := &Paths{ConfigRoot: "/etc/voxloop", DataRoot: "/var/voxloop"}

	if got := paths.StoreDir(); got != filepath.Join("/var/voxloop", "store") {
		t.Errorf("StoreDir() = %q", got)
	}
	if got := paths.VoicesDir(); got != filepath.Join("/var/voxloop", "voices") {
		t.Errorf("VoicesDir() = %q", got)
	}
}

func TestPaths_EnsureConfig(t *testing.T) {
	tmpDir := t.TempDir()
	paths := &Paths{ConfigRoot: filepath.Join(tmpDir, "cfg"), DataRoot: tmpDir}

	if err := paths.EnsureConfig(); err != nil {
		t.Fatalf("EnsureConfig error: %v", err)
	}

	info, err := os.Stat(paths.ConfigRoot)
	if err != nil {
		t.Fatalf("ConfigRoot not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("ConfigRoot should be a directory")
	}
}

func TestPaths_EnsureData(t *testing.T) {
	tmpDir := t.TempDir()
	paths := &Paths{ConfigRoot: tmpDir, DataRoot: filepath.Join(tmpDir, "data")}

	if err := paths.EnsureData(); err != nil {
		t.Fatalf("EnsureData error: %v", err)
	}

	for _, dir := range []string{paths.StoreDir(), paths.VoicesDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s should be a directory", dir)
		}
	}
}
