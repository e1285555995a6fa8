// Package voices manages conditioning artifacts: the fixed persona
// roster, their on-disk layout, and mirroring from an object store.
package voices

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/storage"
)

// Default is the persona used when a caller does not pick one.
const Default = "NATF2"

const artifactExt = ".pt"

// Names is the fixed persona roster: natural and varied, female and
// male. Artifacts are stored as <name>.pt.
var Names = []string{
	"NATF0", "NATF1", "NATF2", "NATF3",
	"NATM0", "NATM1", "NATM2", "NATM3",
	"VARF0", "VARF1", "VARF2", "VARF3", "VARF4",
	"VARM0", "VARM1", "VARM2", "VARM3", "VARM4",
}

// IsValid reports whether name is on the roster.
func IsValid(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Catalog resolves persona names to conditioning artifacts stored in a
// local directory. Artifacts are cached after the first read.
type Catalog struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

func NewCatalog(dir string, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{dir: dir, log: log, cache: make(map[string][]byte)}
}

// Dir is the directory artifacts live in.
func (c *Catalog) Dir() string { return c.dir }

// Resolve returns the artifact for a roster persona, or (nil, false)
// when the name is unknown or its artifact is missing. Absence is not
// an error; sessions proceed unconditioned.
func (c *Catalog) Resolve(name string) ([]byte, bool) {
	if !IsValid(name) {
		return nil, false
	}

	c.mu.Lock()
	cached, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		return cached, true
	}

	data, err := os.ReadFile(filepath.Join(c.dir, name+artifactExt))
	if err != nil {
		c.log.Debug("voices: artifact not readable", "voice", name, "error", err)
		return nil, false
	}
	c.mu.Lock()
	c.cache[name] = data
	c.mu.Unlock()
	return data, true
}

// Info describes one roster persona for listings.
type Info struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Size    int64  `json:"size,omitempty"`
}

// List reports every roster persona and whether its artifact is on
// disk.
func (c *Catalog) List() []Info {
	out := make([]Info, 0, len(Names))
	for _, name := range Names {
		info := Info{Name: name}
		if st, err := os.Stat(filepath.Join(c.dir, name+artifactExt)); err == nil {
			info.Present = true
			info.Size = st.Size()
		}
		out = append(out, info)
	}
	return out
}

// Sync mirrors roster artifacts from a file store prefix into the
// catalog directory and drops the in-memory cache. Objects that are
// not roster artifacts are skipped. It returns how many artifacts were
// written.
func (c *Catalog) Sync(ctx context.Context, store storage.FileStore, prefix string) (int, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("voices: list %q: %w", prefix, err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return 0, fmt.Errorf("voices: create %s: %w", c.dir, err)
	}

	synced := 0
	for _, key := range keys {
		base := path.Base(key)
		name := strings.TrimSuffix(base, artifactExt)
		if name == base || !IsValid(name) {
			c.log.Debug("voices: skipping non-roster object", "key", key)
			continue
		}
		if err := c.fetch(ctx, store, key, name); err != nil {
			return synced, err
		}
		synced++
	}

	c.mu.Lock()
	c.cache = make(map[string][]byte)
	c.mu.Unlock()
	c.log.Info("voices: sync complete", "prefix", prefix, "synced", synced)
	return synced, nil
}

func (c *Catalog) fetch(ctx context.Context, store storage.FileStore, key, name string) error {
	rc, err := store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("voices: read %q: %w", key, err)
	}
	defer rc.Close()

	dst := filepath.Join(c.dir, name+artifactExt)
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("voices: create %q: %w", dst, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("voices: copy %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("voices: close %q: %w", dst, err)
	}
	return nil
}

var _ duplex.VoiceCatalog = (*Catalog)(nil)
