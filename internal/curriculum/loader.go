// Package curriculum loads zone and level definitions from YAML.
package curriculum

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-quest/internal/graph"
)

//go:embed defaults/*.yaml defaults/*.md
var defaultFS embed.FS

// ZoneFile is one zone YAML document. Order sorts zones; ties fall back to ID.
type ZoneFile struct {
	graph.Zone `yaml:",inline"`
	Order      int `yaml:"order"`
}

// Loader loads and caches curriculum content from a filesystem.
type Loader struct {
	fsys             fs.FS
	zones            map[string]ZoneFile
	longDescriptions map[string]string
	mu               sync.RWMutex
}

// NewLoader creates a curriculum loader over rootDir and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	return NewLoaderFS(os.DirFS(rootDir))
}

// Default returns a loader over the curriculum bundled with the binary.
func Default() (*Loader, error) {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		return nil, fmt.Errorf("opening default curriculum: %w", err)
	}
	return NewLoaderFS(sub)
}

// NewLoaderFS loads every zone YAML and level markdown file in fsys and
// checks the combined graph for duplicate IDs, unknown prerequisites and
// cycles.
func NewLoaderFS(fsys fs.FS) (*Loader, error) {
	l := &Loader{
		fsys:             fsys,
		zones:            make(map[string]ZoneFile),
		longDescriptions: make(map[string]string),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}
	if err := graph.Validate(l.Zones()); err != nil {
		return nil, fmt.Errorf("validating curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "zones", len(l.zones))
	return l, nil
}

// GetZone returns a zone by ID.
func (l *Loader) GetZone(id string) (graph.Zone, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	z, ok := l.zones[id]
	if !ok {
		return graph.Zone{}, false
	}
	return l.withDescriptions(z.Zone), true
}

// Zones returns all zones in curriculum order with every level Locked.
func (l *Loader) Zones() []graph.Zone {
	l.mu.RLock()
	defer l.mu.RUnlock()

	files := make([]ZoneFile, 0, len(l.zones))
	for _, z := range l.zones {
		files = append(files, z)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].ID < files[j].ID
	})

	zones := make([]graph.Zone, 0, len(files))
	for _, f := range files {
		zones = append(zones, l.withDescriptions(f.Zone))
	}
	return zones
}

// withDescriptions returns a copy of z with markdown long descriptions
// filled in for levels that have none inline.
func (l *Loader) withDescriptions(z graph.Zone) graph.Zone {
	out := graph.Clone([]graph.Zone{z})[0]
	for i := range out.Levels {
		lvl := &out.Levels[i]
		if lvl.LongDescription == "" {
			lvl.LongDescription = l.longDescriptions[lvl.ID]
		}
	}
	return out
}

func (l *Loader) loadAll() error {
	return fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		switch path.Ext(p) {
		case ".md":
			return l.loadLongDescription(p)
		case ".yaml", ".yml":
			return l.loadZone(p)
		}
		return nil
	})
}

func (l *Loader) loadZone(p string) error {
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return err
	}

	var zone ZoneFile
	if err := yaml.Unmarshal(data, &zone); err != nil {
		slog.Warn("skipping invalid zone YAML", "path", p, "error", err)
		return nil
	}

	if zone.ID == "" || len(zone.Levels) == 0 {
		return nil // Not a zone file
	}
	for i := range zone.Levels {
		zone.Levels[i].Status = graph.Locked
	}

	l.mu.Lock()
	if _, dup := l.zones[zone.ID]; dup {
		slog.Warn("zone defined twice, last file wins", "zone_id", zone.ID, "path", p)
	}
	l.zones[zone.ID] = zone
	l.mu.Unlock()

	return nil
}

// loadLongDescription reads <level-id>.md as the long description of that level.
func (l *Loader) loadLongDescription(p string) error {
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return err
	}
	levelID := strings.TrimSuffix(path.Base(p), ".md")
	if levelID == "" {
		return nil
	}

	l.mu.Lock()
	l.longDescriptions[levelID] = strings.TrimSpace(string(data))
	l.mu.Unlock()

	return nil
}
