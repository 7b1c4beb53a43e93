package preset

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ErrNotFound is returned when no preset matches a lookup.
var ErrNotFound = eris.New("preset not found")

// Registry holds presets addressed by name, vendor and alias.
type Registry struct {
	byName map[string]*Preset
}

// NewRegistry builds a registry from already validated presets.
func NewRegistry(presets ...*Preset) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Preset, len(presets))}
	for _, p := range presets {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Builtin returns a registry of the presets compiled into the binary.
func Builtin() (*Registry, error) {
	r, _ := NewRegistry()
	if err := r.loadFS(builtinFS, "builtin"); err != nil {
		return nil, err
	}
	return r, nil
}

// Add registers p. Names are unique case-insensitively.
func (r *Registry) Add(p *Preset) error {
	key := strings.ToLower(p.Name)
	if _, dup := r.byName[key]; dup {
		return &InvalidPresetError{Preset: p.Name, Reason: "duplicate preset name"}
	}
	r.byName[key] = p
	return nil
}

// LoadDir adds every *.yaml / *.yml preset found in dir. A preset with the
// same name as an existing one replaces it.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "preset: read dir %s", dir)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return eris.Wrapf(err, "preset: read %s", e.Name())
		}
		p, err := Parse(data)
		if err != nil {
			return eris.Wrapf(err, "preset: load %s", e.Name())
		}
		if _, exists := r.byName[strings.ToLower(p.Name)]; exists {
			zap.L().Info("preset: overriding preset", zap.String("name", p.Name), zap.String("file", e.Name()))
		}
		r.byName[strings.ToLower(p.Name)] = p
	}
	return nil
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return eris.Wrap(err, "preset: read embedded presets")
	}
	for _, e := range entries {
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return eris.Wrapf(err, "preset: read embedded %s", e.Name())
		}
		p, err := Parse(data)
		if err != nil {
			return eris.Wrapf(err, "preset: load embedded %s", e.Name())
		}
		if err := r.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the preset with the given name.
func (r *Registry) Get(name string) (*Preset, error) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "preset: %q", name)
	}
	return p, nil
}

// List returns all presets sorted by name.
func (r *Registry) List() []*Preset {
	out := make([]*Preset, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForVendor selects a preset by vendor identifier. An exact match on a
// preset's name, vendor or alias wins over a normalized-substring match;
// within a tier the lexicographically smallest preset name wins.
func (r *Registry) ForVendor(vendor string) (*Preset, error) {
	key := model.SearchKey(vendor)
	if key == "" {
		return nil, eris.Wrap(ErrNotFound, "preset: empty vendor")
	}
	if p := r.best(key); p != nil {
		return p, nil
	}
	return nil, eris.Wrapf(ErrNotFound, "preset: no preset matches vendor %q", vendor)
}

// ForFilename suggests a preset from an upload's file name, e.g.
// "sysco_order_guide_0701.csv" -> sysco.
func (r *Registry) ForFilename(name string) (*Preset, error) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	key := model.SearchKey(base)
	if key != "" {
		if p := r.best(key); p != nil {
			return p, nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "preset: no preset matches file %q", name)
}

func (r *Registry) best(key string) *Preset {
	var exact, partial *Preset
	for _, p := range r.List() {
		for _, k := range p.MatchKeys() {
			switch model.MatchText(key, k) {
			case model.MatchExact:
				if exact == nil {
					exact = p
				}
			case model.MatchSubstring:
				if partial == nil {
					partial = p
				}
			}
		}
	}
	if exact != nil {
		return exact
	}
	return partial
}
