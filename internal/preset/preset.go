// Package preset loads vendor column-mapping presets that translate raw
// upload headers into canonical catalog fields.
package preset

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/kitchen-cli/internal/model"
)

// Field is a canonical catalog field name.
type Field string

const (
	FieldVendor      Field = "vendor"
	FieldItemNumber  Field = "item_number"
	FieldDescription Field = "description"
	FieldPackSize    Field = "pack_size"
	FieldPrice       Field = "price"
	FieldPriceDate   Field = "price_date"
	FieldBrand       Field = "brand"
	FieldCategory    Field = "category"
)

var canonical = map[Field]bool{
	FieldVendor:      true,
	FieldItemNumber:  true,
	FieldDescription: true,
	FieldPackSize:    true,
	FieldPrice:       true,
	FieldPriceDate:   true,
	FieldBrand:       true,
	FieldCategory:    true,
}

// DefaultRequired is used when a preset omits its required list.
var DefaultRequired = []Field{FieldItemNumber, FieldDescription, FieldPackSize, FieldPrice, FieldPriceDate}

// DatePolicy controls what happens when a row has no price_date.
type DatePolicy string

const (
	// PolicyRequire rejects rows without a price_date.
	PolicyRequire DatePolicy = "require"
	// PolicyIngestionDate defaults a missing price_date to the ingestion date.
	PolicyIngestionDate DatePolicy = "ingestion_date"
)

// InvalidPresetError reports a preset that failed load-time validation.
type InvalidPresetError struct {
	Preset string
	Reason string
}

func (e *InvalidPresetError) Error() string {
	if e.Preset == "" {
		return "invalid preset: " + e.Reason
	}
	return fmt.Sprintf("invalid preset %q: %s", e.Preset, e.Reason)
}

// Preset maps source headers of one vendor's upload layout to canonical fields.
type Preset struct {
	Name            string           `yaml:"name"`
	Description     string           `yaml:"description"`
	Vendor          string           `yaml:"vendor"`
	Aliases         []string         `yaml:"aliases"`
	Columns         map[string]Field `yaml:"columns"`
	Required        []Field          `yaml:"required"`
	Defaults        map[Field]string `yaml:"defaults"`
	PriceDatePolicy DatePolicy       `yaml:"price_date_policy"`

	normalized map[string]Field
	required   map[Field]bool
}

// Parse decodes and validates a YAML preset document.
func Parse(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &InvalidPresetError{Reason: "parse yaml: " + err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the mapping and builds the lookup indexes. It must be
// called before a manually constructed Preset is used.
func (p *Preset) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return &InvalidPresetError{Reason: "name is required"}
	}
	if len(p.Columns) == 0 {
		return p.invalid("no columns mapped")
	}

	headers := make([]string, 0, len(p.Columns))
	for h := range p.Columns {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	targets := make(map[Field]string, len(headers))
	p.normalized = make(map[string]Field, len(headers))
	for _, h := range headers {
		f := Field(strings.ToLower(strings.TrimSpace(string(p.Columns[h]))))
		if !canonical[f] {
			return p.invalid(fmt.Sprintf("column %q maps to unknown field %q", h, p.Columns[h]))
		}
		if prev, dup := targets[f]; dup {
			return p.invalid(fmt.Sprintf("columns %q and %q both map to %s", prev, h, f))
		}
		targets[f] = h
		p.Columns[h] = f

		key := model.SearchKey(h)
		if key == "" {
			return p.invalid(fmt.Sprintf("column header %q is blank", h))
		}
		if other, clash := p.normalized[key]; clash && other != f {
			return p.invalid(fmt.Sprintf("column %q is indistinguishable from another header", h))
		}
		p.normalized[key] = f
	}

	defaults := make(map[Field]string, len(p.Defaults))
	for f, v := range p.Defaults {
		lf := Field(strings.ToLower(string(f)))
		if !canonical[lf] {
			return p.invalid(fmt.Sprintf("default for unknown field %q", f))
		}
		defaults[lf] = v
	}
	p.Defaults = defaults
	if p.Vendor != "" {
		if _, ok := p.Defaults[FieldVendor]; !ok {
			p.Defaults[FieldVendor] = p.Vendor
		}
	}

	switch DatePolicy(strings.ToLower(string(p.PriceDatePolicy))) {
	case "", PolicyRequire:
		p.PriceDatePolicy = PolicyRequire
	case PolicyIngestionDate:
		p.PriceDatePolicy = PolicyIngestionDate
	default:
		return p.invalid(fmt.Sprintf("unknown price_date_policy %q", p.PriceDatePolicy))
	}

	if len(p.Required) == 0 {
		p.Required = append([]Field(nil), DefaultRequired...)
	}
	p.required = make(map[Field]bool, len(p.Required))
	for i, f := range p.Required {
		f = Field(strings.ToLower(string(f)))
		if !canonical[f] {
			return p.invalid(fmt.Sprintf("required field %q is unknown", f))
		}
		p.Required[i] = f
		p.required[f] = true
		_, mapped := targets[f]
		_, defaulted := p.Defaults[f]
		if !mapped && !defaulted && (f != FieldPriceDate || p.PriceDatePolicy != PolicyIngestionDate) {
			return p.invalid(fmt.Sprintf("required field %s is neither mapped nor defaulted", f))
		}
	}
	return nil
}

func (p *Preset) invalid(reason string) error {
	return &InvalidPresetError{Preset: p.Name, Reason: reason}
}

// FieldFor resolves a source header to its canonical field: exact header
// first, then case- and punctuation-insensitive.
func (p *Preset) FieldFor(header string) (Field, bool) {
	if f, ok := p.Columns[header]; ok {
		return f, true
	}
	f, ok := p.normalized[model.SearchKey(header)]
	return f, ok
}

// IsRequired reports whether f must be present on every row.
func (p *Preset) IsRequired(f Field) bool {
	return p.required[f]
}

// Default returns the static default for f, if any.
func (p *Preset) Default(f Field) (string, bool) {
	v, ok := p.Defaults[f]
	return v, ok
}

// DefaultsDate reports whether a missing price_date falls back to the
// ingestion date.
func (p *Preset) DefaultsDate() bool {
	return p.PriceDatePolicy == PolicyIngestionDate
}

// MatchKeys returns the normalized keys the preset answers to: its name,
// vendor and aliases.
func (p *Preset) MatchKeys() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{p.Name, p.Vendor}, p.Aliases...) {
		k := model.SearchKey(s)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

