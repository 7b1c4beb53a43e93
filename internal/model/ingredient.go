package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/units"
)

// LockMode governs how an ingredient's current cost is resolved.
type LockMode string

const (
	// LockModeLock pins the ingredient to one vendor item.
	LockModeLock LockMode = "LOCK"
	// LockModeCheapest re-resolves to the lowest-cost matching item.
	LockModeCheapest LockMode = "CHEAPEST"
)

// ParseLockMode accepts any casing; empty defaults to CHEAPEST.
func ParseLockMode(s string) (LockMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(LockModeCheapest):
		return LockModeCheapest, nil
	case string(LockModeLock):
		return LockModeLock, nil
	default:
		return "", eris.Errorf("unknown lock mode %q (valid: LOCK, CHEAPEST)", s)
	}
}

// CostBasis selects which per-unit cost an ingredient is compared on.
type CostBasis string

const (
	BasisOz   CostBasis = "oz"
	BasisEach CostBasis = "each"
)

// Ingredient is a normalized kitchen ingredient.
type Ingredient struct {
	ID               string     `json:"id" yaml:"-"`
	Name             string     `json:"name" yaml:"name"`
	Aliases          []string   `json:"aliases,omitempty" yaml:"aliases"`
	Mode             LockMode   `json:"mode" yaml:"mode"`
	LockedVendor     string     `json:"locked_vendor,omitempty" yaml:"locked_vendor"`
	LockedItemNumber string     `json:"locked_item_number,omitempty" yaml:"locked_item_number"`
	CostBasis        CostBasis  `json:"cost_basis" yaml:"cost_basis"`
	Category         string     `json:"category,omitempty" yaml:"category"`
	LastCostPerOz    *float64   `json:"last_cost_per_oz,omitempty" yaml:"-"`
	LastCostPerEach  *float64   `json:"last_cost_per_each,omitempty" yaml:"-"`
	LastCostUnit     units.Unit `json:"last_cost_unit,omitempty" yaml:"-"`
	LastUpdated      *time.Time `json:"last_updated,omitempty" yaml:"-"`
}

// MatchTerms returns the ingredient name plus aliases, normalized and
// de-duplicated.
func (i *Ingredient) MatchTerms() []string {
	seen := make(map[string]bool, len(i.Aliases)+1)
	var out []string
	for _, a := range append([]string{i.Name}, i.Aliases...) {
		k := SearchKey(a)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Normalize fills defaults and validates the ingredient definition.
func (i *Ingredient) Normalize() error {
	i.Name = strings.Join(strings.Fields(i.Name), " ")
	if i.Name == "" {
		return eris.New("ingredient: name is required")
	}
	mode, err := ParseLockMode(string(i.Mode))
	if err != nil {
		return eris.Wrapf(err, "ingredient %s", i.Name)
	}
	i.Mode = mode
	if i.Mode == LockModeLock && (strings.TrimSpace(i.LockedVendor) == "" || strings.TrimSpace(i.LockedItemNumber) == "") {
		return eris.Errorf("ingredient %s: LOCK mode requires locked_vendor and locked_item_number", i.Name)
	}
	switch CostBasis(strings.ToLower(string(i.CostBasis))) {
	case "", BasisOz:
		i.CostBasis = BasisOz
	case BasisEach:
		i.CostBasis = BasisEach
	default:
		return eris.Errorf("ingredient %s: unknown cost basis %q", i.Name, i.CostBasis)
	}
	return nil
}
