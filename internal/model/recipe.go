package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LineKind distinguishes ingredient lines from sub-recipe lines.
type LineKind string

const (
	LineIngredient LineKind = "INGREDIENT"
	LineSubRecipe  LineKind = "SUBRECIPE"
)

// RecipeLine is a quantity of an ingredient or of another recipe.
type RecipeLine struct {
	Position int      `json:"position" yaml:"-"`
	Kind     LineKind `json:"kind" yaml:"kind"`
	Ref      string   `json:"ref" yaml:"ref"`
	Qty      float64  `json:"qty" yaml:"qty"`
	UOM      string   `json:"uom" yaml:"uom"`
	Note     string   `json:"note,omitempty" yaml:"note"`
}

// Recipe is a costed menu item or prep component. YieldFactor is the
// fraction retained after prep loss (0 < f <= 1); YieldQty is the number of
// yield units (portions) one batch produces.
type Recipe struct {
	ID          string       `json:"id" yaml:"-"`
	Name        string       `json:"name" yaml:"name"`
	Category    string       `json:"category,omitempty" yaml:"category"`
	MenuPrice   float64      `json:"menu_price" yaml:"menu_price"`
	YieldFactor float64      `json:"yield_factor" yaml:"yield_factor"`
	YieldQty    float64      `json:"yield_qty" yaml:"yield_qty"`
	YieldUOM    string       `json:"yield_uom" yaml:"yield_uom"`
	Lines       []RecipeLine `json:"lines" yaml:"lines"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"-"`
}

// Normalize applies defaults and validates the recipe definition.
func (r *Recipe) Normalize() error {
	r.Name = strings.Join(strings.Fields(r.Name), " ")
	if r.Name == "" {
		return eris.New("recipe: name is required")
	}
	if r.YieldFactor == 0 {
		r.YieldFactor = 1
	}
	if r.YieldFactor <= 0 || r.YieldFactor > 1 {
		return eris.Errorf("recipe %s: yield_factor must be in (0, 1], got %v", r.Name, r.YieldFactor)
	}
	if r.YieldQty == 0 {
		r.YieldQty = 1
	}
	if r.YieldQty < 0 {
		return eris.Errorf("recipe %s: yield_qty must be positive, got %v", r.Name, r.YieldQty)
	}
	if r.YieldUOM == "" {
		r.YieldUOM = "each"
	}
	if r.MenuPrice < 0 {
		return eris.Errorf("recipe %s: menu_price must not be negative", r.Name)
	}
	for i := range r.Lines {
		l := &r.Lines[i]
		l.Position = i + 1
		l.Ref = strings.Join(strings.Fields(l.Ref), " ")
		switch LineKind(strings.ToUpper(string(l.Kind))) {
		case "", LineIngredient:
			l.Kind = LineIngredient
		case LineSubRecipe:
			l.Kind = LineSubRecipe
		default:
			return eris.Errorf("recipe %s line %d: unknown kind %q", r.Name, l.Position, l.Kind)
		}
		if l.Ref == "" {
			return eris.Errorf("recipe %s line %d: ref is required", r.Name, l.Position)
		}
		if l.Qty <= 0 {
			return eris.Errorf("recipe %s line %d: qty must be positive", r.Name, l.Position)
		}
		if l.Kind == LineSubRecipe && strings.EqualFold(l.Ref, r.Name) {
			return eris.Errorf("recipe %s line %d: recipe references itself", r.Name, l.Position)
		}
	}
	return nil
}

// SubRecipes returns the names referenced by sub-recipe lines.
func (r *Recipe) SubRecipes() []string {
	var out []string
	for _, l := range r.Lines {
		if l.Kind == LineSubRecipe {
			out = append(out, l.Ref)
		}
	}
	return out
}
