// Package units converts quantities between mass, volume, and count units.
package units

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Dimension is the physical class a unit belongs to.
type Dimension string

const (
	Mass   Dimension = "mass"
	Volume Dimension = "volume"
	Count  Dimension = "count"
)

// Unit is a canonical unit token.
type Unit string

const (
	Ounce      Unit = "oz"
	Pound      Unit = "lb"
	Gram       Unit = "g"
	Kilogram   Unit = "kg"
	Milliliter Unit = "ml"
	Liter      Unit = "l"
	FluidOunce Unit = "fl_oz"
	Gallon     Unit = "gal"
	Quart      Unit = "qt"
	Pint       Unit = "pt"
	Cup        Unit = "cup"
	Tablespoon Unit = "tbsp"
	Teaspoon   Unit = "tsp"
	Each       Unit = "each"
	Dozen      Unit = "dozen"
)

type unitDef struct {
	dim Dimension
	// toBase is the exact number of base units (g, ml, each) in one unit.
	toBase *big.Rat
}

func rat(s string) *big.Rat {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic("units: bad factor " + s)
	}
	return r
}

// US customary volume is defined from the US gallon (231 cubic inches =
// 3785.411784 ml exactly); the avoirdupois pound is 453.59237 g exactly.
var table = map[Unit]unitDef{
	Gram:     {Mass, rat("1")},
	Kilogram: {Mass, rat("1000")},
	Ounce:    {Mass, rat("28.349523125")},
	Pound:    {Mass, rat("453.59237")},

	Milliliter: {Volume, rat("1")},
	Liter:      {Volume, rat("1000")},
	Gallon:     {Volume, rat("3785.411784")},
	Quart:      {Volume, rat("946.352946")},
	Pint:       {Volume, rat("473.176473")},
	Cup:        {Volume, rat("236.5882365")},
	FluidOunce: {Volume, rat("29.5735295625")},
	Tablespoon: {Volume, rat("14.78676478125")},
	Teaspoon:   {Volume, rat("4.92892159375")},

	Each:  {Count, rat("1")},
	Dozen: {Count, rat("12")},
}

// aliases maps lower-cased free-text symbols to canonical units.
var aliases = map[string]Unit{
	"oz": Ounce, "ounce": Ounce, "ounces": Ounce, "onz": Ounce, "wt oz": Ounce,
	"lb": Pound, "lbs": Pound, "pound": Pound, "pounds": Pound, "#": Pound,
	"g": Gram, "gr": Gram, "gm": Gram, "gram": Gram, "grams": Gram,
	"kg": Kilogram, "kgs": Kilogram, "kilo": Kilogram, "kilos": Kilogram, "kilogram": Kilogram, "kilograms": Kilogram,

	"ml": Milliliter, "milliliter": Milliliter, "milliliters": Milliliter, "millilitre": Milliliter,
	"l": Liter, "lt": Liter, "ltr": Liter, "liter": Liter, "liters": Liter, "litre": Liter, "litres": Liter,
	"fl oz": FluidOunce, "floz": FluidOunce, "fl. oz": FluidOunce, "fl.oz": FluidOunce, "fl_oz": FluidOunce,
	"fluid ounce": FluidOunce, "fluid ounces": FluidOunce,
	"gal": Gallon, "gals": Gallon, "gallon": Gallon, "gallons": Gallon, "ga": Gallon,
	"qt": Quart, "qts": Quart, "quart": Quart, "quarts": Quart,
	"pt": Pint, "pts": Pint, "pint": Pint, "pints": Pint,
	"cup": Cup, "cups": Cup,
	"tbsp": Tablespoon, "tbs": Tablespoon, "tbl": Tablespoon, "tablespoon": Tablespoon, "tablespoons": Tablespoon,
	"tsp": Teaspoon, "tsps": Teaspoon, "teaspoon": Teaspoon, "teaspoons": Teaspoon,

	"each": Each, "ea": Each, "ct": Each, "cnt": Each, "count": Each, "pc": Each, "pcs": Each,
	"piece": Each, "pieces": Each, "unit": Each, "units": Each,
	"dozen": Dozen, "doz": Dozen, "dz": Dozen,
}

// UnsupportedUnitError is returned when a unit is unknown or a conversion
// crosses dimension classes.
type UnsupportedUnitError struct {
	From   string
	To     string
	Reason string
}

func (e *UnsupportedUnitError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("unsupported unit %q: %s", e.From, e.Reason)
	}
	return fmt.Sprintf("unsupported conversion %q -> %q: %s", e.From, e.To, e.Reason)
}

// Parse normalizes a free-text unit symbol (case-insensitive, trailing dots
// and surrounding whitespace ignored) to its canonical token.
func Parse(symbol string) (Unit, error) {
	key := strings.ToLower(strings.TrimSpace(symbol))
	key = strings.Join(strings.Fields(key), " ")
	if u, ok := aliases[key]; ok {
		return u, nil
	}
	if u, ok := aliases[strings.TrimSuffix(key, ".")]; ok {
		return u, nil
	}
	return "", &UnsupportedUnitError{From: symbol, Reason: "unrecognized unit"}
}

// DimensionOf returns the dimension class of a canonical unit.
func DimensionOf(u Unit) (Dimension, error) {
	def, ok := table[u]
	if !ok {
		return "", &UnsupportedUnitError{From: string(u), Reason: "unrecognized unit"}
	}
	return def.dim, nil
}

// Base returns the unit costs are expressed in for a dimension: ounces for
// mass, fluid ounces for volume, each for count.
func Base(d Dimension) Unit {
	switch d {
	case Mass:
		return Ounce
	case Volume:
		return FluidOunce
	default:
		return Each
	}
}

// Ratio returns the exact factor that converts one `from` into `to` units.
func Ratio(from, to Unit) (*big.Rat, error) {
	f, ok := table[from]
	if !ok {
		return nil, &UnsupportedUnitError{From: string(from), To: string(to), Reason: "unrecognized source unit"}
	}
	t, ok := table[to]
	if !ok {
		return nil, &UnsupportedUnitError{From: string(from), To: string(to), Reason: "unrecognized target unit"}
	}
	if f.dim != t.dim {
		return nil, &UnsupportedUnitError{
			From:   string(from),
			To:     string(to),
			Reason: fmt.Sprintf("%s and %s are different dimensions", f.dim, t.dim),
		}
	}
	return new(big.Rat).Quo(f.toBase, t.toBase), nil
}

// Convert converts value from one unit to another within a dimension.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		if _, ok := table[from]; !ok {
			return 0, &UnsupportedUnitError{From: string(from), To: string(to), Reason: "unrecognized unit"}
		}
		return value, nil
	}
	r, err := Ratio(from, to)
	if err != nil {
		return 0, err
	}
	f, _ := r.Float64()
	return value * f, nil
}

// ToBase converts value into the costing base unit of its dimension.
func ToBase(value float64, from Unit) (float64, Dimension, error) {
	dim, err := DimensionOf(from)
	if err != nil {
		return 0, "", err
	}
	v, err := Convert(value, from, Base(dim))
	return v, dim, err
}

// Known returns all canonical units sorted by name.
func Known() []Unit {
	out := make([]Unit, 0, len(table))
	for u := range table {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
