package costing

import (
	"fmt"
	"strings"
)

// NoPriceDataError is returned when no catalog record can price an
// ingredient.
type NoPriceDataError struct {
	Ingredient string
	Reason     string
}

func (e *NoPriceDataError) Error() string {
	return fmt.Sprintf("no price data for ingredient %q: %s", e.Ingredient, e.Reason)
}

// CyclicRecipeError is returned when a recipe transitively references itself.
// Path lists the recipes from the first repeated one back to itself.
type CyclicRecipeError struct {
	Path []string
}

func (e *CyclicRecipeError) Error() string {
	return "cyclic recipe: " + strings.Join(e.Path, " -> ")
}

// DepthExceededError is returned when sub-recipe nesting passes the
// configured limit.
type DepthExceededError struct {
	Recipe string
	Limit  int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("recipe %q nests sub-recipes deeper than %d levels", e.Recipe, e.Limit)
}

// InvalidYieldError is returned when a stored recipe carries a yield factor
// outside (0, 1] or a negative yield quantity.
type InvalidYieldError struct {
	Recipe string
	Field  string
	Value  float64
}

func (e *InvalidYieldError) Error() string {
	return fmt.Sprintf("recipe %q has invalid %s %v", e.Recipe, e.Field, e.Value)
}
