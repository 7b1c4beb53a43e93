package model

import "time"

// ExceptionType classifies a rejected ingestion row.
type ExceptionType string

const (
	ExceptionMissingField    ExceptionType = "MISSING_FIELD"
	ExceptionUnparseablePack ExceptionType = "UNPARSEABLE_PACK"
	ExceptionInvalidQuantity ExceptionType = "INVALID_QUANTITY"
)

// Exception records an ingestion or validation failure.
type Exception struct {
	ID         string         `json:"id"`
	Type       ExceptionType  `json:"type"`
	Context    map[string]any `json:"context"`
	CreatedAt  time.Time      `json:"created_at"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// ChangelogEntry is an append-only audit record of a mutation.
type ChangelogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// Changelog actions.
const (
	ActionCatalogImport        = "catalog_import"
	ActionPriceDateDefaulted   = "price_date_defaulted"
	ActionIngredientSaved      = "ingredient_saved"
	ActionIngredientDeleted    = "ingredient_deleted"
	ActionIngredientCostUpdate = "ingredient_cost_updated"
	ActionRecipeSaved          = "recipe_saved"
	ActionRecipeDeleted        = "recipe_deleted"
	ActionExceptionResolved    = "exception_resolved"
	ActionInventoryCounted     = "inventory_counted"
)

// InventoryCount is a stock count snapshot.
type InventoryCount struct {
	ID        string      `json:"id"`
	TakenAt   time.Time   `json:"taken_at"`
	CountedBy string      `json:"counted_by,omitempty"`
	Lines     []CountLine `json:"lines"`
}

// CountLine is the on-hand quantity of one ingredient.
type CountLine struct {
	Ingredient string  `json:"ingredient"`
	Qty        float64 `json:"qty"`
	UOM        string  `json:"uom"`
	Par        float64 `json:"par,omitempty"`
}
