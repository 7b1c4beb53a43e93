package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// ErrNotFound is returned by Get/Delete style lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// ExceptionFilter specifies criteria for listing exceptions.
type ExceptionFilter struct {
	Type            model.ExceptionType `json:"type,omitempty"`
	IncludeResolved bool                `json:"include_resolved,omitempty"`
	Limit           int                 `json:"limit,omitempty"`
}

// ChangelogFilter specifies criteria for listing changelog entries.
type ChangelogFilter struct {
	Action string    `json:"action,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// CostUpdate carries the cached cost fields of an ingredient.
type CostUpdate struct {
	PerOz     *float64
	PerEach   *float64
	Unit      units.Unit
	UpdatedAt time.Time
}

// CatalogReader looks up catalog records by their unique key.
type CatalogReader interface {
	// FindCatalogItem returns nil, nil when no record matches.
	FindCatalogItem(ctx context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error)
}

// Batch is the write surface of one atomic ingestion batch.
type Batch interface {
	CatalogReader
	EnsureVendor(ctx context.Context, name string) (*model.Vendor, error)
	UpsertCatalogItem(ctx context.Context, item *model.CatalogItem) (model.UpsertOutcome, error)
	RecordException(ctx context.Context, ex *model.Exception) error
	RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error
}

// CatalogStore is the read side of vendor catalogs.
type CatalogStore interface {
	CatalogReader
	// LatestCatalogItem returns the most recent record for a vendor item by
	// price_date, or nil, nil when none exists.
	LatestCatalogItem(ctx context.Context, vendor, itemNumber string) (*model.CatalogItem, error)
	// QueryByAlias returns every record whose normalized description
	// contains at least one of the normalized alias keys.
	QueryByAlias(ctx context.Context, aliasKeys []string) ([]model.CatalogItem, error)
	ListVendors(ctx context.Context) ([]model.Vendor, error)
}

// IngredientStore persists ingredients. UpdateIngredientCost is the only
// writer of the cached cost fields.
type IngredientStore interface {
	GetIngredient(ctx context.Context, name string) (*model.Ingredient, error)
	ListIngredients(ctx context.Context) ([]model.Ingredient, error)
	SaveIngredient(ctx context.Context, ing *model.Ingredient) error
	DeleteIngredient(ctx context.Context, name string) error
	UpdateIngredientCost(ctx context.Context, name string, cost CostUpdate) error
}

// RecipeStore persists recipes; deleting a recipe removes its lines.
type RecipeStore interface {
	GetRecipe(ctx context.Context, name string) (*model.Recipe, error)
	ListRecipes(ctx context.Context) ([]model.Recipe, error)
	SaveRecipe(ctx context.Context, r *model.Recipe) error
	DeleteRecipe(ctx context.Context, name string) error
}

// AuditStore holds the append-only exception and changelog sinks.
type AuditStore interface {
	RecordException(ctx context.Context, ex *model.Exception) error
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]model.Exception, error)
	ResolveException(ctx context.Context, id string) error
	RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error
	ListChangelog(ctx context.Context, filter ChangelogFilter) ([]model.ChangelogEntry, error)
}

// InventoryStore persists stock counts.
type InventoryStore interface {
	SaveCount(ctx context.Context, count *model.InventoryCount) error
	LatestCount(ctx context.Context) (*model.InventoryCount, error)
}

// Store defines the persistence interface for the kitchen back office.
type Store interface {
	CatalogStore
	IngredientStore
	RecipeStore
	AuditStore
	InventoryStore

	// WithinBatch runs fn against an atomic batch. If fn returns an error
	// nothing it wrote is kept.
	WithinBatch(ctx context.Context, fn func(Batch) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// limitOrDefault caps list queries.
func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
