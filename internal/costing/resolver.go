// Package costing resolves ingredient unit costs from vendor catalogs and
// rolls them up into recipe costs.
package costing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// ResolverStore is the persistence the resolver reads catalogs from and
// writes cached costs to.
type ResolverStore interface {
	store.CatalogStore
	store.IngredientStore
	RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error
}

// Cost is an ingredient's resolved unit cost. Exactly one of PerOz and
// PerEach is set; Unit names the unit the value is per.
type Cost struct {
	PerOz   *float64           `json:"per_oz,omitempty"`
	PerEach *float64           `json:"per_each,omitempty"`
	Unit    units.Unit         `json:"unit"`
	Source  *model.CatalogItem `json:"source"`
}

// Value returns the populated unit cost.
func (c *Cost) Value() float64 {
	if c.PerEach != nil {
		return *c.PerEach
	}
	if c.PerOz != nil {
		return *c.PerOz
	}
	return 0
}

// Resolver prices ingredients according to their lock mode.
type Resolver struct {
	store ResolverStore
	now   func() time.Time
	actor string
}

// NewResolver creates a Resolver over st.
func NewResolver(st ResolverStore) *Resolver {
	return &Resolver{store: st, now: time.Now, actor: "costing"}
}

// WithClock overrides the timestamp source for cached costs.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// ResolveByName loads an ingredient and resolves its cost.
func (r *Resolver) ResolveByName(ctx context.Context, name string) (*model.Ingredient, *Cost, error) {
	ing, err := r.store.GetIngredient(ctx, name)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "costing: load ingredient %s", name)
	}
	cost, err := r.ResolveCost(ctx, ing)
	return ing, cost, err
}

// ResolveCost finds the ingredient's current cost and refreshes its cached
// cost fields. CHEAPEST candidates are ranked within the dimension of the
// previously cached cost, when there is one.
func (r *Resolver) ResolveCost(ctx context.Context, ing *model.Ingredient) (*Cost, error) {
	return r.ResolveCostIn(ctx, ing, cachedDimension(ing))
}

// ResolveCostIn is ResolveCost with an explicit dimension preference. CHEAPEST
// only compares candidates priced in prefer when any exist. If none do and
// the ingredient was last priced in prefer, the catalog has moved out from
// under it and the result is a *NoPriceDataError. An empty prefer ranks every
// candidate.
func (r *Resolver) ResolveCostIn(ctx context.Context, ing *model.Ingredient, prefer units.Dimension) (*Cost, error) {
	var (
		item *model.CatalogItem
		err  error
	)
	switch ing.Mode {
	case model.LockModeLock:
		item, err = r.locked(ctx, ing)
	default:
		item, err = r.cheapest(ctx, ing, prefer)
	}
	if err != nil {
		return nil, err
	}

	value, unit, _ := item.UnitCost()
	cost := &Cost{Unit: unit, Source: item}
	if unit == units.Each {
		cost.PerEach = model.Float(value)
	} else {
		cost.PerOz = model.Float(value)
	}

	if err := r.cache(ctx, ing, cost); err != nil {
		return nil, err
	}
	return cost, nil
}

func (r *Resolver) locked(ctx context.Context, ing *model.Ingredient) (*model.CatalogItem, error) {
	item, err := r.store.LatestCatalogItem(ctx, ing.LockedVendor, ing.LockedItemNumber)
	if err != nil {
		return nil, eris.Wrapf(err, "costing: latest item for %s", ing.Name)
	}
	if item == nil {
		return nil, &NoPriceDataError{
			Ingredient: ing.Name,
			Reason:     "locked item " + ing.LockedVendor + "/" + ing.LockedItemNumber + " has no catalog record",
		}
	}
	if _, _, ok := item.UnitCost(); !ok {
		return nil, &NoPriceDataError{Ingredient: ing.Name, Reason: "locked item has no unit cost"}
	}
	return item, nil
}

type itemKey struct {
	vendor string
	number string
}

func (r *Resolver) cheapest(ctx context.Context, ing *model.Ingredient, prefer units.Dimension) (*model.CatalogItem, error) {
	terms := ing.MatchTerms()
	if len(terms) == 0 {
		return nil, &NoPriceDataError{Ingredient: ing.Name, Reason: "ingredient has no name or aliases to match"}
	}
	items, err := r.store.QueryByAlias(ctx, terms)
	if err != nil {
		return nil, eris.Wrapf(err, "costing: query catalog for %s", ing.Name)
	}

	latest := make(map[itemKey]model.CatalogItem)
	for _, it := range items {
		if !matches(it.SearchKey, terms) {
			continue
		}
		k := itemKey{vendor: model.VendorKey(it.Vendor), number: it.ItemNumber}
		if prev, ok := latest[k]; !ok || it.PriceDate.After(prev.PriceDate) {
			latest[k] = it
		}
	}

	var candidates []model.CatalogItem
	for _, it := range latest {
		if basisCost(it, ing.CostBasis) != nil {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		reason := "no catalog item matches its aliases"
		if len(latest) > 0 {
			reason = "no matching catalog item is priced per " + string(ing.CostBasis)
		}
		return nil, &NoPriceDataError{Ingredient: ing.Name, Reason: reason}
	}
	if prefer != "" && ing.CostBasis != model.BasisEach {
		inDim := candidates[:0:0]
		for _, it := range candidates {
			if it.Dimension == prefer {
				inDim = append(inDim, it)
			}
		}
		switch {
		case len(inDim) > 0:
			candidates = inDim
		case cachedDimension(ing) == prefer:
			return nil, &NoPriceDataError{
				Ingredient: ing.Name,
				Reason:     "no matching catalog item is priced by " + string(prefer),
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ca, cb := *basisCost(a, ing.CostBasis), *basisCost(b, ing.CostBasis)
		if ca != cb {
			return ca < cb
		}
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		return a.ItemNumber < b.ItemNumber
	})
	best := candidates[0]
	return &best, nil
}

func matches(descKey string, terms []string) bool {
	for _, t := range terms {
		if model.MatchText(descKey, t) != model.MatchNone {
			return true
		}
	}
	return false
}

// cachedDimension returns the dimension of the ingredient's cached cost unit,
// or "" when it has never been priced.
func cachedDimension(ing *model.Ingredient) units.Dimension {
	if ing.LastCostUnit == "" {
		return ""
	}
	dim, err := units.DimensionOf(ing.LastCostUnit)
	if err != nil {
		return ""
	}
	return dim
}

func basisCost(it model.CatalogItem, basis model.CostBasis) *float64 {
	if basis == model.BasisEach {
		return it.CostPerEach
	}
	return it.CostPerOz
}

// cache writes the resolved cost to the ingredient and logs a changelog
// entry when the cached value moved.
func (r *Resolver) cache(ctx context.Context, ing *model.Ingredient, cost *Cost) error {
	changed := !sameCost(ing.LastCostPerOz, cost.PerOz) || !sameCost(ing.LastCostPerEach, cost.PerEach) ||
		ing.LastCostUnit != cost.Unit
	now := r.now().UTC()

	if err := r.store.UpdateIngredientCost(ctx, ing.Name, store.CostUpdate{
		PerOz:     cost.PerOz,
		PerEach:   cost.PerEach,
		Unit:      cost.Unit,
		UpdatedAt: now,
	}); err != nil {
		return eris.Wrapf(err, "costing: cache cost for %s", ing.Name)
	}

	prevOz, prevEach := ing.LastCostPerOz, ing.LastCostPerEach
	ing.LastCostPerOz, ing.LastCostPerEach, ing.LastCostUnit, ing.LastUpdated = cost.PerOz, cost.PerEach, cost.Unit, &now
	if !changed {
		return nil
	}

	details := map[string]any{
		"ingredient":  ing.Name,
		"unit":        string(cost.Unit),
		"cost":        cost.Value(),
		"vendor":      cost.Source.Vendor,
		"item_number": cost.Source.ItemNumber,
		"price_date":  cost.Source.PriceDate.Format(model.DateLayout),
	}
	if prev := firstSet(prevOz, prevEach); prev != nil {
		details["previous_cost"] = *prev
	}
	if err := r.store.RecordChangelog(ctx, &model.ChangelogEntry{
		Timestamp: now,
		Actor:     r.actor,
		Action:    model.ActionIngredientCostUpdate,
		Details:   details,
	}); err != nil {
		return eris.Wrapf(err, "costing: record cost change for %s", ing.Name)
	}
	zap.L().Debug("ingredient cost updated",
		zap.String("ingredient", ing.Name),
		zap.Float64("cost", cost.Value()),
		zap.String("unit", string(cost.Unit)),
	)
	return nil
}

func sameCost(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func firstSet(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// RefreshForItems re-resolves every ingredient whose lock target or aliases
// match one of items. It returns the names that were refreshed. Ingredients
// that can no longer be priced are skipped.
func (r *Resolver) RefreshForItems(ctx context.Context, items []model.CatalogItem) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ings, err := r.store.ListIngredients(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "costing: list ingredients")
	}

	var refreshed []string
	for i := range ings {
		ing := &ings[i]
		if !affectedBy(ing, items) {
			continue
		}
		if _, err := r.ResolveCost(ctx, ing); err != nil {
			var npd *NoPriceDataError
			if errors.As(err, &npd) {
				zap.L().Warn("ingredient not priced after import", zap.String("ingredient", ing.Name), zap.Error(err))
				continue
			}
			return refreshed, err
		}
		refreshed = append(refreshed, ing.Name)
	}
	return refreshed, nil
}

func affectedBy(ing *model.Ingredient, items []model.CatalogItem) bool {
	terms := ing.MatchTerms()
	for _, it := range items {
		if ing.Mode == model.LockModeLock {
			if model.VendorKey(it.Vendor) == model.VendorKey(ing.LockedVendor) && it.ItemNumber == ing.LockedItemNumber {
				return true
			}
			continue
		}
		if matches(it.SearchKey, terms) {
			return true
		}
	}
	return false
}
