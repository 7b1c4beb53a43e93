package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/model"
)

// MemoryStore implements Store in process memory. Batches run against a
// cloned state which replaces the live state only when the batch succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
	now   func() time.Time
}

type memState struct {
	vendors     map[string]model.Vendor
	catalog     map[model.CatalogKey]model.CatalogItem
	ingredients map[string]model.Ingredient
	recipes     map[string]model.Recipe
	exceptions  []model.Exception
	changelog   []model.ChangelogEntry
	counts      []model.InventoryCount
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		state: memState{
			vendors:     map[string]model.Vendor{},
			catalog:     map[model.CatalogKey]model.CatalogItem{},
			ingredients: map[string]model.Ingredient{},
			recipes:     map[string]model.Recipe{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (st memState) clone() memState {
	c := memState{
		vendors:     make(map[string]model.Vendor, len(st.vendors)),
		catalog:     make(map[model.CatalogKey]model.CatalogItem, len(st.catalog)),
		ingredients: make(map[string]model.Ingredient, len(st.ingredients)),
		recipes:     make(map[string]model.Recipe, len(st.recipes)),
		exceptions:  append([]model.Exception(nil), st.exceptions...),
		changelog:   append([]model.ChangelogEntry(nil), st.changelog...),
		counts:      append([]model.InventoryCount(nil), st.counts...),
	}
	for k, v := range st.vendors {
		c.vendors[k] = v
	}
	for k, v := range st.catalog {
		c.catalog[k] = v
	}
	for k, v := range st.ingredients {
		c.ingredients[k] = v
	}
	for k, v := range st.recipes {
		c.recipes[k] = v
	}
	return c
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func cloneIngredient(i model.Ingredient) model.Ingredient {
	i.Aliases = append([]string(nil), i.Aliases...)
	return i
}

func cloneRecipe(r model.Recipe) model.Recipe {
	r.Lines = append([]model.RecipeLine(nil), r.Lines...)
	return r
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// WithinBatch serializes batches and applies fn's writes only on success.
func (s *MemoryStore) WithinBatch(ctx context.Context, fn func(Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &memBatch{state: s.state.clone(), now: s.now}
	if err := fn(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "memory: batch")
	}
	s.state = b.state
	return nil
}

// memBatch operates on a private copy of the store state.
type memBatch struct {
	state memState
	now   func() time.Time
}

func (b *memBatch) FindCatalogItem(_ context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	return findCatalog(&b.state, vendor, itemNumber, priceDate), nil
}

func (b *memBatch) EnsureVendor(_ context.Context, name string) (*model.Vendor, error) {
	key := model.VendorKey(name)
	if key == "" {
		return nil, eris.New("memory: vendor name is empty")
	}
	if v, ok := b.state.vendors[key]; ok {
		return &v, nil
	}
	v := model.Vendor{ID: uuid.New().String(), Name: model.NormalizeVendor(name), CreatedAt: b.now()}
	b.state.vendors[key] = v
	return &v, nil
}

func (b *memBatch) UpsertCatalogItem(_ context.Context, item *model.CatalogItem) (model.UpsertOutcome, error) {
	key := item.Key()
	now := b.now()
	item.UpdatedAt = now
	outcome := model.OutcomeCreated
	if prev, ok := b.state.catalog[key]; ok {
		item.ID = prev.ID
		item.CreatedAt = prev.CreatedAt
		outcome = model.OutcomeUpdated
	} else {
		item.ID = uuid.New().String()
		item.CreatedAt = now
	}
	b.state.catalog[key] = *item
	return outcome, nil
}

func (b *memBatch) RecordException(_ context.Context, ex *model.Exception) error {
	recordException(&b.state, ex, b.now())
	return nil
}

func (b *memBatch) RecordChangelog(_ context.Context, entry *model.ChangelogEntry) error {
	recordChangelog(&b.state, entry, b.now())
	return nil
}

func findCatalog(st *memState, vendor, itemNumber string, priceDate time.Time) *model.CatalogItem {
	key := model.CatalogKey{
		Vendor:     model.VendorKey(vendor),
		ItemNumber: strings.TrimSpace(itemNumber),
		PriceDate:  priceDate.Format(model.DateLayout),
	}
	item, ok := st.catalog[key]
	if !ok {
		return nil
	}
	return &item
}

func recordException(st *memState, ex *model.Exception, now time.Time) {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	st.exceptions = append(st.exceptions, *ex)
}

func recordChangelog(st *memState, entry *model.ChangelogEntry, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	st.changelog = append(st.changelog, *entry)
}

// --- Catalog ---

func (s *MemoryStore) FindCatalogItem(_ context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCatalog(&s.state, vendor, itemNumber, priceDate), nil
}

func (s *MemoryStore) LatestCatalogItem(_ context.Context, vendor, itemNumber string) (*model.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vk, num := model.VendorKey(vendor), strings.TrimSpace(itemNumber)
	var latest *model.CatalogItem
	for k, item := range s.state.catalog {
		if k.Vendor != vk || k.ItemNumber != num {
			continue
		}
		if latest == nil || item.PriceDate.After(latest.PriceDate) {
			it := item
			latest = &it
		}
	}
	return latest, nil
}

func (s *MemoryStore) QueryByAlias(_ context.Context, aliasKeys []string) ([]model.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CatalogItem
	for _, item := range s.state.catalog {
		for _, a := range aliasKeys {
			if model.MatchText(item.SearchKey, a) != model.MatchNone {
				out = append(out, item)
				break
			}
		}
	}
	sortCatalog(out)
	return out, nil
}

func (s *MemoryStore) ListVendors(context.Context) ([]model.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Vendor, 0, len(s.state.vendors))
	for _, v := range s.state.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sortCatalog(items []model.CatalogItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.ItemNumber != b.ItemNumber {
			return a.ItemNumber < b.ItemNumber
		}
		return a.PriceDate.Before(b.PriceDate)
	})
}

// --- Ingredients ---

func (s *MemoryStore) GetIngredient(_ context.Context, name string) (*model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ing, ok := s.state.ingredients[nameKey(name)]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	ing = cloneIngredient(ing)
	return &ing, nil
}

func (s *MemoryStore) ListIngredients(context.Context) ([]model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Ingredient, 0, len(s.state.ingredients))
	for _, ing := range s.state.ingredients {
		out = append(out, cloneIngredient(ing))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveIngredient inserts or replaces an ingredient definition. Cached cost
// fields of an existing ingredient are kept.
func (s *MemoryStore) SaveIngredient(_ context.Context, ing *model.Ingredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(ing.Name)
	if prev, ok := s.state.ingredients[key]; ok {
		ing.ID = prev.ID
		ing.LastCostPerOz, ing.LastCostPerEach = prev.LastCostPerOz, prev.LastCostPerEach
		ing.LastCostUnit, ing.LastUpdated = prev.LastCostUnit, prev.LastUpdated
	} else if ing.ID == "" {
		ing.ID = uuid.New().String()
	}
	s.state.ingredients[key] = cloneIngredient(*ing)
	return nil
}

func (s *MemoryStore) DeleteIngredient(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(name)
	if _, ok := s.state.ingredients[key]; !ok {
		return eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	delete(s.state.ingredients, key)
	return nil
}

func (s *MemoryStore) UpdateIngredientCost(_ context.Context, name string, cost CostUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(name)
	ing, ok := s.state.ingredients[key]
	if !ok {
		return eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	at := cost.UpdatedAt
	ing.LastCostPerOz, ing.LastCostPerEach = cost.PerOz, cost.PerEach
	ing.LastCostUnit, ing.LastUpdated = cost.Unit, &at
	s.state.ingredients[key] = ing
	return nil
}

// --- Recipes ---

func (s *MemoryStore) GetRecipe(_ context.Context, name string) (*model.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.recipes[nameKey(name)]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "recipe %q", name)
	}
	r = cloneRecipe(r)
	return &r, nil
}

func (s *MemoryStore) ListRecipes(context.Context) ([]model.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Recipe, 0, len(s.state.recipes))
	for _, r := range s.state.recipes {
		out = append(out, cloneRecipe(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SaveRecipe(_ context.Context, r *model.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(r.Name)
	now := s.now()
	if prev, ok := s.state.recipes[key]; ok {
		r.ID, r.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	for i := range r.Lines {
		r.Lines[i].Position = i + 1
	}
	s.state.recipes[key] = cloneRecipe(*r)
	return nil
}

func (s *MemoryStore) DeleteRecipe(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(name)
	if _, ok := s.state.recipes[key]; !ok {
		return eris.Wrapf(ErrNotFound, "recipe %q", name)
	}
	delete(s.state.recipes, key)
	return nil
}

// --- Audit ---

func (s *MemoryStore) RecordException(_ context.Context, ex *model.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recordException(&s.state, ex, s.now())
	return nil
}

func (s *MemoryStore) ListExceptions(_ context.Context, filter ExceptionFilter) ([]model.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := limitOrDefault(filter.Limit)
	var out []model.Exception
	for i := len(s.state.exceptions) - 1; i >= 0 && len(out) < limit; i-- {
		ex := s.state.exceptions[i]
		if ex.Resolved && !filter.IncludeResolved {
			continue
		}
		if filter.Type != "" && ex.Type != filter.Type {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *MemoryStore) ResolveException(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.exceptions {
		if s.state.exceptions[i].ID != id {
			continue
		}
		now := s.now()
		s.state.exceptions[i].Resolved = true
		s.state.exceptions[i].ResolvedAt = &now
		return nil
	}
	return eris.Wrapf(ErrNotFound, "exception %s", id)
}

func (s *MemoryStore) RecordChangelog(_ context.Context, entry *model.ChangelogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recordChangelog(&s.state, entry, s.now())
	return nil
}

func (s *MemoryStore) ListChangelog(_ context.Context, filter ChangelogFilter) ([]model.ChangelogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := limitOrDefault(filter.Limit)
	var out []model.ChangelogEntry
	for i := len(s.state.changelog) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.state.changelog[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Inventory ---

func (s *MemoryStore) SaveCount(_ context.Context, count *model.InventoryCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count.ID == "" {
		count.ID = uuid.New().String()
	}
	if count.TakenAt.IsZero() {
		count.TakenAt = s.now()
	}
	c := *count
	c.Lines = append([]model.CountLine(nil), count.Lines...)
	s.state.counts = append(s.state.counts, c)
	return nil
}

func (s *MemoryStore) LatestCount(context.Context) (*model.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.InventoryCount
	for i := range s.state.counts {
		c := s.state.counts[i]
		if latest == nil || !c.TakenAt.Before(latest.TakenAt) {
			latest = &c
		}
	}
	return latest, nil
}
