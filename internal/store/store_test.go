package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/units"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestMemory(t *testing.T) Store {
	t.Helper()
	return NewMemory()
}

var day1 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func sampleItem(vendor, number, desc string, date time.Time, costPerOz float64) *model.CatalogItem {
	return &model.CatalogItem{
		Vendor:      vendor,
		ItemNumber:  number,
		Description: desc,
		PackSizeRaw: "4/1 GAL",
		PackCount:   4,
		UnitQty:     1,
		UnitUOM:     units.Gallon,
		Dimension:   units.Volume,
		CaseTotalOz: model.Float(512),
		Price:       costPerOz * 512,
		PriceDate:   date,
		CostPerOz:   model.Float(costPerOz),
		SearchKey:   model.SearchKey(desc),
	}
}

func upsert(t *testing.T, s Store, item *model.CatalogItem) model.UpsertOutcome {
	t.Helper()
	var out model.UpsertOutcome
	err := s.WithinBatch(context.Background(), func(b Batch) error {
		if _, err := b.EnsureVendor(context.Background(), item.Vendor); err != nil {
			return err
		}
		var err error
		out, err = b.UpsertCatalogItem(context.Background(), item)
		return err
	})
	require.NoError(t, err)
	return out
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertCreatesThenUpdates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := sampleItem("Sysco", "1001", "Canola Oil Clear", day1, 0.05)
		assert.Equal(t, model.OutcomeCreated, upsert(t, s, first))
		assert.NotEmpty(t, first.ID)

		again := sampleItem("SYSCO", "1001", "Canola Oil Clear", day1, 0.06)
		assert.Equal(t, model.OutcomeUpdated, upsert(t, s, again))
		assert.Equal(t, first.ID, again.ID)

		got, err := s.FindCatalogItem(ctx, "sysco", "1001", day1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.InDelta(t, 0.06, *got.CostPerOz, 1e-9)
		assert.Nil(t, got.CostPerEach)
		assert.Equal(t, units.Gallon, got.UnitUOM)
		assert.Equal(t, units.Volume, got.Dimension)
		assert.True(t, got.PriceDate.Equal(day1))

		vendors, err := s.ListVendors(ctx)
		require.NoError(t, err)
		require.Len(t, vendors, 1)
		assert.Equal(t, "Sysco", vendors[0].Name)
	})

	t.Run("FindMissing", func(t *testing.T) {
		s := newStore(t)
		got, err := s.FindCatalogItem(context.Background(), "nobody", "1", day1)
		require.NoError(t, err)
		assert.Nil(t, got)

		latest, err := s.LatestCatalogItem(context.Background(), "nobody", "1")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("LatestCatalogItem", func(t *testing.T) {
		s := newStore(t)
		upsert(t, s, sampleItem("PFG", "7", "Flour AP", day1, 0.02))
		upsert(t, s, sampleItem("PFG", "7", "Flour AP", day1.AddDate(0, 0, 14), 0.03))
		upsert(t, s, sampleItem("PFG", "7", "Flour AP", day1.AddDate(0, 0, 7), 0.025))

		latest, err := s.LatestCatalogItem(context.Background(), "pfg", "7")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.PriceDate.Equal(day1.AddDate(0, 0, 14)))
		assert.InDelta(t, 0.03, *latest.CostPerOz, 1e-9)
	})

	t.Run("QueryByAlias", func(t *testing.T) {
		s := newStore(t)
		upsert(t, s, sampleItem("A", "1", "Tomato Roma 25 lb", day1, 0.08))
		upsert(t, s, sampleItem("B", "2", "ROMA TOMATOES", day1, 0.10))
		upsert(t, s, sampleItem("B", "3", "Onion Yellow", day1, 0.01))

		items, err := s.QueryByAlias(context.Background(), []string{"roma"})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "A", items[0].Vendor)
		assert.Equal(t, "B", items[1].Vendor)

		items, err = s.QueryByAlias(context.Background(), []string{"onion", "shallot"})
		require.NoError(t, err)
		require.Len(t, items, 1)

		items, err = s.QueryByAlias(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("QueryByAliasWholeWords", func(t *testing.T) {
		s := newStore(t)
		upsert(t, s, sampleItem("A", "1", "Butter Unsalted", day1, 0.01))
		upsert(t, s, sampleItem("A", "2", "Kosher Salt", day1, 0.02))
		upsert(t, s, sampleItem("B", "3", "Salt", day1, 0.03))

		items, err := s.QueryByAlias(context.Background(), []string{"salt"})
		require.NoError(t, err)
		require.Len(t, items, 2)
		for _, it := range items {
			assert.NotEqual(t, "Butter Unsalted", it.Description)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithinBatch(ctx, func(b Batch) error {
			if _, err := b.EnsureVendor(ctx, "Sysco"); err != nil {
				return err
			}
			if _, err := b.UpsertCatalogItem(ctx, sampleItem("Sysco", "1", "Salt", day1, 0.01)); err != nil {
				return err
			}
			if err := b.RecordException(ctx, &model.Exception{Type: model.ExceptionMissingField, Context: map[string]any{"row": 2}}); err != nil {
				return err
			}
			if err := b.RecordChangelog(ctx, &model.ChangelogEntry{Actor: "test", Action: model.ActionCatalogImport}); err != nil {
				return err
			}
			// the batch sees its own writes
			got, err := b.FindCatalogItem(ctx, "Sysco", "1", day1)
			if err != nil {
				return err
			}
			if got == nil {
				return errors.New("own write not visible")
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.FindCatalogItem(ctx, "Sysco", "1", day1)
		require.NoError(t, err)
		assert.Nil(t, got)

		vendors, err := s.ListVendors(ctx)
		require.NoError(t, err)
		assert.Empty(t, vendors)

		exs, err := s.ListExceptions(ctx, ExceptionFilter{IncludeResolved: true})
		require.NoError(t, err)
		assert.Empty(t, exs)

		log, err := s.ListChangelog(ctx, ChangelogFilter{})
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("Ingredients", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ing := &model.Ingredient{
			Name:      "Roma Tomato",
			Aliases:   []string{"roma", "tomato roma"},
			Mode:      model.LockModeCheapest,
			CostBasis: model.BasisOz,
		}
		require.NoError(t, s.SaveIngredient(ctx, ing))
		assert.NotEmpty(t, ing.ID)

		got, err := s.GetIngredient(ctx, "roma tomato")
		require.NoError(t, err)
		assert.Equal(t, ing.ID, got.ID)
		assert.Equal(t, []string{"roma", "tomato roma"}, got.Aliases)
		assert.Nil(t, got.LastCostPerOz)

		at := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpdateIngredientCost(ctx, "Roma Tomato", CostUpdate{
			PerOz: model.Float(0.08), Unit: units.Ounce, UpdatedAt: at,
		}))

		// re-saving the definition keeps the cached cost
		ing.Aliases = []string{"roma"}
		require.NoError(t, s.SaveIngredient(ctx, ing))

		got, err = s.GetIngredient(ctx, "Roma Tomato")
		require.NoError(t, err)
		require.NotNil(t, got.LastCostPerOz)
		assert.InDelta(t, 0.08, *got.LastCostPerOz, 1e-9)
		assert.Equal(t, units.Ounce, got.LastCostUnit)
		require.NotNil(t, got.LastUpdated)
		assert.True(t, got.LastUpdated.Equal(at))
		assert.Equal(t, []string{"roma"}, got.Aliases)

		require.NoError(t, s.SaveIngredient(ctx, &model.Ingredient{Name: "Basil", Mode: model.LockModeCheapest, CostBasis: model.BasisOz}))
		list, err := s.ListIngredients(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Basil", list[0].Name)
		assert.Equal(t, []string{"roma"}, list[1].Aliases)

		require.NoError(t, s.DeleteIngredient(ctx, "roma tomato"))
		_, err = s.GetIngredient(ctx, "Roma Tomato")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.DeleteIngredient(ctx, "Roma Tomato"), ErrNotFound))
		assert.True(t, errors.Is(s.UpdateIngredientCost(ctx, "ghost", CostUpdate{UpdatedAt: at}), ErrNotFound))
	})

	t.Run("Recipes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := &model.Recipe{
			Name:        "Marinara",
			MenuPrice:   12,
			YieldFactor: 0.9,
			YieldQty:    8,
			YieldUOM:    "portion",
			Lines: []model.RecipeLine{
				{Kind: model.LineIngredient, Ref: "Roma Tomato", Qty: 2, UOM: "lb"},
				{Kind: model.LineSubRecipe, Ref: "Garlic Confit", Qty: 1, UOM: "each"},
			},
		}
		require.NoError(t, s.SaveRecipe(ctx, r))

		got, err := s.GetRecipe(ctx, "marinara")
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.InDelta(t, 0.9, got.YieldFactor, 1e-12)
		assert.InDelta(t, 8, got.YieldQty, 1e-12)
		require.Len(t, got.Lines, 2)
		assert.Equal(t, 1, got.Lines[0].Position)
		assert.Equal(t, model.LineSubRecipe, got.Lines[1].Kind)
		assert.Equal(t, "Garlic Confit", got.Lines[1].Ref)

		r.Lines = r.Lines[:1]
		require.NoError(t, s.SaveRecipe(ctx, r))
		got, err = s.GetRecipe(ctx, "Marinara")
		require.NoError(t, err)
		assert.Len(t, got.Lines, 1)

		list, err := s.ListRecipes(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, s.DeleteRecipe(ctx, "Marinara"))
		_, err = s.GetRecipe(ctx, "Marinara")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.DeleteRecipe(ctx, "Marinara"), ErrNotFound))
	})

	t.Run("Exceptions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Exception{Type: model.ExceptionUnparseablePack, Context: map[string]any{"row": float64(2), "pack_size": "??"}}
		b := &model.Exception{Type: model.ExceptionMissingField, Context: map[string]any{"row": float64(3)}}
		require.NoError(t, s.RecordException(ctx, a))
		require.NoError(t, s.RecordException(ctx, b))

		all, err := s.ListExceptions(ctx, ExceptionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)

		packs, err := s.ListExceptions(ctx, ExceptionFilter{Type: model.ExceptionUnparseablePack})
		require.NoError(t, err)
		require.Len(t, packs, 1)
		assert.Equal(t, "??", packs[0].Context["pack_size"])

		require.NoError(t, s.ResolveException(ctx, a.ID))
		open, err := s.ListExceptions(ctx, ExceptionFilter{})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, b.ID, open[0].ID)

		withResolved, err := s.ListExceptions(ctx, ExceptionFilter{IncludeResolved: true})
		require.NoError(t, err)
		assert.Len(t, withResolved, 2)

		assert.True(t, errors.Is(s.ResolveException(ctx, "missing"), ErrNotFound))
	})

	t.Run("Changelog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.RecordChangelog(ctx, &model.ChangelogEntry{
			Actor: "cli", Action: model.ActionRecipeSaved, Details: map[string]any{"recipe": "Marinara"},
			Timestamp: day1,
		}))
		require.NoError(t, s.RecordChangelog(ctx, &model.ChangelogEntry{
			Actor: "cli", Action: model.ActionCatalogImport, Timestamp: day1.Add(time.Hour),
		}))

		all, err := s.ListChangelog(ctx, ChangelogFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, model.ActionCatalogImport, all[0].Action)
		assert.Equal(t, "Marinara", all[1].Details["recipe"])

		saved, err := s.ListChangelog(ctx, ChangelogFilter{Action: model.ActionRecipeSaved})
		require.NoError(t, err)
		assert.Len(t, saved, 1)

		limited, err := s.ListChangelog(ctx, ChangelogFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("InventoryCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		none, err := s.LatestCount(ctx)
		require.NoError(t, err)
		assert.Nil(t, none)

		require.NoError(t, s.SaveCount(ctx, &model.InventoryCount{
			TakenAt: day1,
			Lines:   []model.CountLine{{Ingredient: "Flour", Qty: 10, UOM: "lb", Par: 50}},
		}))
		require.NoError(t, s.SaveCount(ctx, &model.InventoryCount{
			TakenAt:   day1.AddDate(0, 0, 7),
			CountedBy: "sam",
			Lines: []model.CountLine{
				{Ingredient: "Flour", Qty: 20, UOM: "lb", Par: 50},
				{Ingredient: "Eggs", Qty: 3, UOM: "dozen"},
			},
		}))

		latest, err := s.LatestCount(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "sam", latest.CountedBy)
		require.Len(t, latest.Lines, 2)
		assert.Equal(t, "Flour", latest.Lines[0].Ingredient)
		assert.InDelta(t, 50, latest.Lines[0].Par, 1e-12)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTestSuite(t, newTestMemory)
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
