package costing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

func ing(ref string, qty float64, uom string) model.RecipeLine {
	return model.RecipeLine{Kind: model.LineIngredient, Ref: ref, Qty: qty, UOM: uom}
}

func sub(ref string, qty float64, uom string) model.RecipeLine {
	return model.RecipeLine{Kind: model.LineSubRecipe, Ref: ref, Qty: qty, UOM: uom}
}

func kitchen(t *testing.T) (store.Store, *Engine) {
	t.Helper()
	st := store.NewMemory()
	seed(t, st,
		volumeItem("Vendor A", "100", "Olive Oil Extra Virgin", jul1, 0.08),
		volumeItem("Vendor B", "200", "Olive Oil Pure", jul1, 0.10),
		countItem("Vendor A", "E1", "Eggs Large", jul1, 0.25),
	)
	saveIngredient(t, st, model.Ingredient{Name: "Olive Oil"})
	saveIngredient(t, st, model.Ingredient{Name: "Eggs", CostBasis: model.BasisEach})
	saveIngredient(t, st, model.Ingredient{Name: "Saffron"})
	return st, NewEngine(st, NewResolver(st))
}

func saveRecipe(t *testing.T, st store.Store, r model.Recipe) *model.Recipe {
	t.Helper()
	require.NoError(t, r.Normalize())
	require.NoError(t, st.SaveRecipe(context.Background(), &r))
	return &r
}

func TestCostRecipe_YieldScaling(t *testing.T) {
	st, e := kitchen(t)
	r := saveRecipe(t, st, model.Recipe{
		Name:        "Vinaigrette",
		YieldFactor: 0.8,
		YieldQty:    4,
		YieldUOM:    "portion",
		Lines:       []model.RecipeLine{ing("Olive Oil", 1, "cup")},
	})

	rc, err := e.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	require.Len(t, rc.Lines, 1)
	line := rc.Lines[0]
	require.NotNil(t, line.Cost)
	assert.InDelta(t, 0.64, *line.Cost, 1e-9)
	assert.Equal(t, "fl_oz", line.CostUnit)
	assert.Equal(t, "Vendor A", line.Vendor)

	assert.InDelta(t, 0.64, rc.RawCost, 1e-9)
	assert.InDelta(t, 0.80, rc.TotalCost, 1e-9)
	assert.InDelta(t, 0.20, rc.CostPerServing, 1e-9)
	assert.Nil(t, rc.FoodCostPct)
	assert.Nil(t, rc.Margin)
	assert.False(t, rc.OverTarget)
	assert.True(t, rc.Complete())
}

func TestCostRecipe_SubRecipeAndFoodCost(t *testing.T) {
	st, e := kitchen(t)
	saveRecipe(t, st, model.Recipe{
		Name:        "Vinaigrette",
		YieldFactor: 0.8,
		YieldQty:    4,
		YieldUOM:    "portion",
		Lines:       []model.RecipeLine{ing("Olive Oil", 8, "fl oz")},
	})
	salad := saveRecipe(t, st, model.Recipe{
		Name:      "House Salad",
		MenuPrice: 3,
		Lines: []model.RecipeLine{
			sub("Vinaigrette", 2, "portion"),
			ing("Eggs", 2, "each"),
		},
	})

	rc, err := e.CostRecipe(context.Background(), salad, nil)
	require.NoError(t, err)
	require.Len(t, rc.Lines, 2)
	assert.InDelta(t, 0.40, *rc.Lines[0].Cost, 1e-9)
	assert.InDelta(t, 0.50, *rc.Lines[1].Cost, 1e-9)
	assert.InDelta(t, 0.90, rc.TotalCost, 1e-9)

	require.NotNil(t, rc.FoodCostPct)
	assert.InDelta(t, 0.30, *rc.FoodCostPct, 1e-9)
	require.NotNil(t, rc.Margin)
	assert.InDelta(t, 2.10, *rc.Margin, 1e-9)
	assert.False(t, rc.OverTarget)
}

func TestCostRecipe_OverTarget(t *testing.T) {
	st, e := kitchen(t)
	r := saveRecipe(t, st, model.Recipe{
		Name:      "Deviled Eggs",
		MenuPrice: 1,
		Lines:     []model.RecipeLine{ing("Eggs", 1, "dozen")},
	})

	rc, err := e.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, rc.TotalCost, 1e-9)
	assert.True(t, rc.OverTarget)

	lenient := NewEngine(st, NewResolver(st), WithFoodCostTarget(400))
	rc, err = lenient.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	assert.False(t, rc.OverTarget)
}

func TestCostRecipe_UnpricedLinesWarn(t *testing.T) {
	st, e := kitchen(t)
	r := saveRecipe(t, st, model.Recipe{
		Name: "Paella",
		Lines: []model.RecipeLine{
			ing("Olive Oil", 2, "tbsp"),
			ing("Saffron", 1, "g"),
			ing("Chorizo", 4, "oz"),
			sub("Sofrito", 1, ""),
		},
	})

	rc, err := e.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	require.Len(t, rc.Lines, 4)
	assert.NotNil(t, rc.Lines[0].Cost)
	for _, l := range rc.Lines[1:] {
		assert.Nil(t, l.Cost, l.Ref)
		assert.NotEmpty(t, l.Warning, l.Ref)
	}
	assert.Contains(t, rc.Lines[1].Warning, "no price data")
	assert.Equal(t, "ingredient not found", rc.Lines[2].Warning)
	assert.Equal(t, "sub-recipe not found", rc.Lines[3].Warning)
	assert.False(t, rc.Complete())
	assert.Len(t, rc.Warnings(), 3)
	assert.InDelta(t, 0.08, rc.TotalCost, 1e-9)
}

func TestCostRecipe_UnitMismatchIsAnError(t *testing.T) {
	st, e := kitchen(t)
	r := saveRecipe(t, st, model.Recipe{
		Name:  "Heavy Oil",
		Lines: []model.RecipeLine{ing("Olive Oil", 2, "lb")},
	})

	_, err := e.CostRecipe(context.Background(), r, nil)
	var uerr *units.UnsupportedUnitError
	require.True(t, errors.As(err, &uerr), "got %v", err)
}

func TestCostRecipe_WeightPricedUploadKeepsVolumeLines(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, volumeItem("Vendor A", "100", "Olive Oil", jul1, 0.10))
	saveIngredient(t, st, model.Ingredient{Name: "Olive Oil"})
	e := NewEngine(st, NewResolver(st))
	saveRecipe(t, st, model.Recipe{
		Name:  "Dressing",
		Lines: []model.RecipeLine{ing("Olive Oil", 2, "fl oz")},
	})

	rc, err := e.CostByName(ctx, "Dressing")
	require.NoError(t, err)
	assert.InDelta(t, 0.20, rc.TotalCost, 1e-9)

	seed(t, st, massItem("Vendor B", "200", "Olive Oil Jug", jul1, 0.09))
	rc, err = e.CostByName(ctx, "Dressing")
	require.NoError(t, err)
	assert.InDelta(t, 0.20, rc.TotalCost, 1e-9)
	assert.Equal(t, "Vendor A", rc.Lines[0].Vendor)
	assert.Equal(t, "fl_oz", rc.Lines[0].CostUnit)

	weighed := saveRecipe(t, st, model.Recipe{
		Name:  "Weighed Dressing",
		Lines: []model.RecipeLine{ing("Olive Oil", 4, "oz")},
	})
	rc, err = e.CostRecipe(ctx, weighed, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.36, rc.TotalCost, 1e-9)
	assert.Equal(t, "Vendor B", rc.Lines[0].Vendor)
}

func TestCostRecipe_VolumeItemDroppedFromCatalogWarns(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, massItem("Vendor B", "200", "Olive Oil Jug", jul1, 0.09))
	saveIngredient(t, st, model.Ingredient{Name: "Olive Oil"})
	require.NoError(t, st.UpdateIngredientCost(ctx, "Olive Oil", store.CostUpdate{
		PerOz: model.Float(0.10), Unit: units.FluidOunce, UpdatedAt: jul1,
	}))
	r := saveRecipe(t, st, model.Recipe{
		Name:  "Dressing",
		Lines: []model.RecipeLine{ing("Olive Oil", 2, "fl oz")},
	})

	rc, err := NewEngine(st, NewResolver(st)).CostRecipe(ctx, r, nil)
	require.NoError(t, err)
	assert.Nil(t, rc.Lines[0].Cost)
	assert.Contains(t, rc.Lines[0].Warning, "priced by volume")
	assert.False(t, rc.Complete())
}

func TestCostRecipe_InvalidStoredYield(t *testing.T) {
	_, e := kitchen(t)
	bad := &model.Recipe{Name: "Stock", YieldFactor: 1.5, YieldQty: 1, Lines: []model.RecipeLine{ing("Eggs", 1, "each")}}
	_, err := e.CostRecipe(context.Background(), bad, nil)
	var yerr *InvalidYieldError
	require.True(t, errors.As(err, &yerr), "got %v", err)
	assert.Equal(t, "yield_factor", yerr.Field)

	bad = &model.Recipe{Name: "Stock", YieldFactor: 1, YieldQty: -2}
	_, err = e.CostRecipe(context.Background(), bad, nil)
	require.True(t, errors.As(err, &yerr), "got %v", err)
	assert.Equal(t, "yield_qty", yerr.Field)

	unset := &model.Recipe{Name: "Omelet", Lines: []model.RecipeLine{ing("Eggs", 2, "each")}}
	rc, err := e.CostRecipe(context.Background(), unset, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rc.TotalCost, 1e-9)
}

func TestCostRecipe_SubRecipeUnitConversion(t *testing.T) {
	st, e := kitchen(t)
	saveRecipe(t, st, model.Recipe{
		Name:     "Aioli",
		YieldQty: 1,
		YieldUOM: "qt",
		Lines:    []model.RecipeLine{ing("Eggs", 4, "each")},
	})
	r := saveRecipe(t, st, model.Recipe{
		Name:  "Fries",
		Lines: []model.RecipeLine{sub("Aioli", 1, "cup")},
	})

	rc, err := e.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rc.TotalCost, 1e-9)

	bad := saveRecipe(t, st, model.Recipe{
		Name:  "Fries Weighed",
		Lines: []model.RecipeLine{sub("Aioli", 1, "lb")},
	})
	_, err = e.CostRecipe(context.Background(), bad, nil)
	var uerr *units.UnsupportedUnitError
	require.True(t, errors.As(err, &uerr), "got %v", err)
}

func TestCostRecipe_Cycle(t *testing.T) {
	ctx := context.Background()
	st, e := kitchen(t)
	// Saved straight to the store so graph validation does not reject them.
	saveRecipe(t, st, model.Recipe{Name: "A", Lines: []model.RecipeLine{sub("B", 1, "")}})
	saveRecipe(t, st, model.Recipe{Name: "B", Lines: []model.RecipeLine{sub("A", 1, "")}})

	_, err := e.CostByName(ctx, "A")
	var cyc *CyclicRecipeError
	require.True(t, errors.As(err, &cyc), "got %v", err)
	assert.Equal(t, []string{"A", "B", "A"}, cyc.Path)
}

func TestCostRecipe_VisitingFromCaller(t *testing.T) {
	st, e := kitchen(t)
	r := saveRecipe(t, st, model.Recipe{Name: "Vinaigrette", Lines: []model.RecipeLine{ing("Olive Oil", 1, "fl oz")}})

	_, err := e.CostRecipe(context.Background(), r, map[string]bool{"vinaigrette": true})
	var cyc *CyclicRecipeError
	require.True(t, errors.As(err, &cyc), "got %v", err)
}

func TestCostRecipe_DepthGuard(t *testing.T) {
	st, _ := kitchen(t)
	saveRecipe(t, st, model.Recipe{Name: "R3", Lines: []model.RecipeLine{ing("Eggs", 1, "each")}})
	for i := 2; i >= 0; i-- {
		saveRecipe(t, st, model.Recipe{
			Name:  fmt.Sprintf("R%d", i),
			Lines: []model.RecipeLine{sub(fmt.Sprintf("R%d", i+1), 1, "")},
		})
	}

	shallow := NewEngine(st, NewResolver(st), WithMaxDepth(2))
	_, err := shallow.CostByName(context.Background(), "R0")
	var depth *DepthExceededError
	require.True(t, errors.As(err, &depth), "got %v", err)
	assert.Equal(t, 2, depth.Limit)

	deep := NewEngine(st, NewResolver(st), WithMaxDepth(3))
	rc, err := deep.CostByName(context.Background(), "R0")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rc.TotalCost, 1e-9)
}

func TestCostRecipe_SharedSubRecipeIsMemoized(t *testing.T) {
	st, e := kitchen(t)
	saveRecipe(t, st, model.Recipe{Name: "Stock", Lines: []model.RecipeLine{ing("Eggs", 2, "each")}})
	r := saveRecipe(t, st, model.Recipe{
		Name: "Soup",
		Lines: []model.RecipeLine{
			sub("Stock", 1, ""),
			sub("stock", 2, ""),
		},
	})

	rc, err := e.CostRecipe(context.Background(), r, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, rc.TotalCost, 1e-9)
}

func TestYieldUnitFactor(t *testing.T) {
	f, err := yieldUnitFactor("", "portion")
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	f, err = yieldUnitFactor("Portion", "portion")
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	f, err = yieldUnitFactor("pt", "qt")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f, 1e-12)

	_, err = yieldUnitFactor("ladle", "portion")
	assert.Error(t, err)
}
