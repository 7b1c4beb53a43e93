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
)

func TestValidateGraph(t *testing.T) {
	acyclic := []model.Recipe{
		{Name: "Salad", Lines: []model.RecipeLine{sub("Dressing", 1, ""), sub("Croutons", 1, "")}},
		{Name: "Dressing", Lines: []model.RecipeLine{sub("Mayo", 1, "")}},
		{Name: "Croutons", Lines: []model.RecipeLine{sub("Mayo", 1, "")}},
		{Name: "Mayo", Lines: []model.RecipeLine{ing("Eggs", 1, "each")}},
	}
	require.NoError(t, ValidateGraph(acyclic))

	cyclic := []model.Recipe{
		{Name: "A", Lines: []model.RecipeLine{sub("B", 1, "")}},
		{Name: "B", Lines: []model.RecipeLine{sub("C", 1, "")}},
		{Name: "C", Lines: []model.RecipeLine{sub("a", 1, "")}},
	}
	err := ValidateGraph(cyclic)
	var cyc *CyclicRecipeError
	require.True(t, errors.As(err, &cyc), "got %v", err)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cyc.Path)
	assert.Equal(t, "cyclic recipe: A -> B -> C -> A", err.Error())
}

func TestValidateGraph_DeepChain(t *testing.T) {
	var recipes []model.Recipe
	for i := 0; i < 10000; i++ {
		recipes = append(recipes, model.Recipe{
			Name:  fmt.Sprintf("r%05d", i),
			Lines: []model.RecipeLine{sub(fmt.Sprintf("r%05d", i+1), 1, "")},
		})
	}
	require.NoError(t, ValidateGraph(recipes))
}

func TestGraph_Parents(t *testing.T) {
	g := NewGraph([]model.Recipe{
		{Name: "Salad", Lines: []model.RecipeLine{sub("Dressing", 1, "")}},
		{Name: "Bowl", Lines: []model.RecipeLine{sub("dressing", 1, "")}},
	})
	assert.Equal(t, []string{"Bowl", "Salad"}, g.Parents("Dressing"))
	g.Remove("Bowl")
	assert.Equal(t, []string{"Salad"}, g.Parents("Dressing"))
}

func TestLibrary_SaveRecipeRejectsCycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lib := NewLibrary(st, "test")

	require.NoError(t, lib.SaveRecipe(ctx, &model.Recipe{Name: "A", Lines: []model.RecipeLine{sub("B", 1, "")}}))
	err := lib.SaveRecipe(ctx, &model.Recipe{Name: "B", Lines: []model.RecipeLine{sub("A", 1, "")}})
	var cyc *CyclicRecipeError
	require.True(t, errors.As(err, &cyc), "got %v", err)

	_, err = st.GetRecipe(ctx, "B")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	entries, err := st.ListChangelog(ctx, store.ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionRecipeSaved, entries[0].Action)
	assert.Equal(t, "test", entries[0].Actor)
}

func TestLibrary_SaveRecipeRejectsInvalid(t *testing.T) {
	lib := NewLibrary(store.NewMemory(), "")
	err := lib.SaveRecipe(context.Background(), &model.Recipe{Name: "Soup", YieldFactor: 1.5})
	assert.Error(t, err)
}

func TestLibrary_Ingredients(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lib := NewLibrary(st, "")

	require.NoError(t, lib.SaveIngredient(ctx, &model.Ingredient{
		Name:             "  Olive   Oil ",
		Mode:             "lock",
		LockedVendor:     "Vendor A",
		LockedItemNumber: "100",
	}))
	got, err := st.GetIngredient(ctx, "olive oil")
	require.NoError(t, err)
	assert.Equal(t, "Olive Oil", got.Name)
	assert.Equal(t, model.LockModeLock, got.Mode)

	err = lib.SaveIngredient(ctx, &model.Ingredient{Name: "Butter", Mode: "LOCK"})
	assert.Error(t, err)

	require.NoError(t, lib.DeleteIngredient(ctx, "Olive Oil"))
	assert.Error(t, lib.DeleteIngredient(ctx, "Olive Oil"))

	entries, err := st.ListChangelog(ctx, store.ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActionIngredientDeleted, entries[0].Action)
	assert.Equal(t, model.ActionIngredientSaved, entries[1].Action)
	assert.Equal(t, "library", entries[1].Actor)
	assert.Equal(t, "Vendor A", entries[1].Details["locked_vendor"])
}

func TestLibrary_DeleteRecipeNotesParents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lib := NewLibrary(st, "")
	require.NoError(t, lib.SaveRecipe(ctx, &model.Recipe{Name: "Dressing", Lines: []model.RecipeLine{ing("Oil", 1, "cup")}}))
	require.NoError(t, lib.SaveRecipe(ctx, &model.Recipe{Name: "Salad", Lines: []model.RecipeLine{sub("Dressing", 1, "")}}))

	require.NoError(t, lib.DeleteRecipe(ctx, "Dressing"))
	entries, err := st.ListChangelog(ctx, store.ChangelogFilter{Action: model.ActionRecipeDeleted})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"Salad"}, entries[0].Details["referenced_by"])
}
