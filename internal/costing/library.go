package costing

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
)

// LibraryStore persists ingredient and recipe definitions.
type LibraryStore interface {
	store.IngredientStore
	store.RecipeStore
	RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error
}

// Library validates and saves ingredient and recipe definitions, recording
// each mutation in the changelog.
type Library struct {
	store LibraryStore
	now   func() time.Time
	actor string
}

// NewLibrary creates a Library over st. actor names the changelog author.
func NewLibrary(st LibraryStore, actor string) *Library {
	if actor == "" {
		actor = "library"
	}
	return &Library{store: st, now: time.Now, actor: actor}
}

func (l *Library) record(ctx context.Context, action string, details map[string]any) error {
	return l.store.RecordChangelog(ctx, &model.ChangelogEntry{
		Timestamp: l.now().UTC(),
		Actor:     l.actor,
		Action:    action,
		Details:   details,
	})
}

// SaveIngredient normalizes and upserts an ingredient definition.
func (l *Library) SaveIngredient(ctx context.Context, ing *model.Ingredient) error {
	if err := ing.Normalize(); err != nil {
		return err
	}
	if err := l.store.SaveIngredient(ctx, ing); err != nil {
		return eris.Wrapf(err, "costing: save ingredient %s", ing.Name)
	}
	details := map[string]any{
		"ingredient": ing.Name,
		"mode":       string(ing.Mode),
		"cost_basis": string(ing.CostBasis),
		"aliases":    len(ing.Aliases),
	}
	if ing.Mode == model.LockModeLock {
		details["locked_vendor"] = ing.LockedVendor
		details["locked_item_number"] = ing.LockedItemNumber
	}
	return l.record(ctx, model.ActionIngredientSaved, details)
}

// DeleteIngredient removes an ingredient and its aliases.
func (l *Library) DeleteIngredient(ctx context.Context, name string) error {
	if err := l.store.DeleteIngredient(ctx, name); err != nil {
		return eris.Wrapf(err, "costing: delete ingredient %s", name)
	}
	return l.record(ctx, model.ActionIngredientDeleted, map[string]any{"ingredient": name})
}

// SaveRecipe normalizes a recipe, rejects it if it would close a sub-recipe
// cycle, and saves it.
func (l *Library) SaveRecipe(ctx context.Context, r *model.Recipe) error {
	if err := r.Normalize(); err != nil {
		return err
	}
	existing, err := l.store.ListRecipes(ctx)
	if err != nil {
		return eris.Wrap(err, "costing: list recipes")
	}
	g := NewGraph(existing)
	g.Put(r)
	if err := g.Validate(); err != nil {
		return err
	}
	if err := l.store.SaveRecipe(ctx, r); err != nil {
		return eris.Wrapf(err, "costing: save recipe %s", r.Name)
	}
	return l.record(ctx, model.ActionRecipeSaved, map[string]any{
		"recipe":      r.Name,
		"lines":       len(r.Lines),
		"sub_recipes": r.SubRecipes(),
	})
}

// DeleteRecipe removes a recipe and its lines. Recipes that referenced it
// keep their lines and cost them with a warning.
func (l *Library) DeleteRecipe(ctx context.Context, name string) error {
	existing, err := l.store.ListRecipes(ctx)
	if err != nil {
		return eris.Wrap(err, "costing: list recipes")
	}
	parents := NewGraph(existing).Parents(name)

	if err := l.store.DeleteRecipe(ctx, name); err != nil {
		return eris.Wrapf(err, "costing: delete recipe %s", name)
	}
	if len(parents) > 0 {
		zap.L().Warn("deleted recipe is still referenced",
			zap.String("recipe", name),
			zap.Strings("referenced_by", parents),
		)
	}
	details := map[string]any{"recipe": name}
	if len(parents) > 0 {
		details["referenced_by"] = parents
	}
	return l.record(ctx, model.ActionRecipeDeleted, details)
}
