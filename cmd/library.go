package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/kitchen-cli/internal/model"
)

// -- ingredients --

var ingredientsCmd = &cobra.Command{
	Use:   "ingredients",
	Short: "Manage ingredients",
}

var ingredientsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Create or update ingredients from a YAML list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ings, err := readIngredients(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		for i := range ings {
			if err := a.Library.SaveIngredient(ctx, &ings[i]); err != nil {
				return eris.Wrapf(err, "ingredients load: %s", ings[i].Name)
			}
		}
		zap.L().Info("ingredients loaded", zap.String("file", args[0]), zap.Int("count", len(ings)))
		return nil
	},
}

var ingredientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingredients with their cached costs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		ings, err := a.Store.ListIngredients(ctx)
		if err != nil {
			return eris.Wrap(err, "ingredients list")
		}
		if len(ings) == 0 {
			fmt.Fprintln(os.Stderr, "No ingredients found.")
			return nil
		}
		formatIngredients(cmd.OutOrStdout(), ings)
		return nil
	},
}

var ingredientsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an ingredient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.Library.DeleteIngredient(ctx, args[0]); err != nil {
			return eris.Wrap(err, "ingredients delete")
		}
		zap.L().Info("ingredient deleted", zap.String("ingredient", args[0]))
		return nil
	},
}

// -- recipes --

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Manage recipes",
}

var recipesLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Create or update recipes from a YAML list",
	Long:  "Recipes are saved in file order; a recipe's sub-recipes must already exist or appear earlier in the file for costing, and no save may introduce a cycle.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		recipes, err := readRecipes(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		for i := range recipes {
			if err := a.Library.SaveRecipe(ctx, &recipes[i]); err != nil {
				return eris.Wrapf(err, "recipes load: %s", recipes[i].Name)
			}
		}
		zap.L().Info("recipes loaded", zap.String("file", args[0]), zap.Int("count", len(recipes)))
		return nil
	},
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		recipes, err := a.Store.ListRecipes(ctx)
		if err != nil {
			return eris.Wrap(err, "recipes list")
		}
		if len(recipes) == 0 {
			fmt.Fprintln(os.Stderr, "No recipes found.")
			return nil
		}
		formatRecipes(cmd.OutOrStdout(), recipes)
		return nil
	},
}

var recipesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.Library.DeleteRecipe(ctx, args[0]); err != nil {
			return eris.Wrap(err, "recipes delete")
		}
		zap.L().Info("recipe deleted", zap.String("recipe", args[0]))
		return nil
	},
}

func init() {
	ingredientsCmd.AddCommand(ingredientsLoadCmd)
	ingredientsCmd.AddCommand(ingredientsListCmd)
	ingredientsCmd.AddCommand(ingredientsDeleteCmd)
	recipesCmd.AddCommand(recipesLoadCmd)
	recipesCmd.AddCommand(recipesListCmd)
	recipesCmd.AddCommand(recipesDeleteCmd)
	rootCmd.AddCommand(ingredientsCmd)
	rootCmd.AddCommand(recipesCmd)
}

// readIngredients parses a YAML file holding either a list of ingredients
// or a document with an "ingredients" key.
func readIngredients(path string) ([]model.Ingredient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var list []model.Ingredient
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Ingredients []model.Ingredient `yaml:"ingredients"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	return doc.Ingredients, nil
}

// readRecipes parses a YAML file holding either a list of recipes or a
// document with a "recipes" key.
func readRecipes(path string) ([]model.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var list []model.Recipe
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Recipes []model.Recipe `yaml:"recipes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	return doc.Recipes, nil
}

func formatIngredients(out io.Writer, ings []model.Ingredient) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMODE\tBASIS\tLOCKED\tLAST COST\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t------\t---------\t-------")
	for _, ing := range ings {
		locked := "-"
		if ing.Mode == model.LockModeLock {
			locked = ing.LockedVendor + "/" + ing.LockedItemNumber
		}
		cost := "-"
		switch {
		case ing.LastCostPerEach != nil:
			cost = fmt.Sprintf("%.4f/%s", *ing.LastCostPerEach, ing.LastCostUnit)
		case ing.LastCostPerOz != nil:
			cost = fmt.Sprintf("%.4f/%s", *ing.LastCostPerOz, ing.LastCostUnit)
		}
		updated := "-"
		if ing.LastUpdated != nil {
			updated = ing.LastUpdated.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ing.Name, ing.Mode, ing.CostBasis, locked, cost, updated)
	}
	_ = w.Flush()
}

func formatRecipes(out io.Writer, recipes []model.Recipe) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tLINES\tYIELD\tMENU PRICE")
	_, _ = fmt.Fprintln(w, "----\t--------\t-----\t-----\t----------")
	for _, r := range recipes {
		price := "-"
		if r.MenuPrice > 0 {
			price = fmt.Sprintf("%.2f", r.MenuPrice)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%g %s\t%s\n", r.Name, r.Category, len(r.Lines), r.YieldQty, r.YieldUOM, price)
	}
	_ = w.Flush()
}
