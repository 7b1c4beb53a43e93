package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/kitchen-cli/internal/costing"
	"github.com/sells-group/kitchen-cli/internal/model"
)

var costCmd = &cobra.Command{
	Use:   "cost <recipe>",
	Short: "Cost a recipe from current ingredient prices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		rc, err := a.Engine.CostByName(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cost")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), rc)
		}
		formatRecipeCost(cmd.OutOrStdout(), rc)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ingredient>",
	Short: "Resolve an ingredient's current unit cost",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		ing, cost, err := a.Resolver.ResolveByName(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resolve")
		}
		formatIngredientCost(cmd.OutOrStdout(), ing, cost)
		return nil
	},
}

func init() {
	costCmd.Flags().Bool("json", false, "print the full costing as JSON")
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(resolveCmd)
}

// formatRecipeCost writes a line-by-line costing followed by totals.
func formatRecipeCost(out io.Writer, rc *costing.RecipeCost) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tKIND\tREF\tQTY\tUOM\tUNIT COST\tCOST")
	_, _ = fmt.Fprintln(w, "-\t----\t---\t---\t---\t---------\t----")
	for _, l := range rc.Lines {
		unitCost := "-"
		if l.UnitCost != nil {
			unitCost = fmt.Sprintf("%.4f/%s", *l.UnitCost, l.CostUnit)
		}
		cost := "-"
		if l.Cost != nil {
			cost = fmt.Sprintf("%.2f", *l.Cost)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%s\t%s\t%s\n",
			l.Position, l.Kind, l.Ref, l.Qty, l.UOM, unitCost, cost)
	}
	_ = w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Recipe:\t%s\n", rc.Recipe)
	_, _ = fmt.Fprintf(w, "Raw cost:\t%.2f\n", rc.RawCost)
	if rc.YieldFactor < 1 {
		_, _ = fmt.Fprintf(w, "Yield factor:\t%.0f%%\n", rc.YieldFactor*100)
	}
	_, _ = fmt.Fprintf(w, "Total cost:\t%.2f\n", rc.TotalCost)
	_, _ = fmt.Fprintf(w, "Per %s:\t%.2f (yield %g)\n", rc.YieldUOM, rc.CostPerServing, rc.YieldQty)
	if rc.FoodCostPct != nil {
		flag := ""
		if rc.OverTarget {
			flag = "  OVER TARGET"
		}
		_, _ = fmt.Fprintf(w, "Menu price:\t%.2f\n", rc.MenuPrice)
		_, _ = fmt.Fprintf(w, "Food cost:\t%.1f%%%s\n", *rc.FoodCostPct*100, flag)
		_, _ = fmt.Fprintf(w, "Margin:\t%.2f\n", *rc.Margin)
	}
	_ = w.Flush()

	for _, warn := range rc.Warnings() {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warn)
	}
}

// formatIngredientCost writes the resolved cost and the catalog item it came from.
func formatIngredientCost(out io.Writer, ing *model.Ingredient, cost *costing.Cost) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Ingredient:\t%s\n", ing.Name)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", ing.Mode)
	_, _ = fmt.Fprintf(w, "Cost:\t%.4f per %s\n", cost.Value(), cost.Unit)
	if src := cost.Source; src != nil {
		_, _ = fmt.Fprintf(w, "Source:\t%s #%s %s\n", src.Vendor, src.ItemNumber, src.Description)
		_, _ = fmt.Fprintf(w, "Pack:\t%s\n", src.PackSizeRaw)
		_, _ = fmt.Fprintf(w, "Price:\t%.2f on %s\n", src.Price, src.PriceDate.Format(model.DateLayout))
	}
	_ = w.Flush()
}
