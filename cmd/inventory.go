package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/inventory"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/upload"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Value stock counts and suggest orders",
}

var inventoryValueCmd = &cobra.Command{
	Use:   "value",
	Short: "Value a count sheet at current ingredient costs",
	Long:  "Reads a count sheet (columns: ingredient, qty, uom, optional par). Without --file the most recently recorded count is valued.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		count, err := loadCount(cmd)
		if err != nil {
			return err
		}
		if count == nil {
			if count, err = a.Store.LatestCount(ctx); err != nil {
				return eris.Wrap(err, "inventory value: latest count")
			}
			if count == nil {
				return eris.New("no count recorded yet; pass --file or run 'inventory record'")
			}
		}

		val, err := a.Valuer.Value(ctx, count)
		if err != nil {
			return eris.Wrap(err, "inventory value")
		}
		formatValuation(cmd.OutOrStdout(), val)

		if order := inventory.SuggestOrder(count); len(order) > 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
			formatOrder(cmd.OutOrStdout(), order)
		}
		return nil
	},
}

var inventoryRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Save a count sheet as the current stock count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		count, err := loadCount(cmd)
		if err != nil {
			return err
		}
		if count == nil {
			return eris.New("--file is required")
		}
		count.CountedBy, _ = cmd.Flags().GetString("counted-by")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := inventory.Record(ctx, a.Store, count, time.Now()); err != nil {
			return eris.Wrap(err, "inventory record")
		}
		zap.L().Info("inventory count recorded",
			zap.String("id", count.ID),
			zap.Int("lines", len(count.Lines)),
		)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{inventoryValueCmd, inventoryRecordCmd} {
		c.Flags().String("file", "", "count sheet (.csv, .tsv, .xlsx)")
		c.Flags().String("sheet", "", "worksheet name for XLSX files")
	}
	inventoryRecordCmd.Flags().String("counted-by", "", "who took the count")

	inventoryCmd.AddCommand(inventoryValueCmd)
	inventoryCmd.AddCommand(inventoryRecordCmd)
	rootCmd.AddCommand(inventoryCmd)
}

// loadCount reads the --file count sheet, or returns nil when none was given.
func loadCount(cmd *cobra.Command) (*model.InventoryCount, error) {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return nil, nil
	}
	sheet, _ := cmd.Flags().GetString("sheet")
	rows, err := upload.Load(cmd.Context(), file, upload.Options{SheetName: sheet})
	if err != nil {
		return nil, eris.Wrap(err, "inventory: read count sheet")
	}
	return inventory.CountFromRows(rows)
}

func formatValuation(out io.Writer, val *inventory.Valuation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INGREDIENT\tQTY\tUOM\tUNIT COST\tVALUE\tVENDOR")
	_, _ = fmt.Fprintln(w, "----------\t---\t---\t---------\t-----\t------")
	for _, l := range val.Lines {
		unitCost, value := "-", "-"
		if l.UnitCost != nil {
			unitCost = fmt.Sprintf("%.4f/%s", *l.UnitCost, l.CostUnit)
		}
		if l.Value != nil {
			value = fmt.Sprintf("%.2f", *l.Value)
		}
		_, _ = fmt.Fprintf(w, "%s\t%g\t%s\t%s\t%s\t%s\n", l.Ingredient, l.Qty, l.UOM, unitCost, value, l.Vendor)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t\t\t\t%.2f\t\n", val.Total)
	_ = w.Flush()

	for _, warn := range val.Warnings() {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warn)
	}
}

func formatOrder(out io.Writer, order []inventory.OrderLine) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ORDER\tON HAND\tPAR\tSUGGESTED\tUOM")
	_, _ = fmt.Fprintln(w, "-----\t-------\t---\t---------\t---")
	for _, o := range order {
		_, _ = fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%s\n", o.Ingredient, o.OnHand, o.Par, o.Suggested, o.UOM)
	}
	_ = w.Flush()
}
