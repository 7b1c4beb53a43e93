package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/preset"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Inspect vendor column presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and configured presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := app.LoadPresets(cfg.Presets.Dir)
		if err != nil {
			return err
		}
		formatPresets(cmd.OutOrStdout(), reg.List())
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := app.OpenStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	presetsCmd.AddCommand(presetsListCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func formatPresets(out io.Writer, list []*preset.Preset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVENDOR\tDATE POLICY\tCOLUMNS")
	_, _ = fmt.Fprintln(w, "----\t------\t-----------\t-------")
	for _, p := range list {
		headers := make([]string, 0, len(p.Columns))
		for h := range p.Columns {
			headers = append(headers, h)
		}
		sort.Strings(headers)
		vendor := p.Vendor
		if vendor == "" {
			vendor = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, vendor, p.PriceDatePolicy, strings.Join(headers, ", "))
	}
	_ = w.Flush()
}
