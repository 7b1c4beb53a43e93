package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/upload"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a vendor price list (CSV or XLSX) into the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		presetName, _ := cmd.Flags().GetString("preset")
		vendor, _ := cmd.Flags().GetString("vendor")
		sheet, _ := cmd.Flags().GetString("sheet")
		skipRows, _ := cmd.Flags().GetInt("skip-rows")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if file == "" {
			return eris.New("--file is required")
		}

		rows, err := upload.Load(ctx, file, upload.Options{SheetName: sheet, SkipRows: skipRows})
		if err != nil {
			return eris.Wrap(err, "import: read file")
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		report, err := a.Import(ctx, app.ImportRequest{
			Rows:     rows,
			Preset:   presetName,
			Vendor:   vendor,
			Filename: filepath.Base(file),
			DryRun:   dryRun,
		})
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("file", file),
			zap.String("preset", report.Preset),
			zap.Int("rows", report.Rows),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("skipped", report.Skipped),
			zap.Bool("dry_run", report.DryRun),
		)
		formatImportReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	importCmd.Flags().String("file", "", "path to price list (.csv, .tsv, .txt, .xlsx)")
	importCmd.Flags().String("preset", "", "column preset name (default: chosen from vendor or file name)")
	importCmd.Flags().String("vendor", "", "vendor for rows without a vendor column")
	importCmd.Flags().String("sheet", "", "worksheet name for XLSX files (default: first sheet)")
	importCmd.Flags().Int("skip-rows", 0, "leading rows to skip before the header")
	importCmd.Flags().Bool("dry-run", false, "validate and report without writing")
	rootCmd.AddCommand(importCmd)
}

// formatImportReport writes an import summary followed by its exceptions.
func formatImportReport(out io.Writer, r *app.ImportReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Preset:\t%s\n", r.Preset)
	if r.DryRun {
		_, _ = fmt.Fprintln(w, "Mode:\tdry run (nothing written)")
	}
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", r.Rows)
	_, _ = fmt.Fprintf(w, "Created:\t%d\n", r.Created)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", r.Updated)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped)
	if r.Defaulted > 0 {
		_, _ = fmt.Fprintf(w, "Price dates defaulted:\t%d\n", r.Defaulted)
	}
	for _, name := range r.Refreshed {
		_, _ = fmt.Fprintf(w, "Re-priced:\t%s\n", name)
	}
	_ = w.Flush()

	if len(r.Exceptions) > 0 {
		_, _ = fmt.Fprintln(out)
		formatExceptions(out, r.Exceptions)
	}
}
