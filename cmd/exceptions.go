package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
)

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Review rows rejected during import",
}

var exceptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open exceptions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		typ, _ := cmd.Flags().GetString("type")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := a.Store.ListExceptions(ctx, store.ExceptionFilter{
			Type:            model.ExceptionType(strings.ToUpper(typ)),
			IncludeResolved: all,
			Limit:           limit,
		})
		if err != nil {
			return eris.Wrap(err, "exceptions list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No exceptions found.")
			return nil
		}
		formatExceptions(cmd.OutOrStdout(), list)
		return nil
	},
}

var exceptionsResolveCmd = &cobra.Command{
	Use:   "resolve <id>...",
	Short: "Mark exceptions resolved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		actor, _ := cmd.Flags().GetString("actor")
		for _, id := range args {
			if err := a.ResolveException(ctx, id, actor); err != nil {
				return eris.Wrapf(err, "exceptions resolve %s", id)
			}
			zap.L().Info("exception resolved", zap.String("id", id))
		}
		return nil
	},
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Show the audit log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		action, _ := cmd.Flags().GetString("action")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ChangelogFilter{Action: action, Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		entries, err := a.Store.ListChangelog(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "changelog")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No changelog entries found.")
			return nil
		}
		formatChangelog(cmd.OutOrStdout(), entries)
		return nil
	},
}

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List vendors seen in imports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		vendors, err := a.Store.ListVendors(ctx)
		if err != nil {
			return eris.Wrap(err, "vendors")
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tFIRST SEEN")
		for _, v := range vendors {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", v.Name, v.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	exceptionsListCmd.Flags().String("type", "", "filter by type (MISSING_FIELD, UNPARSEABLE_PACK, INVALID_QUANTITY)")
	exceptionsListCmd.Flags().Bool("all", false, "include resolved exceptions")
	exceptionsListCmd.Flags().Int("limit", 100, "max number of exceptions to display")
	exceptionsResolveCmd.Flags().String("actor", "cli", "name recorded in the changelog")

	changelogCmd.Flags().String("action", "", "filter by action (catalog_import, recipe_saved, ...)")
	changelogCmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")
	changelogCmd.Flags().Int("limit", 50, "max number of entries to display")

	exceptionsCmd.AddCommand(exceptionsListCmd)
	exceptionsCmd.AddCommand(exceptionsResolveCmd)
	rootCmd.AddCommand(exceptionsCmd)
	rootCmd.AddCommand(changelogCmd)
	rootCmd.AddCommand(vendorsCmd)
}

// formatExceptions writes a tabular list of exceptions to w.
func formatExceptions(out io.Writer, list []model.Exception) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tCREATED\tSTATUS\tCONTEXT")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t------\t-------")
	for _, ex := range list {
		status := "open"
		if ex.Resolved {
			status = "resolved"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ex.ID,
			ex.Type,
			ex.CreatedAt.Format("2006-01-02 15:04"),
			status,
			summarize(ex.Context, 60),
		)
	}
	_ = w.Flush()
}

// formatChangelog writes a tabular list of changelog entries to w.
func formatChangelog(out io.Writer, entries []model.ChangelogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tACTOR\tACTION\tDETAILS")
	_, _ = fmt.Fprintln(w, "----\t-----\t------\t-------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Actor,
			e.Action,
			summarize(e.Details, 80),
		)
	}
	_ = w.Flush()
}

// summarize renders a details map as key=value pairs in key order, cut to width runes.
func summarize(m map[string]any, width int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "raw" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(m[k])
		if err != nil {
			v = []byte(fmt.Sprint(m[k]))
		}
		parts = append(parts, k+"="+string(v))
	}
	s := strings.Join(parts, " ")
	if r := []rune(s); len(r) > width {
		s = string(r[:width-3]) + "..."
	}
	return s
}
