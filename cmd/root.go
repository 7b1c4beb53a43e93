package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kitchen-cli",
	Short: "Restaurant catalog, recipe costing and inventory tool",
	Long:  "Ingests vendor price lists, normalizes pack sizes, resolves ingredient costs, costs recipes and values inventory counts.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		mode := "cli"
		if cmd.Name() == "serve" {
			mode = "serve"
		}
		return cfg.Validate(mode)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openApp opens the configured store and assembles the services.
func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg)
}

// printJSON writes v as indented JSON.
func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
