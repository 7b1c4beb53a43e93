// Package app wires the store, presets, ingestion pipeline and costing
// services into one handle shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/config"
	"github.com/sells-group/kitchen-cli/internal/costing"
	"github.com/sells-group/kitchen-cli/internal/etl"
	"github.com/sells-group/kitchen-cli/internal/inventory"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/preset"
	"github.com/sells-group/kitchen-cli/internal/resilience"
	"github.com/sells-group/kitchen-cli/internal/store"
)

// App bundles the services behind every command.
type App struct {
	Store    store.Store
	Presets  *preset.Registry
	Pipeline *etl.Pipeline
	Resolver *costing.Resolver
	Engine   *costing.Engine
	Library  *costing.Library
	Valuer   *inventory.Valuer

	refreshCosts bool
	now          func() time.Time
}

// OpenStore opens and migrates the configured store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "kitchen.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL, &store.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "memory":
		st = store.NewMemory()
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "app: migrate store")
	}
	return st, nil
}

// LoadPresets returns the builtin presets overlaid with the files in dir.
func LoadPresets(dir string) (*preset.Registry, error) {
	reg, err := preset.Builtin()
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := reg.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// New assembles an App over an open store.
func New(cfg *config.Config, st store.Store, presets *preset.Registry) (*App, error) {
	loc, err := cfg.Import.Location()
	if err != nil {
		return nil, err
	}
	retry := resilience.FromRetryConfig(cfg.Import.RetryAttempts, cfg.Import.RetryBackoffMs, cfg.Import.RetryMaxBackoffMs)

	resolver := costing.NewResolver(st)
	return &App{
		Store:   st,
		Presets: presets,
		Pipeline: etl.New(st,
			etl.WithLocation(loc),
			etl.WithRetry(retry),
		),
		Resolver: resolver,
		Engine: costing.NewEngine(st, resolver,
			costing.WithMaxDepth(cfg.Costing.MaxRecipeDepth),
			costing.WithFoodCostTarget(cfg.Costing.FoodCostTargetPct),
		),
		Library:      costing.NewLibrary(st, "cli"),
		Valuer:       inventory.NewValuer(resolver),
		refreshCosts: cfg.Import.RefreshCosts,
		now:          time.Now,
	}, nil
}

// Open loads presets, opens the store and assembles the App.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	presets, err := LoadPresets(cfg.Presets.Dir)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, st, presets)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// ImportRequest describes one price list upload.
type ImportRequest struct {
	Rows     []etl.Row
	Preset   string // preset name; selected from Vendor or Filename when empty
	Vendor   string // vendor hint for rows without a vendor column
	Filename string
	DryRun   bool
}

// ImportReport is an ImportResult plus the ingredients re-priced afterwards.
type ImportReport struct {
	*etl.ImportResult
	Refreshed []string `json:"refreshed,omitempty"`
}

// SelectPreset resolves the preset for an upload: by explicit name, then by
// vendor, then by file name.
func (a *App) SelectPreset(name, vendor, filename string) (*preset.Preset, error) {
	if name != "" {
		return a.Presets.Get(name)
	}
	if vendor != "" {
		if p, err := a.Presets.ForVendor(vendor); err == nil {
			return p, nil
		}
	}
	if filename != "" {
		if p, err := a.Presets.ForFilename(filename); err == nil {
			return p, nil
		}
	}
	return nil, eris.Wrap(preset.ErrNotFound, "app: pass a preset name; none matched the vendor or file name")
}

// Import runs the ETL pipeline and, after a committed import, refreshes the
// cached costs of ingredients that match the imported items.
func (a *App) Import(ctx context.Context, req ImportRequest) (*ImportReport, error) {
	ps, err := a.SelectPreset(req.Preset, req.Vendor, req.Filename)
	if err != nil {
		return nil, err
	}

	var res *etl.ImportResult
	if req.DryRun {
		res, err = a.Pipeline.DryRun(ctx, req.Rows, ps, req.Vendor)
	} else {
		res, err = a.Pipeline.Ingest(ctx, req.Rows, ps, req.Vendor)
	}
	if err != nil {
		return nil, err
	}

	report := &ImportReport{ImportResult: res}
	if req.DryRun || !a.refreshCosts {
		return report, nil
	}
	refreshed, err := a.Resolver.RefreshForItems(ctx, res.Items)
	if err != nil {
		// The catalog is already committed; a failed refresh only leaves
		// cached costs stale until the next resolve.
		zap.L().Warn("cost refresh after import failed", zap.Error(err))
	}
	report.Refreshed = refreshed
	return report, nil
}

// ResolveException marks an exception resolved and records who did it.
func (a *App) ResolveException(ctx context.Context, id, actor string) error {
	if err := a.Store.ResolveException(ctx, id); err != nil {
		return err
	}
	if actor == "" {
		actor = "cli"
	}
	return a.Store.RecordChangelog(ctx, &model.ChangelogEntry{
		Timestamp: a.now().UTC(),
		Actor:     actor,
		Action:    model.ActionExceptionResolved,
		Details:   map[string]any{"exception_id": id},
	})
}

// IsNotFound reports whether err stems from a missing record or preset.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, preset.ErrNotFound)
}
