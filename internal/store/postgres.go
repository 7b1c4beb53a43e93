package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/db"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog_items (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor_key      TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	item_number     TEXT NOT NULL,
	description     TEXT NOT NULL,
	brand           TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	pack_size_raw   TEXT NOT NULL,
	pack_count      INTEGER NOT NULL,
	unit_qty        DOUBLE PRECISION NOT NULL,
	unit_uom        TEXT NOT NULL,
	dimension       TEXT NOT NULL,
	case_total_oz   DOUBLE PRECISION,
	case_total_each DOUBLE PRECISION,
	price           DOUBLE PRECISION NOT NULL,
	price_date      DATE NOT NULL,
	cost_per_oz     DOUBLE PRECISION,
	cost_per_each   DOUBLE PRECISION,
	search_key      TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor_key, item_number, price_date),
	CHECK ((cost_per_oz IS NULL) <> (cost_per_each IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_catalog_items_vendor_item ON catalog_items(vendor_key, item_number, price_date DESC);

CREATE TABLE IF NOT EXISTS ingredients (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name_key           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	mode               TEXT NOT NULL DEFAULT 'CHEAPEST',
	locked_vendor      TEXT NOT NULL DEFAULT '',
	locked_item_number TEXT NOT NULL DEFAULT '',
	cost_basis         TEXT NOT NULL DEFAULT 'oz',
	category           TEXT NOT NULL DEFAULT '',
	last_cost_per_oz   DOUBLE PRECISION,
	last_cost_per_each DOUBLE PRECISION,
	last_cost_unit     TEXT NOT NULL DEFAULT '',
	last_updated       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ingredient_aliases (
	ingredient_id TEXT NOT NULL REFERENCES ingredients(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	alias         TEXT NOT NULL,
	PRIMARY KEY (ingredient_id, position)
);

CREATE TABLE IF NOT EXISTS recipes (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name_key     TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	menu_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	yield_factor DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (yield_factor > 0 AND yield_factor <= 1),
	yield_qty    DOUBLE PRECISION NOT NULL DEFAULT 1,
	yield_uom    TEXT NOT NULL DEFAULT 'each',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recipe_lines (
	recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	ref       TEXT NOT NULL,
	qty       DOUBLE PRECISION NOT NULL,
	uom       TEXT NOT NULL DEFAULT '',
	note      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (recipe_id, position)
);

CREATE TABLE IF NOT EXISTS exceptions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type        TEXT NOT NULL,
	context     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved    BOOLEAN NOT NULL DEFAULT false,
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_exceptions_resolved ON exceptions(resolved, created_at DESC);

CREATE TABLE IF NOT EXISTS changelog (
	id      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	ts      TIMESTAMPTZ NOT NULL DEFAULT now(),
	actor   TEXT NOT NULL,
	action  TEXT NOT NULL,
	details JSONB
);

CREATE INDEX IF NOT EXISTS idx_changelog_ts ON changelog(ts DESC);

CREATE TABLE IF NOT EXISTS inventory_counts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	taken_at   TIMESTAMPTZ NOT NULL,
	counted_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory_lines (
	count_id   TEXT NOT NULL REFERENCES inventory_counts(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	ingredient TEXT NOT NULL,
	qty        DOUBLE PRECISION NOT NULL,
	uom        TEXT NOT NULL,
	par        DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (count_id, position)
);
`

var catalogUpsertSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table: "catalog_items",
	Columns: []string{
		"id", "vendor_key", "vendor", "item_number", "description", "brand", "category",
		"pack_size_raw", "pack_count", "unit_qty", "unit_uom", "dimension", "case_total_oz",
		"case_total_each", "price", "price_date", "cost_per_oz", "cost_per_each", "search_key",
		"created_at", "updated_at",
	},
	ConflictKeys: []string{"vendor_key", "item_number", "price_date"},
	UpdateCols: []string{
		"vendor", "description", "brand", "category", "pack_size_raw", "pack_count", "unit_qty",
		"unit_uom", "dimension", "case_total_oz", "case_total_each", "price", "cost_per_oz",
		"cost_per_each", "search_key", "updated_at",
	},
	Returning: "id, created_at, (xmax = 0) AS inserted",
})

var vendorUpsertSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table:        "vendors",
	Columns:      []string{"id", "key", "name", "created_at"},
	ConflictKeys: []string{"key"},
	// no-op update so RETURNING yields the existing row
	UpdateCols: []string{"key"},
	Returning:  "id, name, created_at",
})

var ingredientUpsertSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table: "ingredients",
	Columns: []string{
		"id", "name_key", "name", "mode", "locked_vendor", "locked_item_number", "cost_basis", "category",
	},
	ConflictKeys: []string{"name_key"},
	UpdateCols:   []string{"name", "mode", "locked_vendor", "locked_item_number", "cost_basis", "category"},
	Returning:    "id",
})

var recipeUpsertSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table: "recipes",
	Columns: []string{
		"id", "name_key", "name", "category", "menu_price", "yield_factor", "yield_qty", "yield_uom",
		"created_at", "updated_at",
	},
	ConflictKeys: []string{"name_key"},
	UpdateCols:   []string{"name", "category", "menu_price", "yield_factor", "yield_qty", "yield_uom", "updated_at"},
	Returning:    "id, created_at",
})

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q db.Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// WithinBatch runs fn inside one transaction, rolling back on error.
func (s *PostgresStore) WithinBatch(ctx context.Context, fn func(Batch) error) error {
	return s.inTx(ctx, func(q db.Querier) error {
		return fn(&pgBatch{q: q})
	})
}

type pgBatch struct {
	q db.Querier
}

func (b *pgBatch) FindCatalogItem(ctx context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	return pgFindCatalog(ctx, b.q, vendor, itemNumber, priceDate)
}

func (b *pgBatch) EnsureVendor(ctx context.Context, name string) (*model.Vendor, error) {
	key := model.VendorKey(name)
	if key == "" {
		return nil, eris.New("postgres: vendor name is empty")
	}
	var v model.Vendor
	err := b.q.QueryRow(ctx, vendorUpsertSQL,
		uuid.New().String(), key, model.NormalizeVendor(name), time.Now().UTC(),
	).Scan(&v.ID, &v.Name, &v.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure vendor %s", name)
	}
	return &v, nil
}

func (b *pgBatch) UpsertCatalogItem(ctx context.Context, item *model.CatalogItem) (model.UpsertOutcome, error) {
	key := item.Key()
	now := time.Now().UTC()
	var inserted bool
	err := b.q.QueryRow(ctx, catalogUpsertSQL,
		uuid.New().String(), key.Vendor, item.Vendor, key.ItemNumber, item.Description, item.Brand,
		item.Category, item.PackSizeRaw, item.PackCount, item.UnitQty, string(item.UnitUOM),
		string(item.Dimension), item.CaseTotalOz, item.CaseTotalEach, item.Price, model.Date(item.PriceDate),
		item.CostPerOz, item.CostPerEach, item.SearchKey, now, now,
	).Scan(&item.ID, &item.CreatedAt, &inserted)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert catalog item %s/%s", item.Vendor, item.ItemNumber)
	}
	item.UpdatedAt = now
	if inserted {
		return model.OutcomeCreated, nil
	}
	return model.OutcomeUpdated, nil
}

func (b *pgBatch) RecordException(ctx context.Context, ex *model.Exception) error {
	return pgRecordException(ctx, b.q, ex)
}

func (b *pgBatch) RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error {
	return pgRecordChangelog(ctx, b.q, entry)
}

// --- Catalog ---

func scanPGCatalogItem(row scannable) (*model.CatalogItem, error) {
	var c model.CatalogItem
	var unit, dim string
	if err := row.Scan(&c.ID, &c.Vendor, &c.ItemNumber, &c.Description, &c.Brand, &c.Category,
		&c.PackSizeRaw, &c.PackCount, &c.UnitQty, &unit, &dim, &c.CaseTotalOz, &c.CaseTotalEach,
		&c.Price, &c.PriceDate, &c.CostPerOz, &c.CostPerEach, &c.SearchKey, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.UnitUOM, c.Dimension = units.Unit(unit), units.Dimension(dim)
	c.PriceDate = model.Date(c.PriceDate)
	return &c, nil
}

func pgFindCatalog(ctx context.Context, q db.Querier, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	item, err := scanPGCatalogItem(q.QueryRow(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE vendor_key = $1 AND item_number = $2 AND price_date = $3`,
		model.VendorKey(vendor), strings.TrimSpace(itemNumber), model.Date(priceDate),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find catalog item")
	}
	return item, nil
}

func (s *PostgresStore) FindCatalogItem(ctx context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	return pgFindCatalog(ctx, s.pool, vendor, itemNumber, priceDate)
}

func (s *PostgresStore) LatestCatalogItem(ctx context.Context, vendor, itemNumber string) (*model.CatalogItem, error) {
	item, err := scanPGCatalogItem(s.pool.QueryRow(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE vendor_key = $1 AND item_number = $2
		 ORDER BY price_date DESC LIMIT 1`,
		model.VendorKey(vendor), strings.TrimSpace(itemNumber),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest catalog item")
	}
	return item, nil
}

func (s *PostgresStore) QueryByAlias(ctx context.Context, aliasKeys []string) ([]model.CatalogItem, error) {
	var keys []string
	for _, a := range aliasKeys {
		if a != "" {
			keys = append(keys, a)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items
		 WHERE EXISTS (SELECT 1 FROM unnest($1::text[]) AS a(key) WHERE strpos(' ' || search_key || ' ', ' ' || a.key || ' ') > 0)
		 ORDER BY vendor, item_number, price_date`,
		keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query by alias")
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		item, err := scanPGCatalogItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: query by alias iterate")
}

func (s *PostgresStore) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM vendors ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var out []model.Vendor
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vendors iterate")
}

// --- Ingredients ---

func scanPGIngredient(row scannable) (*model.Ingredient, error) {
	var i model.Ingredient
	var mode, basis, unit string
	if err := row.Scan(&i.ID, &i.Name, &mode, &i.LockedVendor, &i.LockedItemNumber, &basis, &i.Category,
		&i.LastCostPerOz, &i.LastCostPerEach, &unit, &i.LastUpdated,
	); err != nil {
		return nil, err
	}
	i.Mode, i.CostBasis, i.LastCostUnit = model.LockMode(mode), model.CostBasis(basis), units.Unit(unit)
	return &i, nil
}

func (s *PostgresStore) aliasesFor(ctx context.Context, byID map[string]*model.Ingredient) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ingredient_id, alias FROM ingredient_aliases WHERE ingredient_id = ANY($1) ORDER BY ingredient_id, position`,
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: list aliases")
	}
	defer rows.Close()
	for rows.Next() {
		var id, alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return eris.Wrap(err, "postgres: scan alias")
		}
		if ing, ok := byID[id]; ok {
			ing.Aliases = append(ing.Aliases, alias)
		}
	}
	return eris.Wrap(rows.Err(), "postgres: list aliases iterate")
}

func (s *PostgresStore) GetIngredient(ctx context.Context, name string) (*model.Ingredient, error) {
	ing, err := scanPGIngredient(s.pool.QueryRow(ctx,
		`SELECT `+ingredientColumns+` FROM ingredients WHERE name_key = $1`, nameKey(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ingredient %s", name)
	}
	if err := s.aliasesFor(ctx, map[string]*model.Ingredient{ing.ID: ing}); err != nil {
		return nil, err
	}
	return ing, nil
}

func (s *PostgresStore) ListIngredients(ctx context.Context) ([]model.Ingredient, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ingredientColumns+` FROM ingredients ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingredients")
	}
	var list []*model.Ingredient
	byID := make(map[string]*model.Ingredient)
	for rows.Next() {
		ing, err := scanPGIngredient(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan ingredient")
		}
		list = append(list, ing)
		byID[ing.ID] = ing
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list ingredients iterate")
	}
	if len(list) == 0 {
		return nil, nil
	}
	if err := s.aliasesFor(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]model.Ingredient, len(list))
	for i, ing := range list {
		out[i] = *ing
	}
	return out, nil
}

// SaveIngredient inserts or replaces an ingredient definition and its
// aliases. Cached cost columns are left untouched.
func (s *PostgresStore) SaveIngredient(ctx context.Context, ing *model.Ingredient) error {
	if ing.ID == "" {
		ing.ID = uuid.New().String()
	}
	return s.inTx(ctx, func(q db.Querier) error {
		err := q.QueryRow(ctx, ingredientUpsertSQL,
			ing.ID, nameKey(ing.Name), ing.Name, string(ing.Mode), ing.LockedVendor, ing.LockedItemNumber,
			string(ing.CostBasis), ing.Category,
		).Scan(&ing.ID)
		if err != nil {
			return eris.Wrapf(err, "postgres: save ingredient %s", ing.Name)
		}
		if _, err := q.Exec(ctx, `DELETE FROM ingredient_aliases WHERE ingredient_id = $1`, ing.ID); err != nil {
			return eris.Wrapf(err, "postgres: clear aliases %s", ing.Name)
		}
		rows := make([][]any, len(ing.Aliases))
		for i, a := range ing.Aliases {
			rows[i] = []any{ing.ID, i, a}
		}
		_, err = db.CopyFrom(ctx, q, "ingredient_aliases", []string{"ingredient_id", "position", "alias"}, rows)
		return err
	})
}

func (s *PostgresStore) DeleteIngredient(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ingredients WHERE name_key = $1`, nameKey(name))
	if err != nil {
		return eris.Wrapf(err, "postgres: delete ingredient %s", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	return nil
}

func (s *PostgresStore) UpdateIngredientCost(ctx context.Context, name string, cost CostUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingredients SET last_cost_per_oz = $1, last_cost_per_each = $2, last_cost_unit = $3, last_updated = $4
		 WHERE name_key = $5`,
		cost.PerOz, cost.PerEach, string(cost.Unit), cost.UpdatedAt.UTC(), nameKey(name),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update ingredient cost %s", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	return nil
}

// --- Recipes ---

func (s *PostgresStore) linesFor(ctx context.Context, byID map[string]*model.Recipe) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT recipe_id, position, kind, ref, qty, uom, note FROM recipe_lines
		 WHERE recipe_id = ANY($1) ORDER BY recipe_id, position`,
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: list recipe lines")
	}
	defer rows.Close()
	for rows.Next() {
		var id, kind string
		var l model.RecipeLine
		if err := rows.Scan(&id, &l.Position, &kind, &l.Ref, &l.Qty, &l.UOM, &l.Note); err != nil {
			return eris.Wrap(err, "postgres: scan recipe line")
		}
		l.Kind = model.LineKind(kind)
		if r, ok := byID[id]; ok {
			r.Lines = append(r.Lines, l)
		}
	}
	return eris.Wrap(rows.Err(), "postgres: list recipe lines iterate")
}

func (s *PostgresStore) GetRecipe(ctx context.Context, name string) (*model.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE name_key = $1`, nameKey(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recipe %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get recipe %s", name)
	}
	if err := s.linesFor(ctx, map[string]*model.Recipe{r.ID: r}); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRecipes(ctx context.Context) ([]model.Recipe, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recipes")
	}
	var list []*model.Recipe
	byID := make(map[string]*model.Recipe)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan recipe")
		}
		list = append(list, r)
		byID[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list recipes iterate")
	}
	if len(list) == 0 {
		return nil, nil
	}
	if err := s.linesFor(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]model.Recipe, len(list))
	for i, r := range list {
		out[i] = *r
	}
	return out, nil
}

func (s *PostgresStore) SaveRecipe(ctx context.Context, r *model.Recipe) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(q db.Querier) error {
		err := q.QueryRow(ctx, recipeUpsertSQL,
			r.ID, nameKey(r.Name), r.Name, r.Category, r.MenuPrice, r.YieldFactor, r.YieldQty, r.YieldUOM, now, now,
		).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			return eris.Wrapf(err, "postgres: save recipe %s", r.Name)
		}
		r.UpdatedAt = now
		if _, err := q.Exec(ctx, `DELETE FROM recipe_lines WHERE recipe_id = $1`, r.ID); err != nil {
			return eris.Wrapf(err, "postgres: clear recipe lines %s", r.Name)
		}
		rows := make([][]any, len(r.Lines))
		for i := range r.Lines {
			l := &r.Lines[i]
			l.Position = i + 1
			rows[i] = []any{r.ID, l.Position, string(l.Kind), l.Ref, l.Qty, l.UOM, l.Note}
		}
		_, err = db.CopyFrom(ctx, q, "recipe_lines",
			[]string{"recipe_id", "position", "kind", "ref", "qty", "uom", "note"}, rows)
		return err
	})
}

func (s *PostgresStore) DeleteRecipe(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipes WHERE name_key = $1`, nameKey(name))
	if err != nil {
		return eris.Wrapf(err, "postgres: delete recipe %s", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "recipe %q", name)
	}
	return nil
}

// --- Audit ---

func pgRecordException(ctx context.Context, q db.Querier, ex *model.Exception) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	ctxJSON, err := json.Marshal(ex.Context)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal exception context")
	}
	_, err = q.Exec(ctx,
		`INSERT INTO exceptions (id, type, context, created_at) VALUES ($1, $2, $3, $4)`,
		ex.ID, string(ex.Type), ctxJSON, ex.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert exception")
}

func pgRecordChangelog(ctx context.Context, q db.Querier, entry *model.ChangelogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	var details []byte
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal changelog details")
		}
		details = b
	}
	_, err := q.Exec(ctx,
		`INSERT INTO changelog (id, ts, actor, action, details) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, details,
	)
	return eris.Wrap(err, "postgres: insert changelog")
}

func (s *PostgresStore) RecordException(ctx context.Context, ex *model.Exception) error {
	return pgRecordException(ctx, s.pool, ex)
}

func (s *PostgresStore) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]model.Exception, error) {
	query := `SELECT id, type, context, created_at, resolved, resolved_at FROM exceptions WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.IncludeResolved {
		query += ` AND NOT resolved`
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exceptions")
	}
	defer rows.Close()

	var out []model.Exception
	for rows.Next() {
		var ex model.Exception
		var typ string
		var ctxJSON []byte
		if err := rows.Scan(&ex.ID, &typ, &ctxJSON, &ex.CreatedAt, &ex.Resolved, &ex.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exception")
		}
		ex.Type = model.ExceptionType(typ)
		if err := json.Unmarshal(ctxJSON, &ex.Context); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal exception context")
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list exceptions iterate")
}

func (s *PostgresStore) ResolveException(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exceptions SET resolved = true, resolved_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve exception %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "exception %s", id)
	}
	return nil
}

func (s *PostgresStore) RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error {
	return pgRecordChangelog(ctx, s.pool, entry)
}

func (s *PostgresStore) ListChangelog(ctx context.Context, filter ChangelogFilter) ([]model.ChangelogEntry, error) {
	query := `SELECT id, ts, actor, action, details FROM changelog WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND ts >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changelog")
	}
	defer rows.Close()

	var out []model.ChangelogEntry
	for rows.Next() {
		var e model.ChangelogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan changelog")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal changelog details")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list changelog iterate")
}

// --- Inventory ---

func (s *PostgresStore) SaveCount(ctx context.Context, count *model.InventoryCount) error {
	if count.ID == "" {
		count.ID = uuid.New().String()
	}
	if count.TakenAt.IsZero() {
		count.TakenAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(q db.Querier) error {
		if _, err := q.Exec(ctx,
			`INSERT INTO inventory_counts (id, taken_at, counted_by) VALUES ($1, $2, $3)`,
			count.ID, count.TakenAt, count.CountedBy,
		); err != nil {
			return eris.Wrap(err, "postgres: insert inventory count")
		}
		rows := make([][]any, len(count.Lines))
		for i, l := range count.Lines {
			rows[i] = []any{count.ID, i, l.Ingredient, l.Qty, l.UOM, l.Par}
		}
		_, err := db.CopyFrom(ctx, q, "inventory_lines",
			[]string{"count_id", "position", "ingredient", "qty", "uom", "par"}, rows)
		return err
	})
}

func (s *PostgresStore) LatestCount(ctx context.Context) (*model.InventoryCount, error) {
	var c model.InventoryCount
	err := s.pool.QueryRow(ctx,
		`SELECT id, taken_at, counted_by FROM inventory_counts ORDER BY taken_at DESC LIMIT 1`,
	).Scan(&c.ID, &c.TakenAt, &c.CountedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest inventory count")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ingredient, qty, uom, par FROM inventory_lines WHERE count_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list inventory lines")
	}
	defer rows.Close()
	for rows.Next() {
		var l model.CountLine
		if err := rows.Scan(&l.Ingredient, &l.Qty, &l.UOM, &l.Par); err != nil {
			return nil, eris.Wrap(err, "postgres: scan inventory line")
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, eris.Wrap(rows.Err(), "postgres: list inventory lines iterate")
}
