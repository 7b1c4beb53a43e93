package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// sqliteDSN appends the connection pragmas to a file path or DSN.
func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: connect")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS catalog_items (
	id              TEXT PRIMARY KEY,
	vendor_key      TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	item_number     TEXT NOT NULL,
	description     TEXT NOT NULL,
	brand           TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	pack_size_raw   TEXT NOT NULL,
	pack_count      INTEGER NOT NULL,
	unit_qty        REAL NOT NULL,
	unit_uom        TEXT NOT NULL,
	dimension       TEXT NOT NULL,
	case_total_oz   REAL,
	case_total_each REAL,
	price           REAL NOT NULL,
	price_date      TEXT NOT NULL,
	cost_per_oz     REAL,
	cost_per_each   REAL,
	search_key      TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (vendor_key, item_number, price_date)
);

CREATE INDEX IF NOT EXISTS idx_catalog_items_vendor_item ON catalog_items(vendor_key, item_number, price_date DESC);
CREATE INDEX IF NOT EXISTS idx_catalog_items_search_key ON catalog_items(search_key);

CREATE TABLE IF NOT EXISTS ingredients (
	id                 TEXT PRIMARY KEY,
	name_key           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	mode               TEXT NOT NULL DEFAULT 'CHEAPEST',
	locked_vendor      TEXT NOT NULL DEFAULT '',
	locked_item_number TEXT NOT NULL DEFAULT '',
	cost_basis         TEXT NOT NULL DEFAULT 'oz',
	category           TEXT NOT NULL DEFAULT '',
	last_cost_per_oz   REAL,
	last_cost_per_each REAL,
	last_cost_unit     TEXT NOT NULL DEFAULT '',
	last_updated       DATETIME
);

CREATE TABLE IF NOT EXISTS ingredient_aliases (
	ingredient_id TEXT NOT NULL REFERENCES ingredients(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	alias         TEXT NOT NULL,
	PRIMARY KEY (ingredient_id, position)
);

CREATE TABLE IF NOT EXISTS recipes (
	id           TEXT PRIMARY KEY,
	name_key     TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	menu_price   REAL NOT NULL DEFAULT 0,
	yield_factor REAL NOT NULL DEFAULT 1,
	yield_qty    REAL NOT NULL DEFAULT 1,
	yield_uom    TEXT NOT NULL DEFAULT 'each',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recipe_lines (
	recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	ref       TEXT NOT NULL,
	qty       REAL NOT NULL,
	uom       TEXT NOT NULL DEFAULT '',
	note      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (recipe_id, position)
);

CREATE TABLE IF NOT EXISTS exceptions (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	context     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_exceptions_resolved ON exceptions(resolved, created_at);

CREATE TABLE IF NOT EXISTS changelog (
	id        TEXT PRIMARY KEY,
	ts        DATETIME NOT NULL,
	actor     TEXT NOT NULL,
	action    TEXT NOT NULL,
	details   TEXT
);

CREATE INDEX IF NOT EXISTS idx_changelog_ts ON changelog(ts);

CREATE TABLE IF NOT EXISTS inventory_counts (
	id         TEXT PRIMARY KEY,
	taken_at   DATETIME NOT NULL,
	counted_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory_lines (
	count_id   TEXT NOT NULL REFERENCES inventory_counts(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	ingredient TEXT NOT NULL,
	qty        REAL NOT NULL,
	uom        TEXT NOT NULL,
	par        REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (count_id, position)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is implemented by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithinBatch runs fn inside one transaction, rolling back on error.
func (s *SQLiteStore) WithinBatch(ctx context.Context, fn func(Batch) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	if err := fn(&sqliteBatch{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(q sqlQuerier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

type sqliteBatch struct {
	q sqlQuerier
}

func (b *sqliteBatch) FindCatalogItem(ctx context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	return sqliteFindCatalog(ctx, b.q, vendor, itemNumber, priceDate)
}

func (b *sqliteBatch) EnsureVendor(ctx context.Context, name string) (*model.Vendor, error) {
	key := model.VendorKey(name)
	if key == "" {
		return nil, eris.New("sqlite: vendor name is empty")
	}
	var v model.Vendor
	err := b.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM vendors WHERE key = ?`, key).
		Scan(&v.ID, &v.Name, &v.CreatedAt)
	if err == nil {
		return &v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: get vendor %s", name)
	}
	v = model.Vendor{ID: uuid.New().String(), Name: model.NormalizeVendor(name), CreatedAt: time.Now().UTC()}
	if _, err := b.q.ExecContext(ctx,
		`INSERT INTO vendors (id, key, name, created_at) VALUES (?, ?, ?, ?)`,
		v.ID, key, v.Name, v.CreatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert vendor %s", name)
	}
	return &v, nil
}

func (b *sqliteBatch) UpsertCatalogItem(ctx context.Context, item *model.CatalogItem) (model.UpsertOutcome, error) {
	key := item.Key()
	now := time.Now().UTC()
	item.UpdatedAt = now

	var id string
	var createdAt time.Time
	err := b.q.QueryRowContext(ctx,
		`SELECT id, created_at FROM catalog_items WHERE vendor_key = ? AND item_number = ? AND price_date = ?`,
		key.Vendor, key.ItemNumber, key.PriceDate,
	).Scan(&id, &createdAt)
	switch {
	case err == nil:
		item.ID, item.CreatedAt = id, createdAt
		_, err = b.q.ExecContext(ctx, `UPDATE catalog_items SET
			vendor = ?, description = ?, brand = ?, category = ?, pack_size_raw = ?, pack_count = ?,
			unit_qty = ?, unit_uom = ?, dimension = ?, case_total_oz = ?, case_total_each = ?,
			price = ?, cost_per_oz = ?, cost_per_each = ?, search_key = ?, updated_at = ?
			WHERE id = ?`,
			item.Vendor, item.Description, item.Brand, item.Category, item.PackSizeRaw, item.PackCount,
			item.UnitQty, string(item.UnitUOM), string(item.Dimension), item.CaseTotalOz, item.CaseTotalEach,
			item.Price, item.CostPerOz, item.CostPerEach, item.SearchKey, now, id,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: update catalog item %s/%s", item.Vendor, item.ItemNumber)
		}
		return model.OutcomeUpdated, nil
	case errors.Is(err, sql.ErrNoRows):
		item.ID, item.CreatedAt = uuid.New().String(), now
		_, err = b.q.ExecContext(ctx, `INSERT INTO catalog_items (
			id, vendor_key, vendor, item_number, description, brand, category, pack_size_raw, pack_count,
			unit_qty, unit_uom, dimension, case_total_oz, case_total_each, price, price_date,
			cost_per_oz, cost_per_each, search_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, key.Vendor, item.Vendor, key.ItemNumber, item.Description, item.Brand, item.Category,
			item.PackSizeRaw, item.PackCount, item.UnitQty, string(item.UnitUOM), string(item.Dimension),
			item.CaseTotalOz, item.CaseTotalEach, item.Price, key.PriceDate,
			item.CostPerOz, item.CostPerEach, item.SearchKey, now, now,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: insert catalog item %s/%s", item.Vendor, item.ItemNumber)
		}
		return model.OutcomeCreated, nil
	default:
		return "", eris.Wrap(err, "sqlite: find catalog item for upsert")
	}
}

func (b *sqliteBatch) RecordException(ctx context.Context, ex *model.Exception) error {
	return sqliteRecordException(ctx, b.q, ex)
}

func (b *sqliteBatch) RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error {
	return sqliteRecordChangelog(ctx, b.q, entry)
}

// --- Catalog ---

const catalogColumns = `id, vendor, item_number, description, brand, category, pack_size_raw, pack_count,
	unit_qty, unit_uom, dimension, case_total_oz, case_total_each, price, price_date,
	cost_per_oz, cost_per_each, search_key, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanCatalogItem(row scannable) (*model.CatalogItem, error) {
	var c model.CatalogItem
	var unit, dim, priceDate string
	if err := row.Scan(&c.ID, &c.Vendor, &c.ItemNumber, &c.Description, &c.Brand, &c.Category,
		&c.PackSizeRaw, &c.PackCount, &c.UnitQty, &unit, &dim, &c.CaseTotalOz, &c.CaseTotalEach,
		&c.Price, &priceDate, &c.CostPerOz, &c.CostPerEach, &c.SearchKey, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.UnitUOM, c.Dimension = units.Unit(unit), units.Dimension(dim)
	d, err := time.Parse(model.DateLayout, priceDate)
	if err != nil {
		return nil, eris.Wrapf(err, "parse price_date %q", priceDate)
	}
	c.PriceDate = d
	return &c, nil
}

func sqliteFindCatalog(ctx context.Context, q sqlQuerier, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE vendor_key = ? AND item_number = ? AND price_date = ?`,
		model.VendorKey(vendor), strings.TrimSpace(itemNumber), priceDate.Format(model.DateLayout),
	)
	item, err := scanCatalogItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find catalog item")
	}
	return item, nil
}

func (s *SQLiteStore) FindCatalogItem(ctx context.Context, vendor, itemNumber string, priceDate time.Time) (*model.CatalogItem, error) {
	return sqliteFindCatalog(ctx, s.db, vendor, itemNumber, priceDate)
}

func (s *SQLiteStore) LatestCatalogItem(ctx context.Context, vendor, itemNumber string) (*model.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE vendor_key = ? AND item_number = ?
		 ORDER BY price_date DESC LIMIT 1`,
		model.VendorKey(vendor), strings.TrimSpace(itemNumber),
	)
	item, err := scanCatalogItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest catalog item")
	}
	return item, nil
}

func (s *SQLiteStore) QueryByAlias(ctx context.Context, aliasKeys []string) ([]model.CatalogItem, error) {
	var conds []string
	var args []any
	for _, a := range aliasKeys {
		if a == "" {
			continue
		}
		conds = append(conds, `instr(' ' || search_key || ' ', ?) > 0`)
		args = append(args, model.PadKey(a))
	}
	if len(conds) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE `+strings.Join(conds, " OR ")+
			` ORDER BY vendor, item_number, price_date`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query by alias")
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: query by alias iterate")
}

func (s *SQLiteStore) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM vendors ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var out []model.Vendor
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vendors iterate")
}

// --- Ingredients ---

const ingredientColumns = `id, name, mode, locked_vendor, locked_item_number, cost_basis, category,
	last_cost_per_oz, last_cost_per_each, last_cost_unit, last_updated`

func scanIngredient(row scannable) (*model.Ingredient, error) {
	var i model.Ingredient
	var mode, basis, unit string
	var updated sql.NullTime
	if err := row.Scan(&i.ID, &i.Name, &mode, &i.LockedVendor, &i.LockedItemNumber, &basis, &i.Category,
		&i.LastCostPerOz, &i.LastCostPerEach, &unit, &updated,
	); err != nil {
		return nil, err
	}
	i.Mode, i.CostBasis, i.LastCostUnit = model.LockMode(mode), model.CostBasis(basis), units.Unit(unit)
	if updated.Valid {
		t := updated.Time
		i.LastUpdated = &t
	}
	return &i, nil
}

func (s *SQLiteStore) loadAliases(ctx context.Context, byID map[string]*model.Ingredient) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ingredient_id, alias FROM ingredient_aliases ORDER BY ingredient_id, position`)
	if err != nil {
		return eris.Wrap(err, "sqlite: list aliases")
	}
	defer rows.Close()
	for rows.Next() {
		var id, alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return eris.Wrap(err, "sqlite: scan alias")
		}
		if ing, ok := byID[id]; ok {
			ing.Aliases = append(ing.Aliases, alias)
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: list aliases iterate")
}

func (s *SQLiteStore) GetIngredient(ctx context.Context, name string) (*model.Ingredient, error) {
	ing, err := scanIngredient(s.db.QueryRowContext(ctx,
		`SELECT `+ingredientColumns+` FROM ingredients WHERE name_key = ?`, nameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "ingredient %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ingredient %s", name)
	}
	if err := s.loadAliases(ctx, map[string]*model.Ingredient{ing.ID: ing}); err != nil {
		return nil, err
	}
	return ing, nil
}

func (s *SQLiteStore) ListIngredients(ctx context.Context) ([]model.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ingredientColumns+` FROM ingredients ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingredients")
	}
	var list []*model.Ingredient
	byID := make(map[string]*model.Ingredient)
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan ingredient")
		}
		list = append(list, ing)
		byID[ing.ID] = ing
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingredients iterate")
	}
	if err := s.loadAliases(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]model.Ingredient, len(list))
	for i, ing := range list {
		out[i] = *ing
	}
	return out, nil
}

// SaveIngredient inserts or replaces an ingredient definition. Cached cost
// columns are left untouched.
func (s *SQLiteStore) SaveIngredient(ctx context.Context, ing *model.Ingredient) error {
	return s.inTx(ctx, func(q sqlQuerier) error {
		key := nameKey(ing.Name)
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM ingredients WHERE name_key = ?`, key).Scan(&id)
		switch {
		case err == nil:
			ing.ID = id
			_, err = q.ExecContext(ctx, `UPDATE ingredients SET name = ?, mode = ?, locked_vendor = ?,
				locked_item_number = ?, cost_basis = ?, category = ? WHERE id = ?`,
				ing.Name, string(ing.Mode), ing.LockedVendor, ing.LockedItemNumber, string(ing.CostBasis), ing.Category, id)
		case errors.Is(err, sql.ErrNoRows):
			if ing.ID == "" {
				ing.ID = uuid.New().String()
			}
			_, err = q.ExecContext(ctx, `INSERT INTO ingredients (id, name_key, name, mode, locked_vendor,
				locked_item_number, cost_basis, category) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				ing.ID, key, ing.Name, string(ing.Mode), ing.LockedVendor, ing.LockedItemNumber, string(ing.CostBasis), ing.Category)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: save ingredient %s", ing.Name)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM ingredient_aliases WHERE ingredient_id = ?`, ing.ID); err != nil {
			return eris.Wrapf(err, "sqlite: clear aliases %s", ing.Name)
		}
		for i, a := range ing.Aliases {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO ingredient_aliases (ingredient_id, position, alias) VALUES (?, ?, ?)`,
				ing.ID, i, a,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert alias %s", a)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteIngredient(ctx context.Context, name string) error {
	return s.inTx(ctx, func(q sqlQuerier) error {
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM ingredients WHERE name_key = ?`, nameKey(name)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "ingredient %q", name)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: find ingredient %s", name)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM ingredient_aliases WHERE ingredient_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete aliases %s", name)
		}
		_, err = q.ExecContext(ctx, `DELETE FROM ingredients WHERE id = ?`, id)
		return eris.Wrapf(err, "sqlite: delete ingredient %s", name)
	})
}

func (s *SQLiteStore) UpdateIngredientCost(ctx context.Context, name string, cost CostUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingredients SET last_cost_per_oz = ?, last_cost_per_each = ?, last_cost_unit = ?, last_updated = ?
		 WHERE name_key = ?`,
		cost.PerOz, cost.PerEach, string(cost.Unit), cost.UpdatedAt.UTC(), nameKey(name),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update ingredient cost %s", name)
	}
	return checkRowsAffected(res, "ingredient", name)
}

// --- Recipes ---

const recipeColumns = `id, name, category, menu_price, yield_factor, yield_qty, yield_uom, created_at, updated_at`

func scanRecipe(row scannable) (*model.Recipe, error) {
	var r model.Recipe
	if err := row.Scan(&r.ID, &r.Name, &r.Category, &r.MenuPrice, &r.YieldFactor, &r.YieldQty, &r.YieldUOM,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) loadLines(ctx context.Context, byID map[string]*model.Recipe) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe_id, position, kind, ref, qty, uom, note FROM recipe_lines ORDER BY recipe_id, position`)
	if err != nil {
		return eris.Wrap(err, "sqlite: list recipe lines")
	}
	defer rows.Close()
	for rows.Next() {
		var id, kind string
		var l model.RecipeLine
		if err := rows.Scan(&id, &l.Position, &kind, &l.Ref, &l.Qty, &l.UOM, &l.Note); err != nil {
			return eris.Wrap(err, "sqlite: scan recipe line")
		}
		l.Kind = model.LineKind(kind)
		if r, ok := byID[id]; ok {
			r.Lines = append(r.Lines, l)
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: list recipe lines iterate")
}

func (s *SQLiteStore) GetRecipe(ctx context.Context, name string) (*model.Recipe, error) {
	r, err := scanRecipe(s.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE name_key = ?`, nameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recipe %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get recipe %s", name)
	}
	if err := s.loadLines(ctx, map[string]*model.Recipe{r.ID: r}); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListRecipes(ctx context.Context) ([]model.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recipes")
	}
	var list []*model.Recipe
	byID := make(map[string]*model.Recipe)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan recipe")
		}
		list = append(list, r)
		byID[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list recipes iterate")
	}
	if err := s.loadLines(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]model.Recipe, len(list))
	for i, r := range list {
		out[i] = *r
	}
	return out, nil
}

func (s *SQLiteStore) SaveRecipe(ctx context.Context, r *model.Recipe) error {
	return s.inTx(ctx, func(q sqlQuerier) error {
		key := nameKey(r.Name)
		now := time.Now().UTC()
		r.UpdatedAt = now
		var id string
		var createdAt time.Time
		err := q.QueryRowContext(ctx, `SELECT id, created_at FROM recipes WHERE name_key = ?`, key).Scan(&id, &createdAt)
		switch {
		case err == nil:
			r.ID, r.CreatedAt = id, createdAt
			_, err = q.ExecContext(ctx, `UPDATE recipes SET name = ?, category = ?, menu_price = ?, yield_factor = ?,
				yield_qty = ?, yield_uom = ?, updated_at = ? WHERE id = ?`,
				r.Name, r.Category, r.MenuPrice, r.YieldFactor, r.YieldQty, r.YieldUOM, now, id)
		case errors.Is(err, sql.ErrNoRows):
			if r.ID == "" {
				r.ID = uuid.New().String()
			}
			r.CreatedAt = now
			_, err = q.ExecContext(ctx, `INSERT INTO recipes (id, name_key, name, category, menu_price, yield_factor,
				yield_qty, yield_uom, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, key, r.Name, r.Category, r.MenuPrice, r.YieldFactor, r.YieldQty, r.YieldUOM, now, now)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: save recipe %s", r.Name)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM recipe_lines WHERE recipe_id = ?`, r.ID); err != nil {
			return eris.Wrapf(err, "sqlite: clear recipe lines %s", r.Name)
		}
		for i := range r.Lines {
			l := &r.Lines[i]
			l.Position = i + 1
			if _, err := q.ExecContext(ctx,
				`INSERT INTO recipe_lines (recipe_id, position, kind, ref, qty, uom, note) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, l.Position, string(l.Kind), l.Ref, l.Qty, l.UOM, l.Note,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert recipe line %d", l.Position)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteRecipe(ctx context.Context, name string) error {
	return s.inTx(ctx, func(q sqlQuerier) error {
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM recipes WHERE name_key = ?`, nameKey(name)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "recipe %q", name)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: find recipe %s", name)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM recipe_lines WHERE recipe_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete recipe lines %s", name)
		}
		_, err = q.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id)
		return eris.Wrapf(err, "sqlite: delete recipe %s", name)
	})
}

// --- Audit ---

func sqliteRecordException(ctx context.Context, q sqlQuerier, ex *model.Exception) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	ctxJSON, err := json.Marshal(ex.Context)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal exception context")
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO exceptions (id, type, context, created_at, resolved) VALUES (?, ?, ?, ?, 0)`,
		ex.ID, string(ex.Type), string(ctxJSON), ex.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert exception")
}

func sqliteRecordChangelog(ctx context.Context, q sqlQuerier, entry *model.ChangelogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	var details *string
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal changelog details")
		}
		s := string(b)
		details = &s
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO changelog (id, ts, actor, action, details) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, details,
	)
	return eris.Wrap(err, "sqlite: insert changelog")
}

func (s *SQLiteStore) RecordException(ctx context.Context, ex *model.Exception) error {
	return sqliteRecordException(ctx, s.db, ex)
}

func (s *SQLiteStore) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]model.Exception, error) {
	query := `SELECT id, type, context, created_at, resolved, resolved_at FROM exceptions WHERE 1=1`
	var args []any
	if !filter.IncludeResolved {
		query += ` AND resolved = 0`
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exceptions")
	}
	defer rows.Close()

	var out []model.Exception
	for rows.Next() {
		var ex model.Exception
		var typ, ctxJSON string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&ex.ID, &typ, &ctxJSON, &ex.CreatedAt, &ex.Resolved, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exception")
		}
		ex.Type = model.ExceptionType(typ)
		if err := json.Unmarshal([]byte(ctxJSON), &ex.Context); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal exception context")
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			ex.ResolvedAt = &t
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list exceptions iterate")
}

func (s *SQLiteStore) ResolveException(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exceptions SET resolved = 1, resolved_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve exception %s", id)
	}
	return checkRowsAffected(res, "exception", id)
}

func (s *SQLiteStore) RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error {
	return sqliteRecordChangelog(ctx, s.db, entry)
}

func (s *SQLiteStore) ListChangelog(ctx context.Context, filter ChangelogFilter) ([]model.ChangelogEntry, error) {
	query := `SELECT id, ts, actor, action, details FROM changelog WHERE 1=1`
	var args []any
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY ts DESC, rowid DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changelog")
	}
	defer rows.Close()

	var out []model.ChangelogEntry
	for rows.Next() {
		var e model.ChangelogEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan changelog")
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal changelog details")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list changelog iterate")
}

// --- Inventory ---

func (s *SQLiteStore) SaveCount(ctx context.Context, count *model.InventoryCount) error {
	if count.ID == "" {
		count.ID = uuid.New().String()
	}
	if count.TakenAt.IsZero() {
		count.TakenAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(q sqlQuerier) error {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO inventory_counts (id, taken_at, counted_by) VALUES (?, ?, ?)`,
			count.ID, count.TakenAt, count.CountedBy,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert inventory count")
		}
		for i, l := range count.Lines {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO inventory_lines (count_id, position, ingredient, qty, uom, par) VALUES (?, ?, ?, ?, ?, ?)`,
				count.ID, i, l.Ingredient, l.Qty, l.UOM, l.Par,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert inventory line %s", l.Ingredient)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LatestCount(ctx context.Context) (*model.InventoryCount, error) {
	var c model.InventoryCount
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, counted_by FROM inventory_counts ORDER BY taken_at DESC LIMIT 1`,
	).Scan(&c.ID, &c.TakenAt, &c.CountedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest inventory count")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ingredient, qty, uom, par FROM inventory_lines WHERE count_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list inventory lines")
	}
	defer rows.Close()
	for rows.Next() {
		var l model.CountLine
		if err := rows.Scan(&l.Ingredient, &l.Qty, &l.UOM, &l.Par); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inventory line")
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, eris.Wrap(rows.Err(), "sqlite: list inventory lines iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
