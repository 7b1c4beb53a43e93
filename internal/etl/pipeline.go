// Package etl ingests vendor price-list rows into the catalog.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/packsize"
	"github.com/sells-group/kitchen-cli/internal/preset"
	"github.com/sells-group/kitchen-cli/internal/resilience"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// errDryRun aborts a batch so a dry run leaves the store untouched.
var errDryRun = errors.New("etl: dry run")

// Pipeline maps, validates, and upserts uploaded rows.
type Pipeline struct {
	store store.Store
	now   func() time.Time
	loc   *time.Location
	retry resilience.RetryConfig
	actor string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLocation sets the timezone that decides the ingestion date.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithRetry sets the retry policy for transient store faults.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithActor names the changelog actor.
func WithActor(actor string) Option {
	return func(p *Pipeline) {
		if actor != "" {
			p.actor = actor
		}
	}
}

// New creates a Pipeline writing to st.
func New(st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: st,
		now:   time.Now,
		loc:   time.UTC,
		retry: resilience.DefaultRetryConfig(),
		actor: "etl",
	}
	for _, o := range opts {
		o(p)
	}
	p.retry.OnRetry = resilience.RetryLogger("catalog_import")
	return p
}

// Ingest maps rows through ps and upserts the valid ones in one batch.
// Row-level problems are recorded as exceptions in the result; the returned
// error is non-nil only when the batch itself could not be written, in which
// case nothing was persisted.
func (p *Pipeline) Ingest(ctx context.Context, rows []Row, ps *preset.Preset, vendorHint string) (*ImportResult, error) {
	return p.run(ctx, rows, ps, vendorHint, false)
}

// DryRun validates rows exactly like Ingest and then rolls the batch back.
func (p *Pipeline) DryRun(ctx context.Context, rows []Row, ps *preset.Preset, vendorHint string) (*ImportResult, error) {
	return p.run(ctx, rows, ps, vendorHint, true)
}

func (p *Pipeline) run(ctx context.Context, rows []Row, ps *preset.Preset, vendorHint string, dryRun bool) (*ImportResult, error) {
	if ps == nil {
		return nil, eris.New("etl: preset is required")
	}
	res := &ImportResult{Preset: ps.Name, Rows: len(rows), DryRun: dryRun}
	ingestDate := model.Date(p.now().In(p.loc))

	err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		res.reset()
		return p.store.WithinBatch(ctx, func(b store.Batch) error {
			if err := p.ingestRows(ctx, b, rows, ps, vendorHint, ingestDate, res); err != nil {
				return err
			}
			if err := b.RecordChangelog(ctx, &model.ChangelogEntry{
				Actor:  p.actor,
				Action: model.ActionCatalogImport,
				Details: map[string]any{
					"preset":      ps.Name,
					"vendor_hint": vendorHint,
					"rows":        len(rows),
					"created":     res.Created,
					"updated":     res.Updated,
					"skipped":     res.Skipped,
					"exceptions":  len(res.Exceptions),
					"defaulted":   res.Defaulted,
				},
			}); err != nil {
				return eris.Wrap(err, "etl: record import summary")
			}
			if dryRun {
				return errDryRun
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errDryRun) {
		zap.L().Error("catalog import failed",
			zap.String("preset", ps.Name),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
		return res, eris.Wrap(err, "etl: ingest")
	}

	zap.L().Info("catalog import complete",
		zap.String("preset", ps.Name),
		zap.Bool("dry_run", dryRun),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (p *Pipeline) ingestRows(ctx context.Context, b store.Batch, rows []Row, ps *preset.Preset, vendorHint string, ingestDate time.Time, res *ImportResult) error {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "etl: ingest rows")
		}
		num := i + 1
		item, defaulted, ex := p.build(row, num, ps, vendorHint, ingestDate)
		if ex != nil {
			if err := b.RecordException(ctx, ex); err != nil {
				return eris.Wrapf(err, "etl: record exception for row %d", num)
			}
			res.Skipped++
			res.Exceptions = append(res.Exceptions, *ex)
			continue
		}

		vendor, err := b.EnsureVendor(ctx, item.Vendor)
		if err != nil {
			return eris.Wrapf(err, "etl: resolve vendor for row %d", num)
		}
		item.Vendor = vendor.Name

		outcome, err := b.UpsertCatalogItem(ctx, item)
		if err != nil {
			return eris.Wrapf(err, "etl: upsert row %d", num)
		}
		switch outcome {
		case model.OutcomeCreated:
			res.Created++
		case model.OutcomeUpdated:
			res.Updated++
		}
		res.Items = append(res.Items, *item)

		if defaulted {
			res.Defaulted++
			if err := b.RecordChangelog(ctx, &model.ChangelogEntry{
				Actor:  p.actor,
				Action: model.ActionPriceDateDefaulted,
				Details: map[string]any{
					"row":         num,
					"preset":      ps.Name,
					"vendor":      item.Vendor,
					"item_number": item.ItemNumber,
					"price_date":  item.PriceDate.Format(model.DateLayout),
				},
			}); err != nil {
				return eris.Wrapf(err, "etl: record defaulted price_date for row %d", num)
			}
		}
	}
	return nil
}

// mapped holds a row's cells keyed by canonical field with preset defaults
// applied.
type mapped map[preset.Field]Value

func (m mapped) text(f preset.Field) string {
	return m[f].String()
}

func mapRow(row Row, ps *preset.Preset) mapped {
	m := make(mapped)
	for header, v := range row {
		f, ok := ps.FieldFor(header)
		if !ok || v.Blank() {
			continue
		}
		m[f] = v
	}
	for _, f := range []preset.Field{
		preset.FieldVendor, preset.FieldItemNumber, preset.FieldDescription, preset.FieldPackSize,
		preset.FieldPrice, preset.FieldPriceDate, preset.FieldBrand, preset.FieldCategory,
	} {
		if _, ok := m[f]; ok {
			continue
		}
		if d, ok := ps.Default(f); ok && d != "" {
			m[f] = Str(d)
		}
	}
	return m
}

// build converts one row into a catalog item, or an exception explaining
// why the row is skipped.
func (p *Pipeline) build(row Row, num int, ps *preset.Preset, vendorHint string, ingestDate time.Time) (*model.CatalogItem, bool, *model.Exception) {
	m := mapRow(row, ps)
	reject := func(typ model.ExceptionType, extra map[string]any) (*model.CatalogItem, bool, *model.Exception) {
		payload := map[string]any{
			"row":    num,
			"preset": ps.Name,
			"raw":    row.context(),
		}
		for k, v := range extra {
			payload[k] = v
		}
		return nil, false, &model.Exception{Type: typ, Context: payload}
	}

	var missing []string
	for _, f := range ps.Required {
		if f == preset.FieldPriceDate && ps.DefaultsDate() {
			continue
		}
		if _, ok := m[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return reject(model.ExceptionMissingField, map[string]any{"fields": missing})
	}

	vendor := model.NormalizeVendor(m.text(preset.FieldVendor))
	if vendor == "" {
		vendor = model.NormalizeVendor(vendorHint)
	}
	if vendor == "" {
		return reject(model.ExceptionMissingField, map[string]any{"fields": []string{string(preset.FieldVendor)}})
	}
	itemNumber := m.text(preset.FieldItemNumber)
	if itemNumber == "" {
		return reject(model.ExceptionMissingField, map[string]any{"fields": []string{string(preset.FieldItemNumber)}})
	}

	packRaw := m.text(preset.FieldPackSize)
	spec := packsize.Parse(packRaw)
	caseTotal, dim, err := spec.CaseTotal()
	if err != nil {
		return reject(model.ExceptionUnparseablePack, map[string]any{
			"pack_size":  packRaw,
			"confidence": string(spec.Confidence),
		})
	}

	var priceDate time.Time
	defaulted := false
	if v, ok := m[preset.FieldPriceDate]; ok {
		priceDate, err = parseDate(v)
		if err != nil {
			return reject(model.ExceptionMissingField, map[string]any{
				"fields": []string{string(preset.FieldPriceDate)},
				"reason": err.Error(),
			})
		}
	} else if ps.DefaultsDate() {
		priceDate, defaulted = ingestDate, true
	} else {
		return reject(model.ExceptionMissingField, map[string]any{"fields": []string{string(preset.FieldPriceDate)}})
	}

	price, err := parsePrice(m[preset.FieldPrice])
	if err != nil {
		return reject(model.ExceptionInvalidQuantity, map[string]any{"reason": err.Error()})
	}
	if caseTotal <= 0 {
		return reject(model.ExceptionInvalidQuantity, map[string]any{
			"reason":     fmt.Sprintf("case total %v is not positive", caseTotal),
			"pack_size":  packRaw,
			"pack_count": spec.PackCount,
		})
	}

	desc := m.text(preset.FieldDescription)
	item := &model.CatalogItem{
		Vendor:      vendor,
		ItemNumber:  itemNumber,
		Description: desc,
		Brand:       m.text(preset.FieldBrand),
		Category:    m.text(preset.FieldCategory),
		PackSizeRaw: packRaw,
		PackCount:   spec.PackCount,
		UnitQty:     *spec.UnitQty,
		UnitUOM:     spec.UnitUOM,
		Dimension:   dim,
		Price:       price,
		PriceDate:   priceDate,
		SearchKey:   model.SearchKey(desc),
	}
	unitCost := price / caseTotal
	if dim == units.Count {
		item.CaseTotalEach, item.CostPerEach = model.Float(caseTotal), model.Float(unitCost)
	} else {
		item.CaseTotalOz, item.CostPerOz = model.Float(caseTotal), model.Float(unitCost)
	}
	return item, defaulted, nil
}
