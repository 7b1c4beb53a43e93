package inventory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/etl"
	"github.com/sells-group/kitchen-cli/internal/model"
)

// RecordStore persists counts and their audit trail.
type RecordStore interface {
	SaveCount(ctx context.Context, count *model.InventoryCount) error
	RecordChangelog(ctx context.Context, entry *model.ChangelogEntry) error
}

// Validate normalizes line names and rejects negative or unnamed lines.
func Validate(count *model.InventoryCount) error {
	if len(count.Lines) == 0 {
		return eris.New("inventory: count has no lines")
	}
	for i := range count.Lines {
		l := &count.Lines[i]
		l.Ingredient = strings.Join(strings.Fields(l.Ingredient), " ")
		l.UOM = strings.TrimSpace(l.UOM)
		if l.Ingredient == "" {
			return eris.Errorf("inventory: line %d has no ingredient", i+1)
		}
		if l.Qty < 0 || l.Par < 0 {
			return eris.Errorf("inventory: line %d (%s) has a negative quantity", i+1, l.Ingredient)
		}
	}
	return nil
}

// Record validates and saves count and appends an inventory_counted
// changelog entry.
func Record(ctx context.Context, st RecordStore, count *model.InventoryCount, now time.Time) error {
	if err := Validate(count); err != nil {
		return err
	}
	if count.TakenAt.IsZero() {
		count.TakenAt = now.UTC()
	}
	if err := st.SaveCount(ctx, count); err != nil {
		return eris.Wrap(err, "inventory: save count")
	}
	actor := count.CountedBy
	if actor == "" {
		actor = "inventory"
	}
	return st.RecordChangelog(ctx, &model.ChangelogEntry{
		Timestamp: now.UTC(),
		Actor:     actor,
		Action:    model.ActionInventoryCounted,
		Details: map[string]any{
			"count_id": count.ID,
			"lines":    len(count.Lines),
		},
	})
}

// Count sheet columns, matched case-insensitively.
var (
	ingredientColumns = []string{"ingredient", "item", "name"}
	qtyColumns        = []string{"qty", "quantity", "on hand", "on_hand", "count"}
	uomColumns        = []string{"uom", "unit"}
	parColumns        = []string{"par", "par level"}
)

// CountFromRows builds a count from an uploaded count sheet.
func CountFromRows(rows []etl.Row) (*model.InventoryCount, error) {
	count := &model.InventoryCount{}
	for i, r := range rows {
		name := lookup(r, ingredientColumns)
		if name.Blank() {
			continue
		}
		qty, err := number(lookup(r, qtyColumns))
		if err != nil {
			return nil, eris.Wrapf(err, "inventory: row %d qty", i+1)
		}
		par, err := number(lookup(r, parColumns))
		if err != nil {
			return nil, eris.Wrapf(err, "inventory: row %d par", i+1)
		}
		count.Lines = append(count.Lines, model.CountLine{
			Ingredient: name.String(),
			Qty:        qty,
			UOM:        lookup(r, uomColumns).String(),
			Par:        par,
		})
	}
	if err := Validate(count); err != nil {
		return nil, err
	}
	return count, nil
}

func lookup(r etl.Row, names []string) etl.Value {
	for k, v := range r {
		key := strings.ToLower(strings.TrimSpace(k))
		for _, n := range names {
			if key == n {
				return v
			}
		}
	}
	return etl.Null()
}

func number(v etl.Value) (float64, error) {
	if n, ok := v.Number(); ok {
		return n, nil
	}
	if v.Blank() {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v.String(), ",", ""), 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", v.String())
	}
	return f, nil
}
