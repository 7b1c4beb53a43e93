// Package inventory values stock counts at current ingredient costs and
// suggests reorder quantities against par levels.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/costing"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// Pricer resolves an ingredient's current unit cost by name.
// *costing.Resolver implements it.
type Pricer interface {
	ResolveByName(ctx context.Context, name string) (*model.Ingredient, *costing.Cost, error)
}

// LineValue is the valued form of one count line. Value is nil when the line
// could not be priced.
type LineValue struct {
	Ingredient string   `json:"ingredient"`
	Qty        float64  `json:"qty"`
	UOM        string   `json:"uom"`
	UnitCost   *float64 `json:"unit_cost,omitempty"`
	CostUnit   string   `json:"cost_unit,omitempty"`
	Value      *float64 `json:"value"`
	Vendor     string   `json:"vendor,omitempty"`
	Warning    string   `json:"warning,omitempty"`
}

// Valuation is the dollar value of a stock count.
type Valuation struct {
	CountID string      `json:"count_id,omitempty"`
	TakenAt time.Time   `json:"taken_at"`
	Total   float64     `json:"total"`
	Lines   []LineValue `json:"lines"`
}

// Warnings lists the lines that could not be valued.
func (v *Valuation) Warnings() []string {
	var out []string
	for _, l := range v.Lines {
		if l.Warning != "" {
			out = append(out, fmt.Sprintf("%s: %s", l.Ingredient, l.Warning))
		}
	}
	return out
}

// Valuer prices count lines.
type Valuer struct {
	pricer Pricer
}

// NewValuer creates a Valuer backed by p.
func NewValuer(p Pricer) *Valuer {
	return &Valuer{pricer: p}
}

// Value prices every line of count. Lines whose ingredient is unknown,
// unpriced, or counted in a unit that cannot convert to the costed unit are
// reported with a warning and excluded from the total.
func (v *Valuer) Value(ctx context.Context, count *model.InventoryCount) (*Valuation, error) {
	val := &Valuation{CountID: count.ID, TakenAt: count.TakenAt, Lines: make([]LineValue, 0, len(count.Lines))}
	for _, line := range count.Lines {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "inventory: value count")
		}
		lv := LineValue{Ingredient: line.Ingredient, Qty: line.Qty, UOM: line.UOM}
		if err := v.valueLine(ctx, &lv); err != nil {
			return nil, err
		}
		if lv.Value != nil {
			val.Total += *lv.Value
		}
		val.Lines = append(val.Lines, lv)
	}
	return val, nil
}

func (v *Valuer) valueLine(ctx context.Context, lv *LineValue) error {
	_, cost, err := v.pricer.ResolveByName(ctx, lv.Ingredient)
	var npd *costing.NoPriceDataError
	switch {
	case errors.Is(err, store.ErrNotFound):
		lv.Warning = "ingredient not found"
		return nil
	case errors.As(err, &npd):
		lv.Warning = npd.Error()
		return nil
	case err != nil:
		return eris.Wrapf(err, "inventory: price %s", lv.Ingredient)
	}

	countUnit := cost.Unit
	if strings.TrimSpace(lv.UOM) != "" {
		if countUnit, err = units.Parse(lv.UOM); err != nil {
			lv.Warning = err.Error()
			return nil
		}
	}
	qty, err := units.Convert(lv.Qty, countUnit, cost.Unit)
	if err != nil {
		lv.Warning = err.Error()
		zap.L().Debug("inventory line not convertible", zap.String("ingredient", lv.Ingredient), zap.Error(err))
		return nil
	}

	unitCost := cost.Value()
	value := qty * unitCost
	lv.UnitCost, lv.CostUnit, lv.Value = &unitCost, string(cost.Unit), &value
	if cost.Source != nil {
		lv.Vendor = cost.Source.Vendor
	}
	return nil
}

// OrderLine is a suggested purchase in the count's unit.
type OrderLine struct {
	Ingredient string  `json:"ingredient"`
	OnHand     float64 `json:"on_hand"`
	Par        float64 `json:"par"`
	Suggested  float64 `json:"suggested"`
	UOM        string  `json:"uom"`
}

// SuggestOrder returns max(par - on_hand, 0) for each line that carries a par
// level, in count order.
func SuggestOrder(count *model.InventoryCount) []OrderLine {
	var out []OrderLine
	for _, l := range count.Lines {
		if l.Par <= 0 {
			continue
		}
		out = append(out, OrderLine{
			Ingredient: l.Ingredient,
			OnHand:     l.Qty,
			Par:        l.Par,
			Suggested:  max(l.Par-l.Qty, 0),
			UOM:        l.UOM,
		})
	}
	return out
}
