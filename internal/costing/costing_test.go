package costing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

var (
	jul1 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	jul8 = time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
)

// volumeItem is priced per fluid ounce.
func volumeItem(vendor, number, desc string, date time.Time, perOz float64) model.CatalogItem {
	return model.CatalogItem{
		Vendor:      vendor,
		ItemNumber:  number,
		Description: desc,
		PackSizeRaw: "4/1 GAL",
		PackCount:   4,
		UnitQty:     1,
		UnitUOM:     units.Gallon,
		Dimension:   units.Volume,
		CaseTotalOz: model.Float(512),
		Price:       perOz * 512,
		PriceDate:   date,
		CostPerOz:   model.Float(perOz),
		SearchKey:   model.SearchKey(desc),
	}
}

// countItem is priced per each.
func countItem(vendor, number, desc string, date time.Time, perEach float64) model.CatalogItem {
	return model.CatalogItem{
		Vendor:        vendor,
		ItemNumber:    number,
		Description:   desc,
		PackSizeRaw:   "15 DZ",
		PackCount:     1,
		UnitQty:       15,
		UnitUOM:       units.Dozen,
		Dimension:     units.Count,
		CaseTotalEach: model.Float(180),
		Price:         perEach * 180,
		PriceDate:     date,
		CostPerEach:   model.Float(perEach),
		SearchKey:     model.SearchKey(desc),
	}
}

// massItem is priced per weight ounce.
func massItem(vendor, number, desc string, date time.Time, perOz float64) model.CatalogItem {
	return model.CatalogItem{
		Vendor:      vendor,
		ItemNumber:  number,
		Description: desc,
		PackSizeRaw: "6/32 OZ",
		PackCount:   6,
		UnitQty:     32,
		UnitUOM:     units.Ounce,
		Dimension:   units.Mass,
		CaseTotalOz: model.Float(192),
		Price:       perOz * 192,
		PriceDate:   date,
		CostPerOz:   model.Float(perOz),
		SearchKey:   model.SearchKey(desc),
	}
}

func seed(t *testing.T, st store.Store, items ...model.CatalogItem) {
	t.Helper()
	err := st.WithinBatch(context.Background(), func(b store.Batch) error {
		for i := range items {
			it := items[i]
			if _, err := b.EnsureVendor(context.Background(), it.Vendor); err != nil {
				return err
			}
			if _, err := b.UpsertCatalogItem(context.Background(), &it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func saveIngredient(t *testing.T, st store.Store, ing model.Ingredient) {
	t.Helper()
	require.NoError(t, ing.Normalize())
	require.NoError(t, st.SaveIngredient(context.Background(), &ing))
}
