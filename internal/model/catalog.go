// Package model defines the domain types shared by the ingestion, costing,
// and storage layers.
package model

import (
	"strings"
	"time"

	"github.com/sells-group/kitchen-cli/internal/units"
)

// DateLayout is the canonical price_date representation.
const DateLayout = "2006-01-02"

// Vendor is a supplier that owns catalog items.
type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertOutcome reports whether an upsert inserted or replaced a record.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// CatalogItem is one vendor's priced SKU on a given price date.
// (Vendor, ItemNumber, PriceDate) is unique.
type CatalogItem struct {
	ID            string          `json:"id"`
	Vendor        string          `json:"vendor"`
	ItemNumber    string          `json:"item_number"`
	Description   string          `json:"description"`
	Brand         string          `json:"brand,omitempty"`
	Category      string          `json:"category,omitempty"`
	PackSizeRaw   string          `json:"pack_size_raw"`
	PackCount     int             `json:"pack_count"`
	UnitQty       float64         `json:"unit_qty"`
	UnitUOM       units.Unit      `json:"unit_uom"`
	Dimension     units.Dimension `json:"dimension"`
	CaseTotalOz   *float64        `json:"case_total_oz,omitempty"`
	CaseTotalEach *float64        `json:"case_total_each,omitempty"`
	Price         float64         `json:"price"`
	PriceDate     time.Time       `json:"price_date"`
	CostPerOz     *float64        `json:"cost_per_oz,omitempty"`
	CostPerEach   *float64        `json:"cost_per_each,omitempty"`
	SearchKey     string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CatalogKey identifies a catalog record for upserts.
type CatalogKey struct {
	Vendor     string
	ItemNumber string
	PriceDate  string
}

// Key returns the upsert key. Vendor comparison is case-insensitive.
func (c *CatalogItem) Key() CatalogKey {
	return CatalogKey{
		Vendor:     VendorKey(c.Vendor),
		ItemNumber: strings.TrimSpace(c.ItemNumber),
		PriceDate:  c.PriceDate.Format(DateLayout),
	}
}

// CountBased reports whether the item is priced per each.
func (c *CatalogItem) CountBased() bool {
	return c.CostPerEach != nil
}

// UnitCost returns the populated cost field and the unit it is expressed in.
func (c *CatalogItem) UnitCost() (float64, units.Unit, bool) {
	switch {
	case c.CostPerOz != nil:
		return *c.CostPerOz, units.Base(c.Dimension), true
	case c.CostPerEach != nil:
		return *c.CostPerEach, units.Each, true
	default:
		return 0, "", false
	}
}

// NormalizeVendor trims and collapses whitespace in a vendor name.
func NormalizeVendor(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// VendorKey is the case-insensitive identity of a vendor name.
func VendorKey(name string) string {
	return SearchKey(name)
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
