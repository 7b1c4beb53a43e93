package etl

import (
	"github.com/sells-group/kitchen-cli/internal/model"
)

// ImportResult summarizes one ingestion batch. Created + Updated + Skipped
// always equals the number of input rows.
type ImportResult struct {
	Preset     string              `json:"preset"`
	Rows       int                 `json:"rows"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Skipped    int                 `json:"skipped"`
	Defaulted  int                 `json:"price_dates_defaulted"`
	DryRun     bool                `json:"dry_run"`
	Exceptions []model.Exception   `json:"exceptions"`
	Items      []model.CatalogItem `json:"-"`
}

// ExceptionCounts tallies exceptions by type.
func (r *ImportResult) ExceptionCounts() map[model.ExceptionType]int {
	out := make(map[model.ExceptionType]int)
	for _, ex := range r.Exceptions {
		out[ex.Type]++
	}
	return out
}

func (r *ImportResult) reset() {
	r.Created, r.Updated, r.Skipped, r.Defaulted = 0, 0, 0, 0
	r.Exceptions = nil
	r.Items = nil
}
