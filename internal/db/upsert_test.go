package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL(t *testing.T) {
	stmt, err := UpsertSQL(UpsertConfig{
		Table:        "catalog_items",
		Columns:      []string{"vendor_key", "item_number", "price_date", "price"},
		ConflictKeys: []string{"vendor_key", "item_number", "price_date"},
		Returning:    "id, (xmax = 0)",
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "catalog_items" ("vendor_key", "item_number", "price_date", "price") VALUES ($1, $2, $3, $4) `+
			`ON CONFLICT ("vendor_key", "item_number", "price_date") DO UPDATE SET "price" = EXCLUDED."price" RETURNING id, (xmax = 0)`,
		stmt)
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	stmt, err := UpsertSQL(UpsertConfig{
		Table:        "kitchen.vendors",
		Columns:      []string{"key", "name", "created_at"},
		ConflictKeys: []string{"key"},
		UpdateCols:   []string{"name"},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt, `INSERT INTO "kitchen"."vendors"`)
	assert.Contains(t, stmt, `DO UPDATE SET "name" = EXCLUDED."name"`)
	assert.NotContains(t, stmt, `"created_at" = EXCLUDED`)
}

func TestUpsertSQL_OnlyKeys(t *testing.T) {
	stmt, err := UpsertSQL(UpsertConfig{
		Table:        "tags",
		Columns:      []string{"name"},
		ConflictKeys: []string{"name"},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id", "name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestMustUpsertSQL_Panics(t *testing.T) {
	assert.Panics(t, func() { MustUpsertSQL(UpsertConfig{Table: "t"}) })
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"kitchen.catalog_items", `"kitchen"."catalog_items"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
