package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/config"
	"github.com/sells-group/kitchen-cli/internal/costing"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/preset"
	"github.com/sells-group/kitchen-cli/internal/store"
)

const syscoRows = `[
	{"SUPC": 1001, "Product Name": "Olive Oil Extra Virgin", "Pack": "4/1 GAL", "Price": "$40.96", "Date": "2024-07-01"},
	{"SUPC": "1002", "Product Name": "Mystery Box", "Pack": "assorted", "Price": "10", "Date": "2024-07-01"}
]`

func newTestServer(t *testing.T, opts Options) (*Server, *app.App) {
	t.Helper()
	cfg := &config.Config{
		Import:  config.ImportConfig{Timezone: "UTC", RefreshCosts: true},
		Costing: config.CostingConfig{FoodCostTargetPct: 35, MaxRecipeDepth: 32},
	}
	reg, err := preset.Builtin()
	require.NoError(t, err)
	a, err := app.New(cfg, store.NewMemory(), reg)
	require.NoError(t, err)
	if opts.ImportRate == 0 {
		opts.ImportRate, opts.ImportBurst = 100, 100
	}
	return New(a, opts), a
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListPresets(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []presetInfo
	decode(t, rec, &out)
	var names []string
	for _, p := range out {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "sysco")
	assert.Contains(t, names, "generic")
}

func TestImportAndCost(t *testing.T) {
	ctx := context.Background()
	srv, a := newTestServer(t, Options{})
	require.NoError(t, a.Library.SaveIngredient(ctx, &model.Ingredient{Name: "Olive Oil"}))

	rec := do(t, srv, http.MethodPost, "/imports/sysco", syscoRows)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report struct {
		Preset     string            `json:"preset"`
		Created    int               `json:"created"`
		Skipped    int               `json:"skipped"`
		Exceptions []model.Exception `json:"exceptions"`
		Refreshed  []string          `json:"refreshed"`
	}
	decode(t, rec, &report)
	assert.Equal(t, "sysco", report.Preset)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Exceptions, 1)
	assert.Equal(t, model.ExceptionUnparseablePack, report.Exceptions[0].Type)
	assert.Equal(t, []string{"Olive Oil"}, report.Refreshed)

	rec = do(t, srv, http.MethodGet, "/ingredients/Olive%20Oil/cost", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ing struct {
		Ingredient string   `json:"ingredient"`
		PerOz      *float64 `json:"per_oz"`
		Unit       string   `json:"unit"`
	}
	decode(t, rec, &ing)
	assert.Equal(t, "Olive Oil", ing.Ingredient)
	require.NotNil(t, ing.PerOz)
	assert.InDelta(t, 0.08, *ing.PerOz, 1e-9)
	assert.Equal(t, "fl_oz", ing.Unit)

	require.NoError(t, a.Library.SaveRecipe(ctx, &model.Recipe{
		Name:      "Dressing",
		MenuPrice: 2,
		Lines:     []model.RecipeLine{{Ref: "Olive Oil", Qty: 1, UOM: "cup"}},
	}))
	rec = do(t, srv, http.MethodGet, "/recipes/Dressing/cost", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rc struct {
		TotalCost   float64  `json:"total_cost"`
		FoodCostPct *float64 `json:"food_cost_pct"`
		Complete    bool     `json:"complete"`
	}
	decode(t, rec, &rc)
	assert.InDelta(t, 0.64, rc.TotalCost, 1e-9)
	require.NotNil(t, rc.FoodCostPct)
	assert.InDelta(t, 0.32, *rc.FoodCostPct, 1e-9)
	assert.True(t, rc.Complete)
}

func TestImport_DryRun(t *testing.T) {
	srv, a := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodPost, "/imports/sysco?dry_run=true", syscoRows)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report struct {
		DryRun  bool `json:"dry_run"`
		Created int  `json:"created"`
	}
	decode(t, rec, &report)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Created)

	item, err := a.Store.LatestCatalogItem(context.Background(), "Sysco", "1001")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestImport_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodPost, "/imports/sysco", `{"not": "an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/imports/nobody", syscoRows)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImport_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Options{ImportRate: 0.001, ImportBurst: 1})

	rec := do(t, srv, http.MethodPost, "/imports/sysco", syscoRows)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, "/imports/sysco", syscoRows)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Other routes are not limited.
	rec = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCost_Errors(t *testing.T) {
	ctx := context.Background()
	srv, a := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/recipes/Nothing/cost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/ingredients/Nothing/cost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, a.Library.SaveIngredient(ctx, &model.Ingredient{Name: "Saffron"}))
	rec = do(t, srv, http.MethodGet, "/ingredients/Saffron/cost", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no price data")
}

func TestExceptions(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodPost, "/imports/sysco", syscoRows)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/exceptions?type=UNPARSEABLE_PACK", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Exception
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "assorted", list[0].Context["pack_size"])

	rec = do(t, srv, http.MethodPost, "/exceptions/"+list[0].ID+"/resolve", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/exceptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/exceptions?include_resolved=true", "")
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.True(t, list[0].Resolved)

	rec = do(t, srv, http.MethodPost, "/exceptions/does-not-exist/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/changelog?action=exception_resolved", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.ChangelogEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "api", entries[0].Actor)
}

func TestChangelog_Since(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodPost, "/imports/sysco", syscoRows)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/changelog?action=catalog_import&since=2000-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.ChangelogEntry
	decode(t, rec, &entries)
	assert.Len(t, entries, 1)

	rec = do(t, srv, http.MethodGet, "/changelog?since=3000-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/changelog?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://kitchen.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/recipes/Dressing/cost", nil)
	req.Header.Set("Origin", "https://kitchen.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "https://kitchen.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, statusFor(preset.ErrNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity,
		statusFor(&costing.InvalidYieldError{Recipe: "Soup", Field: "yield_factor", Value: 1.5}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
