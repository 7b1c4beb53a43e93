package costing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// Defaults for Engine limits.
const (
	DefaultMaxDepth          = 32
	DefaultFoodCostTargetPct = 35.0
)

// EngineStore supplies the recipes and ingredients a costing run reads.
type EngineStore interface {
	GetRecipe(ctx context.Context, name string) (*model.Recipe, error)
	GetIngredient(ctx context.Context, name string) (*model.Ingredient, error)
}

// IngredientCoster prices one ingredient, preferring candidates priced in
// the given dimension. *Resolver implements it.
type IngredientCoster interface {
	ResolveCostIn(ctx context.Context, ing *model.Ingredient, prefer units.Dimension) (*Cost, error)
}

// LineCost is the costed form of one recipe line. Cost is nil when the line
// could not be priced, in which case Warning says why.
type LineCost struct {
	Position int            `json:"position"`
	Kind     model.LineKind `json:"kind"`
	Ref      string         `json:"ref"`
	Qty      float64        `json:"qty"`
	UOM      string         `json:"uom"`
	Cost     *float64       `json:"cost"`
	UnitCost *float64       `json:"unit_cost,omitempty"`
	CostUnit string         `json:"cost_unit,omitempty"`
	Vendor   string         `json:"vendor,omitempty"`
	ItemNo   string         `json:"item_number,omitempty"`
	Warning  string         `json:"warning,omitempty"`
}

// RecipeCost is the result of costing a recipe tree.
type RecipeCost struct {
	Recipe         string     `json:"recipe"`
	RawCost        float64    `json:"raw_cost"`
	TotalCost      float64    `json:"total_cost"`
	YieldFactor    float64    `json:"yield_factor"`
	YieldQty       float64    `json:"yield_qty"`
	YieldUOM       string     `json:"yield_uom"`
	CostPerServing float64    `json:"cost_per_serving"`
	MenuPrice      float64    `json:"menu_price"`
	FoodCostPct    *float64   `json:"food_cost_pct"`
	Margin         *float64   `json:"margin"`
	OverTarget     bool       `json:"over_target"`
	Lines          []LineCost `json:"lines"`
}

// Complete reports whether every line was priced.
func (rc *RecipeCost) Complete() bool {
	for _, l := range rc.Lines {
		if l.Cost == nil {
			return false
		}
	}
	return true
}

// Warnings lists the per-line warnings in line order.
func (rc *RecipeCost) Warnings() []string {
	var out []string
	for _, l := range rc.Lines {
		if l.Warning != "" {
			out = append(out, fmt.Sprintf("line %d (%s): %s", l.Position, l.Ref, l.Warning))
		}
	}
	return out
}

// Engine costs recipes recursively.
type Engine struct {
	store     EngineStore
	coster    IngredientCoster
	maxDepth  int
	targetPct float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxDepth caps sub-recipe nesting.
func WithMaxDepth(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithFoodCostTarget sets the food cost percentage above which a recipe is
// flagged.
func WithFoodCostTarget(pct float64) EngineOption {
	return func(e *Engine) {
		if pct > 0 {
			e.targetPct = pct
		}
	}
}

// NewEngine creates an Engine reading from st and pricing through coster.
func NewEngine(st EngineStore, coster IngredientCoster, opts ...EngineOption) *Engine {
	e := &Engine{store: st, coster: coster, maxDepth: DefaultMaxDepth, targetPct: DefaultFoodCostTargetPct}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CostByName loads a recipe and costs it.
func (e *Engine) CostByName(ctx context.Context, name string) (*RecipeCost, error) {
	r, err := e.store.GetRecipe(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "costing: load recipe %s", name)
	}
	return e.CostRecipe(ctx, r, nil)
}

// CostRecipe costs recipe and its sub-recipes. visiting holds the normalized
// names of recipes already being evaluated by the caller; reaching one of
// them again fails with *CyclicRecipeError. Lines that cannot be priced are
// reported as warnings; unit mismatches and cycles are returned as errors.
func (e *Engine) CostRecipe(ctx context.Context, recipe *model.Recipe, visiting map[string]bool) (*RecipeCost, error) {
	run := &costRun{
		engine:   e,
		visiting: make(map[string]bool, len(visiting)),
		memo:     make(map[string]*RecipeCost),
		ingCosts: make(map[string]ingResult),
	}
	for k, v := range visiting {
		if v {
			run.visiting[recipeKey(k)] = true
		}
	}
	return run.cost(ctx, recipe, 0)
}

type ingResult struct {
	ing  *model.Ingredient
	cost *Cost
	warn string
}

// costRun carries per-call state: the recursion path and memoized results.
type costRun struct {
	engine   *Engine
	visiting map[string]bool
	path     []string
	memo     map[string]*RecipeCost
	ingCosts map[string]ingResult
}

func recipeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func (c *costRun) cycle(name string) *CyclicRecipeError {
	key := recipeKey(name)
	start := 0
	for i, p := range c.path {
		if recipeKey(p) == key {
			start = i
			break
		}
	}
	path := append(append([]string(nil), c.path[start:]...), name)
	if len(c.path) == 0 {
		path = []string{name, name}
	}
	return &CyclicRecipeError{Path: path}
}

func (c *costRun) cost(ctx context.Context, r *model.Recipe, depth int) (*RecipeCost, error) {
	key := recipeKey(r.Name)
	if c.visiting[key] {
		return nil, c.cycle(r.Name)
	}
	if depth > c.engine.maxDepth {
		return nil, &DepthExceededError{Recipe: r.Name, Limit: c.engine.maxDepth}
	}
	if rc, ok := c.memo[key]; ok {
		return rc, nil
	}

	c.visiting[key] = true
	c.path = append(c.path, r.Name)
	defer func() {
		delete(c.visiting, key)
		c.path = c.path[:len(c.path)-1]
	}()

	yieldFactor, yieldQty, err := yields(r)
	if err != nil {
		return nil, err
	}

	rc := &RecipeCost{
		Recipe:      r.Name,
		YieldFactor: yieldFactor,
		YieldQty:    yieldQty,
		YieldUOM:    r.YieldUOM,
		MenuPrice:   r.MenuPrice,
		Lines:       make([]LineCost, 0, len(r.Lines)),
	}
	for i, line := range r.Lines {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "costing: cost recipe")
		}
		lc := LineCost{Position: i + 1, Kind: line.Kind, Ref: line.Ref, Qty: line.Qty, UOM: line.UOM}
		var err error
		switch line.Kind {
		case model.LineSubRecipe:
			err = c.subRecipeLine(ctx, &lc, depth)
		default:
			lc.Kind = model.LineIngredient
			err = c.ingredientLine(ctx, &lc)
		}
		if err != nil {
			return nil, err
		}
		if lc.Cost != nil {
			rc.RawCost += *lc.Cost
		}
		rc.Lines = append(rc.Lines, lc)
	}

	rc.TotalCost = rc.RawCost / yieldFactor
	rc.CostPerServing = rc.TotalCost / yieldQty
	if r.MenuPrice > 0 {
		pct := rc.TotalCost / r.MenuPrice
		margin := r.MenuPrice - rc.TotalCost
		rc.FoodCostPct, rc.Margin = &pct, &margin
		rc.OverTarget = pct*100 > c.engine.targetPct
	}
	c.memo[key] = rc
	return rc, nil
}

// yields returns the recipe's yield factor and quantity. Zero means unset and
// reads as 1, matching model.Recipe.Normalize.
func yields(r *model.Recipe) (float64, float64, error) {
	factor, qty := r.YieldFactor, r.YieldQty
	if factor == 0 {
		factor = 1
	}
	if qty == 0 {
		qty = 1
	}
	if factor < 0 || factor > 1 {
		return 0, 0, &InvalidYieldError{Recipe: r.Name, Field: "yield_factor", Value: r.YieldFactor}
	}
	if qty < 0 {
		return 0, 0, &InvalidYieldError{Recipe: r.Name, Field: "yield_qty", Value: r.YieldQty}
	}
	return factor, qty, nil
}

func (c *costRun) ingredientLine(ctx context.Context, lc *LineCost) error {
	var (
		lineUnit units.Unit
		prefer   units.Dimension
		err      error
	)
	if strings.TrimSpace(lc.UOM) != "" {
		lineUnit, err = units.Parse(lc.UOM)
		if err != nil {
			return eris.Wrapf(err, "costing: line %d (%s)", lc.Position, lc.Ref)
		}
		prefer, _ = units.DimensionOf(lineUnit)
	}

	res, err := c.resolve(ctx, lc.Ref, prefer)
	if err != nil {
		return err
	}
	if res.warn != "" {
		lc.Warning = res.warn
		return nil
	}

	costUnit := res.cost.Unit
	if lineUnit == "" {
		lineUnit = costUnit
	}
	qty, err := units.Convert(lc.Qty, lineUnit, costUnit)
	if err != nil {
		return eris.Wrapf(err, "costing: line %d (%s)", lc.Position, lc.Ref)
	}

	unitCost := res.cost.Value()
	cost := qty * unitCost
	lc.Cost, lc.UnitCost, lc.CostUnit = &cost, &unitCost, string(costUnit)
	if src := res.cost.Source; src != nil {
		lc.Vendor, lc.ItemNo = src.Vendor, src.ItemNumber
	}
	return nil
}

// resolve prices an ingredient once per run and dimension. A missing
// ingredient or missing price data turns into a warning.
func (c *costRun) resolve(ctx context.Context, name string, prefer units.Dimension) (ingResult, error) {
	key := recipeKey(name) + "|" + string(prefer)
	if res, ok := c.ingCosts[key]; ok {
		return res, nil
	}
	var res ingResult
	ing, err := c.engine.store.GetIngredient(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.warn = "ingredient not found"
	case err != nil:
		return res, eris.Wrapf(err, "costing: load ingredient %s", name)
	default:
		res.ing = ing
		res.cost, err = c.engine.coster.ResolveCostIn(ctx, ing, prefer)
		var npd *NoPriceDataError
		switch {
		case errors.As(err, &npd):
			res.warn = npd.Error()
		case err != nil:
			return res, err
		}
	}
	if res.warn != "" {
		zap.L().Debug("recipe line unpriced", zap.String("ingredient", name), zap.String("reason", res.warn))
	}
	c.ingCosts[key] = res
	return res, nil
}

func (c *costRun) subRecipeLine(ctx context.Context, lc *LineCost, depth int) error {
	if c.visiting[recipeKey(lc.Ref)] {
		return c.cycle(lc.Ref)
	}
	sub, err := c.engine.store.GetRecipe(ctx, lc.Ref)
	if errors.Is(err, store.ErrNotFound) {
		lc.Warning = "sub-recipe not found"
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "costing: load sub-recipe %s", lc.Ref)
	}

	sc, err := c.cost(ctx, sub, depth+1)
	if err != nil {
		return err
	}
	factor, err := yieldUnitFactor(lc.UOM, sc.YieldUOM)
	if err != nil {
		return eris.Wrapf(err, "costing: line %d (%s)", lc.Position, lc.Ref)
	}

	perYield := sc.TotalCost / sc.YieldQty
	cost := lc.Qty * factor * perYield
	lc.Cost, lc.UnitCost, lc.CostUnit = &cost, &perYield, sc.YieldUOM
	if !sc.Complete() {
		lc.Warning = "sub-recipe is partially costed"
	}
	return nil
}

// yieldUnitFactor converts one line unit into sub-recipe yield units. Equal
// labels or an empty line unit mean the line is already in yield units.
func yieldUnitFactor(lineUOM, yieldUOM string) (float64, error) {
	if strings.TrimSpace(lineUOM) == "" || model.SearchKey(lineUOM) == model.SearchKey(yieldUOM) {
		return 1, nil
	}
	from, errFrom := units.Parse(lineUOM)
	to, errTo := units.Parse(yieldUOM)
	if errFrom != nil || errTo != nil {
		return 0, &units.UnsupportedUnitError{
			From:   lineUOM,
			To:     yieldUOM,
			Reason: "line unit does not match the sub-recipe yield unit",
		}
	}
	if from == to {
		return 1, nil
	}
	return units.Convert(1, from, to)
}
