// Package api exposes the kitchen back office over a JSON HTTP interface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/costing"
	"github.com/sells-group/kitchen-cli/internal/etl"
	"github.com/sells-group/kitchen-cli/internal/model"
	"github.com/sells-group/kitchen-cli/internal/preset"
	"github.com/sells-group/kitchen-cli/internal/store"
	"github.com/sells-group/kitchen-cli/internal/units"
)

// Options tunes the HTTP surface.
type Options struct {
	ImportRate     float64 // imports per second
	ImportBurst    int
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server routes requests to the App.
type Server struct {
	app     *app.App
	limiter *rate.Limiter
	maxBody int64
	router  chi.Router
}

// New builds the router.
func New(a *app.App, opts Options) *Server {
	if opts.ImportRate <= 0 {
		opts.ImportRate = 2
	}
	if opts.ImportBurst < 1 {
		opts.ImportBurst = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		app:     a,
		limiter: rate.NewLimiter(rate.Limit(opts.ImportRate), opts.ImportBurst),
		maxBody: opts.MaxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/presets", s.listPresets)
	r.With(s.rateLimit).Post("/imports/{preset}", s.importRows)
	r.Get("/recipes/{name}/cost", s.recipeCost)
	r.Get("/ingredients/{name}/cost", s.ingredientCost)
	r.Get("/exceptions", s.listExceptions)
	r.Post("/exceptions/{id}/resolve", s.resolveException)
	r.Get("/changelog", s.listChangelog)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("import rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		npd   *costing.NoPriceDataError
		cyc   *costing.CyclicRecipeError
		depth *costing.DepthExceededError
		yield *costing.InvalidYieldError
		unit  *units.UnsupportedUnitError
		inv   *preset.InvalidPresetError
	)
	switch {
	case app.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &npd), errors.As(err, &cyc), errors.As(err, &depth), errors.As(err, &yield), errors.As(err, &unit), errors.As(err, &inv):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type presetInfo struct {
	Name            string            `json:"name"`
	Vendor          string            `json:"vendor,omitempty"`
	Description     string            `json:"description,omitempty"`
	PriceDatePolicy preset.DatePolicy `json:"price_date_policy"`
}

func (s *Server) listPresets(w http.ResponseWriter, _ *http.Request) {
	list := s.app.Presets.List()
	out := make([]presetInfo, 0, len(list))
	for _, p := range list {
		out = append(out, presetInfo{Name: p.Name, Vendor: p.Vendor, Description: p.Description, PriceDatePolicy: p.PriceDatePolicy})
	}
	writeJSON(w, http.StatusOK, out)
}

// importRows accepts a JSON array of row objects. Query parameters: vendor
// (hint for rows without a vendor column) and dry_run.
func (s *Server) importRows(w http.ResponseWriter, r *http.Request) {
	var rows []etl.Row
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be a JSON array of row objects"))
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	report, err := s.app.Import(r.Context(), app.ImportRequest{
		Rows:   rows,
		Preset: chi.URLParam(r, "preset"),
		Vendor: r.URL.Query().Get("vendor"),
		DryRun: dryRun,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type recipeCostResponse struct {
	*costing.RecipeCost
	Complete bool     `json:"complete"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) recipeCost(w http.ResponseWriter, r *http.Request) {
	rc, err := s.app.Engine.CostByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipeCostResponse{RecipeCost: rc, Complete: rc.Complete(), Warnings: rc.Warnings()})
}

type ingredientCostResponse struct {
	Ingredient string `json:"ingredient"`
	Mode       string `json:"mode"`
	*costing.Cost
}

func (s *Server) ingredientCost(w http.ResponseWriter, r *http.Request) {
	ing, cost, err := s.app.Resolver.ResolveByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingredientCostResponse{Ingredient: ing.Name, Mode: string(ing.Mode), Cost: cost})
}

func (s *Server) listExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeResolved, _ := strconv.ParseBool(q.Get("include_resolved"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := s.app.Store.ListExceptions(r.Context(), store.ExceptionFilter{
		Type:            model.ExceptionType(q.Get("type")),
		IncludeResolved: includeResolved,
		Limit:           limit,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Exception{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) resolveException(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ResolveException(r.Context(), chi.URLParam(r, "id"), "api"); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listChangelog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ChangelogFilter{Action: q.Get("action")}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			if t, err = time.Parse(model.DateLayout, since); err != nil {
				writeError(w, http.StatusBadRequest, errors.New("since must be RFC3339 or YYYY-MM-DD"))
				return
			}
		}
		filter.Since = t
	}
	list, err := s.app.Store.ListChangelog(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.ChangelogEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}
