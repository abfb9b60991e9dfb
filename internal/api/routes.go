package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phenomap/server/internal/cache"
	"github.com/phenomap/server/internal/jobstore"
	"github.com/phenomap/server/internal/nn"
	"github.com/phenomap/server/internal/render"
	"github.com/phenomap/server/internal/selector"
	"github.com/phenomap/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	Cache       *cache.Manager
	Renderer    *render.MapRenderer
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		// Map endpoints
		r.Get("/maps/phenotypes.png", phenotypeMapHandler(cfg))
		r.Post("/maps/phenotypes.png", phenotypeMapHandler(cfg))
		r.Get("/maps/marker/{column}.png", markerMapHandler(cfg))
		// NOTE: chi treats '.' as a param delimiter when the route pattern is
		// `{column}.png`, which breaks columns containing '.'. Add a fallback
		// route that captures the full segment and strip the extension in the
		// handler.
		r.Get("/maps/marker/{column}", markerMapHandler(cfg))
		r.Get("/maps/nearest.png", nearestMapHandler(cfg))

		// API endpoints
		r.Route("/api", func(r chi.Router) {
			r.Get("/phenotypes", phenotypeLegendHandler)
			r.Get("/phenotypes/colors", phenotypeColorsHandler)
			r.Get("/phenotypes/centroids", phenotypeCentroidsHandler)
			r.Get("/columns", columnsHandler)
			r.Get("/cells", cellsHandler)
			r.Get("/bounds", boundsHandler)
			r.Get("/stats", statsHandler(cfg))

			// Pairwise nearest-neighbor analysis
			r.Post("/analysis/nearest", nearestAnalysisHandler(cfg))
			r.Route("/analysis/jobs", func(r chi.Router) {
				r.Post("/", analysisJobSubmitHandler(cfg.JobManager))
				r.Get("/", analysisJobListHandler(cfg.JobManager))
				r.Get("/{job_id}", analysisJobStatusHandler(cfg.JobManager))
				r.Get("/{job_id}/result", analysisJobResultHandler(cfg.JobManager))
				r.Delete("/{job_id}", analysisJobCancelHandler(cfg.JobManager))
			})
		})
	})

	return r
}

// Context key for dataset
type ctxKey string

const datasetKey ctxKey = "dataset"

// datasetMiddleware resolves the dataset from URL and injects it into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			ds := registry.Get(datasetID)
			if ds == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetKey, ds)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDataset(r *http.Request) *service.Dataset {
	if ds, ok := r.Context().Value(datasetKey).(*service.Dataset); ok {
		return ds
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func phenotypeLegendHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	legend, err := ds.PhenotypeLegend()
	if err != nil {
		http.Error(w, err.Error(), analysisErrorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"phenotypes": legend,
		"total":      len(legend),
	})
}

func phenotypeColorsHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ds.Colors())
}

func phenotypeCentroidsHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	centroids, err := ds.PhenotypeCentroids()
	if err != nil {
		http.Error(w, err.Error(), analysisErrorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(centroids)
}

func columnsHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"columns": ds.Table().ColumnNames(),
	})
}

func cellsHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	minX, err1 := parseFloatParam(q.Get("min_x"))
	minY, err2 := parseFloatParam(q.Get("min_y"))
	maxX, err3 := parseFloatParam(q.Get("max_x"))
	maxY, err4 := parseFloatParam(q.Get("max_y"))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		http.Error(w, "invalid bounds (expected min_x, min_y, max_x, max_y)", http.StatusBadRequest)
		return
	}

	filter, hasFilter := parsePhenotypeFilter(q)
	if !hasFilter {
		filter = nil
	}

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}

	result, err := ds.CellsInBounds(minX, minY, maxX, maxY, filter, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func boundsHandler(w http.ResponseWriter, r *http.Request) {
	ds := getDataset(r)
	if ds == nil {
		http.Error(w, "dataset not available", http.StatusInternalServerError)
		return
	}

	minX, minY, maxX, maxY, ok := ds.Bounds()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"min_x": minX,
		"min_y": minY,
		"max_x": maxX,
		"max_y": maxY,
		"empty": !ok,
	})
}

func statsHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := getDataset(r)
		if ds == nil {
			http.Error(w, "dataset not available", http.StatusInternalServerError)
			return
		}

		response := map[string]interface{}{
			"dataset":           ds.ID(),
			"n_cells":           ds.Table().NumRows(),
			"n_columns":         len(ds.Table().ColumnNames()),
			"pixels_per_micron": ds.PixelsPerMicron(),
		}
		if cfg.Cache != nil {
			response["cache"] = cfg.Cache.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// Map handlers

func phenotypeMapHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := getDataset(r)
		if ds == nil || cfg.Renderer == nil {
			http.Error(w, "rendering not available", http.StatusInternalServerError)
			return
		}

		var (
			filter    []string
			hasFilter bool
			err       error
		)
		if r.Method == http.MethodPost {
			filter, hasFilter, err = parsePhenotypeFilterBody(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			filter, hasFilter = parsePhenotypeFilter(r.URL.Query())
		}
		if !hasFilter {
			filter = nil
		}

		key := cache.PhenotypeMapKey(ds.ID(), filter)
		if cfg.Cache != nil {
			if data, ok := cfg.Cache.GetPlot(key); ok {
				writePNG(w, data)
				return
			}
		}

		points := ds.AllPoints()
		if filter != nil {
			filterSet := make(map[string]struct{}, len(filter))
			for _, v := range filter {
				filterSet[v] = struct{}{}
			}
			kept := make([]nn.Point, 0, len(points))
			for _, p := range points {
				if _, ok := filterSet[ds.PhenotypeOf(p.ID)]; ok {
					kept = append(kept, p)
				}
			}
			points = kept
		}

		data, err := cfg.Renderer.RenderPhenotypeMap(points, ds.PhenotypeOf, ds.Colors())
		if err != nil {
			http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg.Cache != nil {
			cfg.Cache.SetPlot(key, data)
		}
		writePNG(w, data)
	}
}

func markerMapHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := getDataset(r)
		if ds == nil || cfg.Renderer == nil {
			http.Error(w, "rendering not available", http.StatusInternalServerError)
			return
		}

		column := chi.URLParam(r, "column")
		column = strings.TrimSuffix(column, ".png")
		colormapName := r.URL.Query().Get("colormap")

		key := cache.MarkerMapKey(ds.ID(), column, colormapName)
		if cfg.Cache != nil {
			if data, ok := cfg.Cache.GetPlot(key); ok {
				writePNG(w, data)
				return
			}
		}

		values, minV, maxV, err := ds.MarkerValues(column)
		if err != nil {
			http.Error(w, err.Error(), analysisErrorStatus(err))
			return
		}

		lookup := func(id int64) (float64, bool) {
			v, ok := values[id]
			return v, ok
		}
		data, err := cfg.Renderer.RenderMarkerMap(ds.AllPoints(), lookup, minV, maxV, colormapName)
		if err != nil {
			http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg.Cache != nil {
			cfg.Cache.SetPlot(key, data)
		}
		writePNG(w, data)
	}
}

func nearestMapHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := getDataset(r)
		if ds == nil || cfg.Renderer == nil {
			http.Error(w, "rendering not available", http.StatusInternalServerError)
			return
		}

		from := strings.TrimSpace(r.URL.Query().Get("from"))
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		if from == "" || to == "" {
			http.Error(w, "missing required query params: from, to", http.StatusBadRequest)
			return
		}

		key := cache.NearestMapKey(ds.ID(), from, to)
		if cfg.Cache != nil {
			if data, ok := cfg.Cache.GetPlot(key); ok {
				writePNG(w, data)
				return
			}
		}

		fromPts, err := ds.SelectPoints(from)
		if err != nil {
			http.Error(w, err.Error(), analysisErrorStatus(err))
			return
		}
		toPts, err := ds.SelectPoints(to)
		if err != nil {
			http.Error(w, err.Error(), analysisErrorStatus(err))
			return
		}

		rel := nn.Nearest(fromPts, toPts)
		colors := ds.Colors()
		data, err := cfg.Renderer.RenderNearestMap(fromPts, toPts, rel, colors[from], colors[to])
		if err != nil {
			http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg.Cache != nil {
			cfg.Cache.SetPlot(key, data)
		}
		writePNG(w, data)
	}
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func parseFloatParam(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("invalid value")
	}
	return v, nil
}

func parsePhenotypeFilter(query url.Values) ([]string, bool) {
	rawValues, present := query["phenotypes"]
	if !present {
		return nil, false
	}

	// Support repeated query parameters:
	//   ?phenotypes=CK%2B&phenotypes=CD8%2B
	if len(rawValues) > 1 {
		out := make([]string, 0, len(rawValues))
		for _, v := range rawValues {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
		return out, true
	}

	raw := strings.TrimSpace(rawValues[0])
	if raw == "" {
		// Explicit "filter to none".
		return make([]string, 0), true
	}

	// Preferred format (frontend): JSON array, e.g. ["CK+","CD8+"] (allows
	// commas in values).
	if strings.HasPrefix(raw, "[") {
		var phenotypes []string
		if err := json.Unmarshal([]byte(raw), &phenotypes); err == nil {
			if phenotypes == nil {
				return make([]string, 0), true
			}
			return phenotypes, true
		}
		// Fall through to comma-separated parsing for tolerance.
	}

	// Legacy format: comma-separated list, e.g. CK+,CD8+
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

const maxPhenotypeFilterBodyBytes = 10 << 20 // 10 MiB

func parsePhenotypeFilterBody(r *http.Request) ([]string, bool, error) {
	if r.Body == nil {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPhenotypeFilterBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(body) > maxPhenotypeFilterBodyBytes {
		return nil, false, errors.New("phenotype filter body too large")
	}

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, false, nil
	}

	// Preferred POST payload: a JSON array, e.g. ["CK+","CD8+"].
	// Also supports an object payload: {"phenotypes":[...]}.
	if len(raw) > 0 && raw[0] == '{' {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err == nil {
			rawPhenotypes, ok := payload["phenotypes"]
			if !ok {
				return nil, false, nil
			}

			rawPhenotypes = bytes.TrimSpace(rawPhenotypes)
			if len(rawPhenotypes) == 0 || bytes.Equal(rawPhenotypes, []byte("null")) {
				return nil, false, nil
			}

			var phenotypes []string
			if err := json.Unmarshal(rawPhenotypes, &phenotypes); err == nil {
				if phenotypes == nil {
					return make([]string, 0), true, nil
				}
				return phenotypes, true, nil
			}

			var phenotypesString string
			if err := json.Unmarshal(rawPhenotypes, &phenotypesString); err == nil {
				filter, ok := parsePhenotypeFilter(url.Values{"phenotypes": {phenotypesString}})
				return filter, ok, nil
			}
		}
		// Fall through to tolerant parsing of the raw body.
	}

	// Support form-encoded bodies:
	//   phenotypes=CK%2B&phenotypes=CD8%2B
	//   phenotypes=["CK+","CD8+"]
	if bytes.Contains(raw, []byte("=")) && raw[0] != '[' {
		if q, err := url.ParseQuery(string(raw)); err == nil {
			filter, ok := parsePhenotypeFilter(q)
			return filter, ok, nil
		}
	}

	filter, ok := parsePhenotypeFilter(url.Values{"phenotypes": {string(raw)}})
	return filter, ok, nil
}

// Pairwise analysis handlers

type pairRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type nearestAnalysisRequest struct {
	Pairs  []pairRequest          `json:"pairs"`
	Rules  map[string]interface{} `json:"rules,omitempty"`
	Mutual bool                   `json:"mutual"`
	Radii  []float64              `json:"radii"`
}

func analysisErrorStatus(err error) int {
	var se *selector.SelectionError
	var re *selector.RuleError
	var ce *service.ConfigError
	if errors.As(err, &se) || errors.As(err, &re) || errors.As(err, &ce) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nearestAnalysisHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := getDataset(r)
		if ds == nil {
			http.Error(w, "dataset not available", http.StatusInternalServerError)
			return
		}

		var req nearestAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Pairs) == 0 {
			http.Error(w, "pairs is required (at least one from/to pair)", http.StatusBadRequest)
			return
		}
		for i, p := range req.Pairs {
			if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
				http.Error(w, "pair "+strconv.Itoa(i)+": from and to are required", http.StatusBadRequest)
				return
			}
		}

		// Single-pair requests without custom rules are cacheable.
		var cacheKey string
		if cfg.Cache != nil && len(req.Pairs) == 1 && len(req.Rules) == 0 {
			cacheKey = cache.NearestQueryKey(ds.ID(), req.Pairs[0].From, req.Pairs[0].To, req.Mutual, req.Radii)
			if data, ok := cfg.Cache.GetQuery(cacheKey); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
				return
			}
		}

		rules := ds.Rules()
		if len(req.Rules) > 0 {
			reqRules, err := selector.ParseRuleSet(req.Rules)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			merged := make(selector.RuleSet, len(rules)+len(reqRules))
			for k, v := range rules {
				merged[k] = v
			}
			for k, v := range reqRules {
				merged[k] = v
			}
			rules = merged
		}

		pairs := make([]service.PhenotypePair, len(req.Pairs))
		for i, p := range req.Pairs {
			pairs[i] = service.PhenotypePair{From: p.From, To: p.To}
		}

		opts := service.PairOptions{
			PixelsPerMicron: ds.PixelsPerMicron(),
			IncludeMutual:   req.Mutual,
			Radii:           req.Radii,
			Colors:          ds.Colors(),
		}
		results, err := service.RunPairs(r.Context(), ds.Table(), pairs, rules, opts)
		if err != nil {
			http.Error(w, err.Error(), analysisErrorStatus(err))
			return
		}

		payload, err := json.Marshal(map[string]interface{}{
			"dataset": ds.ID(),
			"results": results,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if cacheKey != "" {
			cfg.Cache.SetQuery(cacheKey, payload)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

// Analysis job handlers

type analysisJobSubmitRequest struct {
	Pairs  []pairRequest          `json:"pairs"`
	Rules  map[string]interface{} `json:"rules,omitempty"`
	Mutual bool                   `json:"mutual"`
	Radii  []float64              `json:"radii"`
}

func analysisJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req analysisJobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Pairs) == 0 {
			http.Error(w, "pairs is required (at least one from/to pair)", http.StatusBadRequest)
			return
		}
		for i, p := range req.Pairs {
			if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
				http.Error(w, "pair "+strconv.Itoa(i)+": from and to are required", http.StatusBadRequest)
				return
			}
		}

		datasetID := chi.URLParam(r, "dataset")
		pairs := make([]jobstore.Pair, len(req.Pairs))
		for i, p := range req.Pairs {
			pairs[i] = jobstore.Pair{From: p.From, To: p.To}
		}
		params := jobstore.AnalysisJobParams{
			DatasetID: datasetID,
			Pairs:     pairs,
			Rules:     req.Rules,
			Mutual:    req.Mutual,
			Radii:     req.Radii,
		}

		job, err := jm.Submit(params)
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func analysisJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		jobs, err := jm.Store().ListJobsByDataset(datasetID)
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs":  jobs,
			"total": len(jobs),
		})
	}
}

func analysisJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		// Check dataset matches
		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"progress":    job.Progress,
			"error":       job.Error,
		})
	}
}

func analysisJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status != jobstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		rows, err := jm.Store().QueryPairResults(jobID)
		if err != nil {
			http.Error(w, "failed to query results: "+err.Error(), http.StatusInternalServerError)
			return
		}

		response := map[string]interface{}{
			"params": job.Params,
			"total":  len(rows),
			"items":  rows,
		}

		// ?full=1 includes the stored per-pair distance relations.
		if r.URL.Query().Get("full") != "" {
			full := make([]json.RawMessage, len(rows))
			for i, row := range rows {
				full[i] = json.RawMessage(row.ResultJSON)
			}
			response["results"] = full
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func analysisJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		jm.Cancel(jobID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":    jobID,
			"cancelled": true,
		})
	}
}
