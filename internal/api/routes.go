// Package api provides HTTP handlers for the wormcells server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/wormcells-viz/server/internal/logging"
	"github.com/wormcells-viz/server/internal/service"
	"github.com/wormcells-viz/server/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Legacy routes answer for the default dataset.
	r.Group(func(r chi.Router) {
		r.Use(defaultDatasetMiddleware(cfg.Registry))
		r.Post("/get_data_heatmap", withService(legacyHeatmapHandler))
		r.Post("/get_data", withService(legacyHeatmapHandler))
		r.Post("/get_data_histogram", withService(legacyHistogramHandler))
		r.Post("/get_data_swarmplot", withService(legacySwarmHandler))
		r.Get("/get_all_genes", withService(allGenesHandler))
		r.Get("/get_all_cells", withService(allCellsHandler))
	})

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/heatmap", withService(heatmapHandler))
			r.Post("/heatmap", withService(heatmapHandler))
			r.Get("/heatmap.png", withService(heatmapPNGHandler))
			r.Get("/histogram", withService(histogramHandler))
			r.Get("/histogram/bins", withService(binsHandler))
			r.Get("/histogram/totals", withService(histogramTotalsHandler))
			r.Get("/swarm", withService(swarmHandler))
			r.Get("/genes", withService(genesHandler))
			r.Get("/genes/{gene}/annotation", withService(annotationHandler))
			r.Get("/annotations", withService(annotationsHandler))
			r.Get("/cells", withService(cellsHandler))
			r.Get("/stats", withService(statsHandler))
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the query service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// defaultDatasetMiddleware injects the default dataset's query service into context.
func defaultDatasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc := registry.Default()
			if svc == nil {
				http.Error(w, "no default dataset", http.StatusServiceUnavailable)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.QueryService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.QueryService); ok {
		return svc
	}
	return nil
}

// withService adapts a handler factory to the service found in the request context.
func withService(h func(*service.QueryService) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		if svc == nil {
			http.Error(w, "dataset service not found", http.StatusInternalServerError)
			return
		}
		h(svc)(w, r)
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps query errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrKeyNotFound), errors.Is(err, service.ErrAnnotationsDisabled):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidArgument), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}
