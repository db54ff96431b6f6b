package main

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/wormcells-viz/server/internal/annostore"
	"github.com/wormcells-viz/server/internal/api"
	"github.com/wormcells-viz/server/internal/cache"
	"github.com/wormcells-viz/server/internal/config"
	"github.com/wormcells-viz/server/internal/render"
	"github.com/wormcells-viz/server/internal/service"
	"github.com/wormcells-viz/server/internal/store"
)

// storeFlags override the default dataset's paths from the command line.
type storeFlags struct {
	heatmap     string
	histogram   string
	swarm       string
	annotations string
}

func (f storeFlags) apply(cfg *config.Config) {
	id := cfg.Data.DefaultDataset
	ds := cfg.Data.Datasets[id]
	if f.heatmap != "" {
		ds.HeatmapPath = f.heatmap
	}
	if f.histogram != "" {
		ds.HistogramPath = f.histogram
	}
	if f.swarm != "" {
		ds.SwarmPath = f.swarm
	}
	if f.annotations != "" {
		ds.AnnotationsPath = f.annotations
	}
	cfg.Data.SetDataset(id, ds)
}

// services holds the loaded datasets and the resources shared between them.
type services struct {
	registry *api.DatasetRegistry
	cache    *cache.Manager
	annos    []*annostore.Store
}

func (s *services) Close() {
	for _, a := range s.annos {
		a.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
}

// loadServices opens every configured dataset. Any load failure is returned.
func loadServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	order, err := store.ParseOrder(cfg.Query.DefaultOrder)
	if err != nil {
		return nil, fmt.Errorf("query.default_order: %w", err)
	}

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageCacheMB,
		ImageTTL:         cfg.Cache.ImageTTL(),
		QueryCacheSize:   cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	out := &services{cache: cacheManager}

	renderer := render.NewHeatmapRenderer(render.Config{
		CellSize:        cfg.Render.CellSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	out.registry = api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)
	logger.Info("initializing datasets",
		zap.Int("count", len(datasetIDs)),
		zap.String("default", cfg.Data.DefaultDataset))

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]
		dsLogger := logger.With(zap.String("dataset", datasetID))

		bundle, err := store.Open(ctx, store.Paths{
			Heatmap:   ds.HeatmapPath,
			Histogram: ds.HistogramPath,
			Swarm:     ds.SwarmPath,
		}, store.WithLogger(dsLogger), store.WithConcurrency(runtime.NumCPU()),
			store.WithBinCount(ds.HistogramBins))
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("dataset %q: %w", datasetID, err)
		}

		var annos *annostore.Store
		if ds.AnnotationsPath != "" {
			annos, err = annostore.NewStore(ds.AnnotationsPath)
			if err != nil {
				out.Close()
				return nil, fmt.Errorf("dataset %q: annotations: %w", datasetID, err)
			}
			out.annos = append(out.annos, annos)
			n, err := annos.Count(ctx)
			if err != nil {
				out.Close()
				return nil, fmt.Errorf("dataset %q: annotations: %w", datasetID, err)
			}
			dsLogger.Info("annotations opened", zap.String("path", ds.AnnotationsPath), zap.Int("genes", n))
		}

		out.registry.Register(datasetID, service.New(service.Config{
			DatasetID:   datasetID,
			Bundle:      bundle,
			Cache:       cacheManager,
			Renderer:    renderer,
			Annotations: annos,
			Defaults: service.Defaults{
				Genes: cfg.Query.DefaultGenes,
				Cells: cfg.Query.DefaultCells,
				Limit: cfg.Query.DefaultLimit,
				Order: order,
			},
			Logger: dsLogger,
		}))
	}
	return out, nil
}
