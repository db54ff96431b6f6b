// Package service answers heatmap, histogram and swarm queries over a loaded
// dataset bundle.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wormcells-viz/server/internal/annostore"
	"github.com/wormcells-viz/server/internal/cache"
	"github.com/wormcells-viz/server/internal/render"
	"github.com/wormcells-viz/server/internal/store"
)

// ErrAnnotationsDisabled is returned by Annotation when no annotation store is configured.
var ErrAnnotationsDisabled = errors.New("annotations not configured")

// Defaults are the query defaults applied when a request leaves a parameter out.
type Defaults struct {
	Genes int
	Cells int
	Limit int
	Order store.Order
}

// Config contains query service configuration.
type Config struct {
	DatasetID   string
	Bundle      *store.Bundle
	Cache       *cache.Manager
	Renderer    *render.HeatmapRenderer
	Annotations *annostore.Store
	Defaults    Defaults
	Logger      *zap.Logger
}

// QueryService answers read-only queries over one dataset. It is safe for
// concurrent use.
type QueryService struct {
	datasetID   string
	bundle      *store.Bundle
	cache       *cache.Manager
	renderer    *render.HeatmapRenderer
	annotations *annostore.Store
	defaults    Defaults
	logger      *zap.Logger
}

// New creates a query service.
func New(cfg Config) *QueryService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	d := cfg.Defaults
	if d.Genes <= 0 {
		d.Genes = 20
	}
	if d.Cells <= 0 {
		d.Cells = 20
	}
	if d.Limit <= 0 {
		d.Limit = store.DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		datasetID:   datasetID,
		bundle:      cfg.Bundle,
		cache:       cfg.Cache,
		renderer:    cfg.Renderer,
		annotations: cfg.Annotations,
		defaults:    d,
		logger:      logger.With(zap.String("dataset", datasetID)),
	}
}

// DatasetID returns the dataset this service answers for.
func (s *QueryService) DatasetID() string { return s.datasetID }

// Genes returns every gene in heatmap store order.
func (s *QueryService) Genes() []string { return s.bundle.Heatmap.ColKeys() }

// Cells returns every cell group in heatmap store order.
func (s *QueryService) Cells() []string { return s.bundle.Heatmap.RowKeys() }

// HasGene reports whether gene is part of the catalog.
func (s *QueryService) HasGene(gene string) bool { return s.bundle.Heatmap.Cols().Contains(gene) }

// BinEdges returns the histogram bin left edges.
func (s *QueryService) BinEdges() []float64 {
	return append([]float64(nil), s.bundle.Histogram.Edges...)
}

// Heatmap returns gene -> cell -> value. Blank ids are dropped; empty gene or
// cell lists fall back to the first genes/cells of the store. Cells are
// deduplicated and sorted in reverse lexicographic order.
func (s *QueryService) Heatmap(geneIDs, cellNames []string) (*HeatmapResult, error) {
	m := s.bundle.Heatmap

	genes := dedupe(clean(geneIDs))
	if len(genes) == 0 {
		genes = m.Cols().Head(s.defaults.Genes)
	}
	cells := clean(cellNames)
	if len(cells) == 0 {
		cells = m.Rows().Head(s.defaults.Cells)
	}
	cells = dedupe(cells)
	sort.Sort(sort.Reverse(sort.StringSlice(cells)))

	out := NewOrderedMap[*OrderedMap[Value]](len(genes))
	for _, gene := range genes {
		row := NewOrderedMap[Value](len(cells))
		for _, cell := range cells {
			v, err := m.Lookup(cell, gene)
			if err != nil {
				return nil, fmt.Errorf("heatmap: %w", err)
			}
			row.Set(cell, Value(v))
		}
		out.Set(gene, row)
	}
	return &HeatmapResult{Genes: genes, Cells: cells, Values: out}, nil
}

// Histogram returns cell -> bin counts for one gene, for every catalog cell
// group in store order or only the requested subset. An empty gene id means
// the first catalog gene.
func (s *QueryService) Histogram(geneID string, cellNames []string) (*HistogramResult, error) {
	gene := s.resolveGene(geneID)
	hist := s.bundle.Histogram.Tensor
	layer, err := hist.Layer(gene)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}

	cells := s.Cells()
	if wanted := clean(cellNames); len(wanted) > 0 {
		keep := make(map[string]bool, len(wanted))
		for _, c := range wanted {
			if !s.bundle.Heatmap.Rows().Contains(c) {
				return nil, fmt.Errorf("histogram: %w", &store.KeyError{Axis: "cell", Key: c})
			}
			keep[c] = true
		}
		filtered := cells[:0]
		for _, c := range cells {
			if keep[c] {
				filtered = append(filtered, c)
			}
		}
		cells = filtered
	}

	counts := NewOrderedMap[[]Value](len(cells))
	for _, cell := range cells {
		pos, err := hist.Obs().Position(cell)
		if err != nil {
			return nil, fmt.Errorf("histogram: %w", err)
		}
		counts.Set(cell, values(layer.Row(pos)))
	}
	return &HistogramResult{Gene: gene, Counts: counts}, nil
}

// SwarmRequest holds the parameters of a swarm query. Zero values select the
// defaults: the first cell group, proba_not_de ranking, the configured order
// and limit.
type SwarmRequest struct {
	Cell   string
	RankBy string
	Order  string
	Limit  int
}

// Swarm ranks the genes of one cell group and, for each ranked gene, lists the
// other cell groups whose mean log fold change for that gene is positive.
func (s *QueryService) Swarm(req SwarmRequest) (*SwarmResult, error) {
	sw := s.bundle.Swarm

	cell := s.resolveCell(req.Cell)
	by, err := store.ParseRankBy(req.RankBy)
	if err != nil {
		return nil, err
	}
	order := s.defaults.Order
	if strings.TrimSpace(req.Order) != "" {
		if order, err = store.ParseOrder(req.Order); err != nil {
			return nil, err
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaults.Limit
	}

	genes, err := sw.Tables.RankedGenes(cell, by, order, limit)
	if err != nil {
		return nil, fmt.Errorf("swarm %q: %w", cell, err)
	}
	cellPos, err := sw.Tensor.Obs().Position(cell)
	if err != nil {
		return nil, fmt.Errorf("swarm %q: %w", cell, err)
	}

	type comparison struct {
		name  string
		layer store.Layer
		table *store.Table
	}
	var others []comparison
	for _, other := range s.Cells() {
		if other == cell {
			continue
		}
		layer, err := sw.Tensor.Layer(other)
		if err != nil {
			return nil, fmt.Errorf("swarm %q: %w", cell, err)
		}
		table, err := sw.Tables.Table(other)
		if err != nil {
			return nil, fmt.Errorf("swarm %q: %w", cell, err)
		}
		others = append(others, comparison{name: other, layer: layer, table: table})
	}

	out := NewOrderedMap[SwarmGene](len(genes))
	for _, gene := range genes {
		ref, err := sw.Reference.Lookup(gene, cell)
		if err != nil {
			return nil, fmt.Errorf("swarm %q: reference: %w", cell, err)
		}
		genePos, err := sw.Tensor.Vars().Position(gene)
		if err != nil {
			return nil, fmt.Errorf("swarm %q: %w", cell, err)
		}

		entry := SwarmGene{Reference: Value(ref)}
		for _, o := range others {
			cmp, err := o.table.Value(store.ColumnLFCMean, gene)
			if err != nil {
				return nil, fmt.Errorf("swarm %q: %s: %w", cell, o.name, err)
			}
			if !(cmp > 0) {
				continue
			}
			entry.Points = append(entry.Points, SwarmPoint{
				Cell:       o.name,
				Comparison: Value(cmp),
				Magnitude:  Value(o.layer.At(cellPos, genePos)),
			})
		}
		out.Set(gene, entry)
	}
	return &SwarmResult{Cell: cell, Genes: out}, nil
}

// HeatmapJSON is Heatmap encoded as JSON, served from the query cache when possible.
func (s *QueryService) HeatmapJSON(geneIDs, cellNames []string) ([]byte, error) {
	key := cache.QueryKey(s.datasetID, "heatmap", cache.ListParam(geneIDs), cache.ListParam(cellNames))
	return s.cachedJSON(key, func() (interface{}, error) {
		return s.Heatmap(geneIDs, cellNames)
	})
}

// HistogramJSON is Histogram encoded as JSON, along with the resolved gene.
func (s *QueryService) HistogramJSON(geneID string, cellNames []string) ([]byte, string, error) {
	gene := s.resolveGene(geneID)
	key := cache.QueryKey(s.datasetID, "histogram", gene, cache.ListParam(cellNames))
	data, err := s.cachedJSON(key, func() (interface{}, error) {
		return s.Histogram(gene, cellNames)
	})
	return data, gene, err
}

// SwarmJSON is Swarm encoded as JSON, along with the resolved cell.
func (s *QueryService) SwarmJSON(req SwarmRequest) ([]byte, string, error) {
	cell := s.resolveCell(req.Cell)
	key := cache.QueryKey(s.datasetID, "swarm", cell, req.RankBy, req.Order, strconv.Itoa(req.Limit))
	data, err := s.cachedJSON(key, func() (interface{}, error) {
		req.Cell = cell
		return s.Swarm(req)
	})
	return data, cell, err
}

func (s *QueryService) cachedJSON(key string, build func() (interface{}, error)) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// HeatmapPNG renders a heatmap slice (genes as rows, cells as columns).
func (s *QueryService) HeatmapPNG(geneIDs, cellNames []string, colormapName string) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("renderer not configured")
	}
	if colormapName == "" {
		colormapName = s.renderer.DefaultColormap()
	}
	key := cache.QueryKey(s.datasetID, "heatmap.png", cache.ListParam(geneIDs), cache.ListParam(cellNames), colormapName)
	if s.cache != nil {
		if data, ok := s.cache.GetImage(key); ok {
			return data, nil
		}
	}

	res, err := s.Heatmap(geneIDs, cellNames)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.Render(res.Grid(), colormapName)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetImage(key, data); err != nil {
			s.logger.Debug("image not cached", zap.Error(err))
		}
	}
	return data, nil
}

// Annotation returns the name and description of a catalog gene.
func (s *QueryService) Annotation(ctx context.Context, gene string) (*annostore.Annotation, error) {
	if s.annotations == nil {
		return nil, ErrAnnotationsDisabled
	}
	if !s.HasGene(gene) {
		return nil, &store.KeyError{Axis: "gene", Key: gene}
	}
	return s.annotations.Lookup(ctx, gene)
}

// Annotations returns the annotations of the given genes in request order,
// skipping genes without one.
func (s *QueryService) Annotations(ctx context.Context, genes []string) ([]annostore.Annotation, error) {
	if s.annotations == nil {
		return nil, ErrAnnotationsDisabled
	}
	return s.annotations.LookupMany(ctx, dedupe(clean(genes)))
}

// Stats summarises the loaded dataset.
func (s *QueryService) Stats() map[string]interface{} {
	b := s.bundle
	cells, genes := b.Heatmap.Shape()
	stats := map[string]interface{}{
		"dataset":          s.datasetID,
		"n_cells":          cells,
		"n_genes":          genes,
		"n_bins":           len(b.Histogram.Edges),
		"histogram_layers": len(b.Histogram.Tensor.LayerNames()),
		"histogram_kinds":  b.Histogram.Tensor.KindCounts(),
		"swarm_layers":     len(b.Swarm.Tensor.LayerNames()),
		"side_tables":      len(b.Swarm.Tables.Groups()),
		"load_ms":          b.LoadTime.Milliseconds(),
		"annotations":      s.annotations != nil,
	}
	if s.cache != nil {
		stats["cache"] = s.cache.Stats()
	}
	return stats
}

// resolveGene returns geneID, or the first catalog gene when it is blank.
func (s *QueryService) resolveGene(geneID string) string {
	if strings.TrimSpace(geneID) != "" {
		return geneID
	}
	if head := s.bundle.Heatmap.Cols().Head(1); len(head) > 0 {
		return head[0]
	}
	return ""
}

// resolveCell trims cell, falling back to the first catalog cell group.
func (s *QueryService) resolveCell(cell string) string {
	if cell = strings.TrimSpace(cell); cell != "" {
		return cell
	}
	if head := s.bundle.Heatmap.Rows().Head(1); len(head) > 0 {
		return head[0]
	}
	return ""
}

// clean drops blank ids.
func clean(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

// dedupe keeps the first occurrence of each id.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
