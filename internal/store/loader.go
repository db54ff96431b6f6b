package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormcells-viz/server/internal/data/zarr"
)

// ReferenceTable is the uns dataframe of a swarm store holding the
// genes x cells reference heatmap.
const ReferenceTable = "heatmap"

// Paths locates the three inputs of one dataset.
type Paths struct {
	Heatmap   string
	Histogram string
	Swarm     string
}

// Histogram is the histogram tensor: one layer per gene, cells x bins.
type Histogram struct {
	Tensor *Tensor
	Edges  []float64
}

// Swarm is the swarm tensor: one layer per cell group (cells x genes), one
// ranking table per cell group and the embedded genes x cells reference matrix.
type Swarm struct {
	Tensor    *Tensor
	Tables    *SideTables
	Reference *Matrix
}

// Bundle owns the stores of one dataset. It is immutable once opened.
type Bundle struct {
	Heatmap   *Matrix
	Histogram *Histogram
	Swarm     *Swarm
	Paths     Paths
	LoadTime  time.Duration
}

type options struct {
	logger      *zap.Logger
	concurrency int
	bins        int
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used while loading.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency bounds the number of layers decoded in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBinCount requires the histogram store to carry exactly n bins.
// Zero accepts any count.
func WithBinCount(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.bins = n
		}
	}
}

// Open loads all three stores of a dataset. It fails unless every store is
// complete: the histogram and swarm stores need at least one layer, and each
// heatmap cell group needs a swarm layer and a side table.
func Open(ctx context.Context, paths Paths, opts ...Option) (*Bundle, error) {
	o := options{logger: zap.NewNop(), concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if paths.Heatmap == "" || paths.Histogram == "" || paths.Swarm == "" {
		return nil, errors.New("heatmap, histogram and swarm paths are all required")
	}

	zr, err := zarr.NewReader()
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	l := &loader{ann: &annReader{z: zr}, opts: o}

	start := time.Now()
	heatmap, err := l.heatmap(paths.Heatmap)
	if err != nil {
		return nil, fmt.Errorf("load heatmap: %w", err)
	}
	histogram, err := l.histogram(ctx, paths.Histogram)
	if err != nil {
		return nil, fmt.Errorf("load histogram: %w", err)
	}
	swarm, err := l.swarm(ctx, paths.Swarm)
	if err != nil {
		return nil, fmt.Errorf("load swarm: %w", err)
	}
	if err := swarm.covers(heatmap.RowKeys()); err != nil {
		return nil, fmt.Errorf("load swarm: %w", err)
	}

	b := &Bundle{
		Heatmap:   heatmap,
		Histogram: histogram,
		Swarm:     swarm,
		Paths:     paths,
		LoadTime:  time.Since(start),
	}
	r, c := heatmap.Shape()
	o.logger.Info("dataset loaded",
		zap.Int("cells", r),
		zap.Int("genes", c),
		zap.Int("histogram_layers", len(histogram.Tensor.LayerNames())),
		zap.Int("bins", len(histogram.Edges)),
		zap.Int("swarm_layers", len(swarm.Tensor.LayerNames())),
		zap.Int("side_tables", len(swarm.Tables.Groups())),
		zap.Duration("elapsed", b.LoadTime),
	)
	return b, nil
}

type loader struct {
	ann  *annReader
	opts options
}

// heatmap loads a cells x genes matrix from a zarr store or a CSV file.
func (l *loader) heatmap(path string) (*Matrix, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadHeatmapCSV(f)
	}

	attrs, err := l.ann.root(path)
	if err != nil {
		return nil, err
	}
	cells, err := NewIndex("cell", attrs.ObsNames)
	if err != nil {
		return nil, err
	}
	genes, err := NewIndex("gene", attrs.VarNames)
	if err != nil {
		return nil, err
	}
	x, err := l.ann.layer(filepath.Join(path, "X"), cells.Len(), genes.Len())
	if err != nil {
		return nil, err
	}
	return matrixFromLayer(cells, genes, x)
}

func (l *loader) histogram(ctx context.Context, path string) (*Histogram, error) {
	attrs, err := l.ann.root(path)
	if err != nil {
		return nil, err
	}
	cells, err := NewIndex("cell", attrs.ObsNames)
	if err != nil {
		return nil, err
	}
	bins, err := NewIndex("bin", attrs.VarNames)
	if err != nil {
		return nil, err
	}
	if l.opts.bins > 0 && bins.Len() != l.opts.bins {
		return nil, fmt.Errorf("histogram has %d bins, expected %d", bins.Len(), l.opts.bins)
	}
	edges := make([]float64, len(attrs.VarNames))
	for i, s := range attrs.VarNames {
		edges[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("bin edge %q is not a number", s)
		}
		if i > 0 && !(edges[i] > edges[i-1]) {
			return nil, fmt.Errorf("bin edges must increase: %v follows %v", edges[i], edges[i-1])
		}
	}
	if len(edges) > 0 {
		l.opts.logger.Info("histogram bins",
			zap.Int("count", len(edges)),
			zap.Float64("first_edge", edges[0]),
			zap.Float64("last_edge", edges[len(edges)-1]))
	}

	tensor, err := l.tensor(ctx, filepath.Join(path, "layers"), cells, bins)
	if err != nil {
		return nil, err
	}
	return &Histogram{Tensor: tensor, Edges: edges}, nil
}

func (l *loader) swarm(ctx context.Context, path string) (*Swarm, error) {
	attrs, err := l.ann.root(path)
	if err != nil {
		return nil, err
	}
	cells, err := NewIndex("cell", attrs.ObsNames)
	if err != nil {
		return nil, err
	}
	genes, err := NewIndex("gene", attrs.VarNames)
	if err != nil {
		return nil, err
	}

	tensor, err := l.tensor(ctx, filepath.Join(path, "layers"), cells, genes)
	if err != nil {
		return nil, err
	}

	unsPath := filepath.Join(path, "uns")
	names, err := children(unsPath)
	if err != nil {
		return nil, err
	}

	var (
		reference *Matrix
		groups    []string
		tables    []*Table
	)
	for _, name := range names {
		index, columns, values, err := l.ann.dataFrame(filepath.Join(unsPath, name))
		if err != nil {
			return nil, err
		}
		if name == ReferenceTable {
			reference, err = referenceMatrix(index, columns, values)
			if err != nil {
				return nil, fmt.Errorf("uns/%s: %w", name, err)
			}
			continue
		}

		ix, err := NewIndex("gene", index)
		if err != nil {
			return nil, fmt.Errorf("uns/%s: %w", name, err)
		}
		for _, g := range attrs.VarNames {
			if !ix.Contains(g) {
				return nil, fmt.Errorf("uns/%s: side table is missing gene %q", name, g)
			}
		}
		t, err := NewTable(ix, columns, values)
		if err != nil {
			return nil, fmt.Errorf("uns/%s: %w", name, err)
		}
		groups = append(groups, name)
		tables = append(tables, t)
	}
	if reference == nil {
		return nil, fmt.Errorf("missing uns/%s reference table", ReferenceTable)
	}

	tablesSet, err := NewSideTables(groups, tables)
	if err != nil {
		return nil, err
	}
	sw := &Swarm{Tensor: tensor, Tables: tablesSet, Reference: reference}
	if err := sw.covers(attrs.ObsNames); err != nil {
		return nil, err
	}
	return sw, nil
}

// covers reports an error naming the first cell group that lacks a swarm
// layer or a side table.
func (s *Swarm) covers(cells []string) error {
	groups := make(map[string]bool)
	for _, g := range s.Tables.Groups() {
		groups[g] = true
	}
	for _, c := range cells {
		var missing []string
		if _, err := s.Tensor.Layer(c); err != nil {
			missing = append(missing, "layer")
		}
		if !groups[c] {
			missing = append(missing, "side table")
		}
		if len(missing) > 0 {
			return fmt.Errorf("cell group %q is missing its %s", c, strings.Join(missing, " and "))
		}
	}
	return nil
}

// tensor decodes every layer under dir in parallel.
func (l *loader) tensor(ctx context.Context, dir string, obs, vars *Index) (*Tensor, error) {
	names, err := children(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no layers under %s", dir)
	}

	layers := make([]Layer, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			layer, err := l.ann.layer(filepath.Join(dir, name), obs.Len(), vars.Len())
			if err != nil {
				return fmt.Errorf("layer %q: %w", name, err)
			}
			layers[i] = layer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.opts.logger.Debug("layers loaded", zap.String("dir", dir), zap.Int("count", len(names)))
	return NewTensor(obs, vars, names, layers)
}

// referenceMatrix turns a dataframe (index genes, one column per cell) into a
// genes x cells matrix.
func referenceMatrix(index, columns []string, values [][]float64) (*Matrix, error) {
	genes, err := NewIndex("gene", index)
	if err != nil {
		return nil, err
	}
	cells, err := NewIndex("cell", columns)
	if err != nil {
		return nil, err
	}
	flat := make([]float64, 0, len(index)*len(columns))
	for i := range index {
		for c := range columns {
			flat = append(flat, values[c][i])
		}
	}
	return NewMatrix(genes, cells, flat)
}

func matrixFromLayer(rows, cols *Index, layer Layer) (*Matrix, error) {
	flat := make([]float64, 0, rows.Len()*cols.Len())
	for i := 0; i < rows.Len(); i++ {
		flat = append(flat, layer.Row(i)...)
	}
	return NewMatrix(rows, cols, flat)
}

// ReadHeatmapCSV reads the CSV heatmap layout: a gene_id column plus one column
// per cell group, one row per gene. The result is transposed to cells x genes.
// Empty fields read as NaN.
func ReadHeatmapCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	geneCol := 0
	for i, h := range header {
		if strings.TrimSpace(h) == "gene_id" {
			geneCol = i
			break
		}
	}
	cellNames := make([]string, 0, len(header)-1)
	cellCols := make([]int, 0, len(header)-1)
	for i, h := range header {
		if i == geneCol {
			continue
		}
		cellNames = append(cellNames, h)
		cellCols = append(cellCols, i)
	}

	var (
		geneNames []string
		byGene    []float64
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		geneNames = append(geneNames, rec[geneCol])
		for _, c := range cellCols {
			field := strings.TrimSpace(rec[c])
			if field == "" {
				byGene = append(byGene, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d, column %q: %w", line, header[c], err)
			}
			byGene = append(byGene, v)
		}
	}

	genes, err := NewIndex("gene", geneNames)
	if err != nil {
		return nil, err
	}
	cells, err := NewIndex("cell", cellNames)
	if err != nil {
		return nil, err
	}
	m, err := NewMatrix(genes, cells, byGene)
	if err != nil {
		return nil, err
	}
	return m.Transpose(), nil
}
