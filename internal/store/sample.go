package store

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wormcells-viz/server/internal/data/zarr"
)

// sideTableColumns is the column order written for ranking tables.
var sideTableColumns = []string{ColumnProbaNotDE, ColumnScale1, ColumnScale2, ColumnLFCMean, ColumnLFCMedian}

// Dataset is an in-memory description of the three input stores, used to
// write sample datasets and test fixtures.
type Dataset struct {
	Cells []string
	Genes []string

	// Heatmap is cells x genes.
	Heatmap [][]float64

	// Edges are the histogram bin left edges; Histograms maps gene to a
	// cells x bins count matrix.
	Edges      []float64
	Histograms map[string][][]float64

	// SwarmLayers maps cell to a cells x genes matrix; SideTables maps cell
	// to column to per-gene values (Genes order); Reference is genes x cells.
	SwarmLayers map[string][][]float64
	SideTables  map[string]map[string][]float64
	Reference   [][]float64

	// SparseHistograms writes histogram layers as CSR groups.
	SparseHistograms bool
	// DataType and Codec apply to every value array. Defaults: float64, zstd.
	DataType string
	Codec    string
}

// WriteDataset writes ds as heatmap.zarr, histogram.zarr and swarm.zarr under dir.
func WriteDataset(dir string, ds *Dataset) (Paths, error) {
	paths := Paths{
		Heatmap:   filepath.Join(dir, "heatmap.zarr"),
		Histogram: filepath.Join(dir, "histogram.zarr"),
		Swarm:     filepath.Join(dir, "swarm.zarr"),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return paths, err
	}

	spec := zarr.ArraySpec{DataType: ds.DataType, Codec: ds.Codec, ChunkShape: []int{16, 64}}
	if spec.DataType == "" {
		spec.DataType = "float64"
	}
	if spec.Codec == "" {
		spec.Codec = "zstd"
	}
	nc, ng := len(ds.Cells), len(ds.Genes)

	// heatmap
	if err := WriteAnnDataRoot(paths.Heatmap, AnnDataAttrs{ObsNames: ds.Cells, VarNames: ds.Genes, About: "log10 expression frequency"}); err != nil {
		return paths, err
	}
	values, err := flatten(ds.Heatmap, nc, ng)
	if err != nil {
		return paths, fmt.Errorf("heatmap: %w", err)
	}
	if err := WriteDenseLayer(filepath.Join(paths.Heatmap, "X"), nc, ng, values, spec); err != nil {
		return paths, err
	}

	// histogram
	edgeNames := make([]string, len(ds.Edges))
	for i, e := range ds.Edges {
		edgeNames[i] = strconv.FormatFloat(e, 'g', -1, 64)
	}
	if err := WriteAnnDataRoot(paths.Histogram, AnnDataAttrs{ObsNames: ds.Cells, VarNames: edgeNames, About: "log10 expression histograms"}); err != nil {
		return paths, err
	}
	for _, gene := range ds.Genes {
		counts, ok := ds.Histograms[gene]
		if !ok {
			continue
		}
		values, err := flatten(counts, nc, len(ds.Edges))
		if err != nil {
			return paths, fmt.Errorf("histogram %q: %w", gene, err)
		}
		layerPath := filepath.Join(paths.Histogram, "layers", gene)
		countSpec := spec
		countSpec.DataType = "int32"
		if ds.SparseHistograms {
			data, indices, indptr := toCSR(values, nc, len(ds.Edges))
			err = WriteCSRLayer(layerPath, nc, len(ds.Edges), data, indices, indptr, countSpec)
		} else {
			err = WriteDenseLayer(layerPath, nc, len(ds.Edges), values, countSpec)
		}
		if err != nil {
			return paths, err
		}
	}

	// swarm
	if err := WriteAnnDataRoot(paths.Swarm, AnnDataAttrs{ObsNames: ds.Cells, VarNames: ds.Genes, About: "pairwise log fold changes"}); err != nil {
		return paths, err
	}
	for _, cell := range ds.Cells {
		if layer, ok := ds.SwarmLayers[cell]; ok {
			values, err := flatten(layer, nc, ng)
			if err != nil {
				return paths, fmt.Errorf("swarm layer %q: %w", cell, err)
			}
			if err := WriteDenseLayer(filepath.Join(paths.Swarm, "layers", cell), nc, ng, values, spec); err != nil {
				return paths, err
			}
		}
		if table, ok := ds.SideTables[cell]; ok {
			var (
				columns []string
				cols    [][]float64
			)
			for _, name := range sideTableColumns {
				if v, ok := table[name]; ok {
					columns = append(columns, name)
					cols = append(cols, v)
				}
			}
			if err := WriteDataFrame(filepath.Join(paths.Swarm, "uns", cell), ds.Genes, columns, cols, spec); err != nil {
				return paths, err
			}
		}
	}
	if ds.Reference != nil {
		cols := make([][]float64, nc)
		for c := range ds.Cells {
			cols[c] = make([]float64, ng)
			for g := range ds.Genes {
				cols[c][g] = ds.Reference[g][c]
			}
		}
		if err := WriteDataFrame(filepath.Join(paths.Swarm, "uns", ReferenceTable), ds.Genes, ds.Cells, cols, spec); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// SyntheticDataset generates a reproducible random dataset with the layout
// produced by the differential expression pipeline: 100 log10 bins over
// [-9, 0), sparse int histograms and float16 pairwise fold changes.
func SyntheticDataset(numCells, numGenes int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	const numBins = 100

	ds := &Dataset{
		Cells:            make([]string, numCells),
		Genes:            make([]string, numGenes),
		Edges:            make([]float64, numBins),
		Histograms:       make(map[string][][]float64, numGenes),
		SwarmLayers:      make(map[string][][]float64, numCells),
		SideTables:       make(map[string]map[string][]float64, numCells),
		SparseHistograms: true,
		DataType:         "float16",
		Codec:            "zstd",
	}
	for c := range ds.Cells {
		ds.Cells[c] = fmt.Sprintf("cell_%03d", c)
	}
	for g := range ds.Genes {
		ds.Genes[g] = fmt.Sprintf("WBGene%08d", 10000+g)
	}
	for b := range ds.Edges {
		ds.Edges[b] = -9 + 9*float64(b)/numBins
	}

	ds.Heatmap = grid(numCells, numGenes, func(int, int) float64 { return -9 * rng.Float64() })
	ds.Reference = grid(numGenes, numCells, func(g, c int) float64 { return ds.Heatmap[c][g] })

	for _, gene := range ds.Genes {
		ds.Histograms[gene] = grid(numCells, numBins, func(int, int) float64 {
			if rng.Float64() < 0.8 {
				return 0
			}
			return float64(rng.Intn(500))
		})
	}
	for _, cell := range ds.Cells {
		ds.SwarmLayers[cell] = grid(numCells, numGenes, func(int, int) float64 {
			return math.Round(rng.NormFloat64()*200) / 100
		})
		cols := map[string][]float64{}
		for _, name := range sideTableColumns {
			cols[name] = make([]float64, numGenes)
		}
		for g := range ds.Genes {
			lfc := rng.NormFloat64() * 2
			cols[ColumnProbaNotDE][g] = rng.Float64()
			cols[ColumnLFCMean][g] = lfc
			cols[ColumnLFCMedian][g] = lfc + rng.NormFloat64()*0.1
			cols[ColumnScale1][g] = rng.Float64() * 1e-3
			cols[ColumnScale2][g] = rng.Float64() * 1e-3
		}
		ds.SideTables[cell] = cols
	}
	return ds
}

func grid(rows, cols int, f func(i, j int) float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = f(i, j)
		}
	}
	return out
}

func flatten(m [][]float64, rows, cols int) ([]float64, error) {
	if len(m) != rows {
		return nil, fmt.Errorf("got %d rows, expected %d", len(m), rows)
	}
	out := make([]float64, 0, rows*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), cols)
		}
		out = append(out, row...)
	}
	return out, nil
}

func toCSR(values []float64, rows, cols int) ([]float64, []int, []int) {
	var (
		data    []float64
		indices []int
	)
	indptr := make([]int, 0, rows+1)
	indptr = append(indptr, 0)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := values[i*cols+j]; v != 0 {
				data = append(data, v)
				indices = append(indices, j)
			}
		}
		indptr = append(indptr, len(data))
	}
	return data, indices, indptr
}
