package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture returns a small dataset with exactly representable values.
func fixture() *Dataset {
	cells := []string{"ADA", "ASE", "AWC"}
	genes := []string{"g1", "g2", "g3", "g4"}
	edges := []float64{-9, -6, -3}

	ds := &Dataset{
		Cells:       cells,
		Genes:       genes,
		Edges:       edges,
		Histograms:  map[string][][]float64{},
		SwarmLayers: map[string][][]float64{},
		SideTables:  map[string]map[string][]float64{},
	}
	ds.Heatmap = grid(len(cells), len(genes), func(c, g int) float64 { return -float64(c+1) - float64(g)/4 })
	ds.Reference = grid(len(genes), len(cells), func(g, c int) float64 { return ds.Heatmap[c][g] })
	for gi, g := range genes {
		ds.Histograms[g] = grid(len(cells), len(edges), func(c, b int) float64 {
			if (c+b+gi)%2 == 0 {
				return 0
			}
			return float64(10*c + b + gi)
		})
	}
	for ci, c := range cells {
		ds.SwarmLayers[c] = grid(len(cells), len(genes), func(i, g int) float64 { return float64(ci*100 + i*10 + g) })
		ds.SideTables[c] = map[string][]float64{
			ColumnProbaNotDE: {0.5, 0.1, 0.5, 0.9},
			ColumnLFCMean:    {float64(ci) - 1, 2, -1, 0},
			ColumnScale1:     {1, 2, 3, 4},
		}
	}
	return ds
}

func openFixture(t *testing.T, ds *Dataset) *Bundle {
	t.Helper()
	paths, err := WriteDataset(t.TempDir(), ds)
	require.NoError(t, err)
	b, err := Open(context.Background(), paths)
	require.NoError(t, err)
	return b
}

func TestOpen_HeatmapLookup(t *testing.T) {
	ds := fixture()
	b := openFixture(t, ds)

	assert.Equal(t, ds.Cells, b.Heatmap.RowKeys())
	assert.Equal(t, ds.Genes, b.Heatmap.ColKeys())
	for c, cell := range ds.Cells {
		for g, gene := range ds.Genes {
			v, err := b.Heatmap.Lookup(cell, gene)
			require.NoError(t, err)
			assert.Equal(t, ds.Heatmap[c][g], v, "%s/%s", cell, gene)
		}
	}

	// Axis order is repeatable.
	assert.Equal(t, b.Heatmap.RowKeys(), b.Heatmap.RowKeys())

	_, err := b.Heatmap.Lookup("ADA", "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	var ke *KeyError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, "gene", ke.Axis)
	assert.Equal(t, "nope", ke.Key)

	_, err = b.Heatmap.Lookup("nope", "g1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpen_DenseAndSparseHistogramsMatch(t *testing.T) {
	dense := fixture()
	sparse := fixture()
	sparse.SparseHistograms = true

	bd := openFixture(t, dense)
	bs := openFixture(t, sparse)

	assert.Equal(t, map[LayerKind]int{KindDense: 4}, bd.Histogram.Tensor.KindCounts())
	assert.Equal(t, map[LayerKind]int{KindCSR: 4}, bs.Histogram.Tensor.KindCounts())
	assert.Equal(t, dense.Edges, bs.Histogram.Edges)

	for _, gene := range dense.Genes {
		for c, cell := range dense.Cells {
			want := dense.Histograms[gene][c]
			gotDense, err := bd.Histogram.Tensor.Row(gene, cell)
			require.NoError(t, err)
			gotSparse, err := bs.Histogram.Tensor.Row(gene, cell)
			require.NoError(t, err)
			assert.Equal(t, want, gotDense)
			assert.Equal(t, want, gotSparse)

			for b := range want {
				v, err := bs.Histogram.Tensor.At(gene, cell, bs.Histogram.Tensor.Vars().Label(b))
				require.NoError(t, err)
				assert.Equal(t, want[b], v)
			}
		}
	}

	_, err := bs.Histogram.Tensor.Layer("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpen_Swarm(t *testing.T) {
	ds := fixture()
	b := openFixture(t, ds)

	assert.Equal(t, ds.Cells, b.Swarm.Tables.Groups())
	assert.Equal(t, ds.Cells, b.Swarm.Tensor.LayerNames())

	v, err := b.Swarm.Tensor.At("ASE", "AWC", "g3")
	require.NoError(t, err)
	assert.Equal(t, 100.0+20+2, v)

	ref, err := b.Swarm.Reference.Lookup("g2", "AWC")
	require.NoError(t, err)
	assert.Equal(t, ds.Heatmap[2][1], ref)

	lfc, err := b.Swarm.Tables.Value("AWC", ColumnLFCMean, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, lfc)

	genes, err := b.Swarm.Tables.RankedGenes("ADA", RankProbaNotDE, Ascending, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g1", "g3", "g4"}, genes)

	_, err = b.Swarm.Tables.RankedGenes("XYZ", RankProbaNotDE, Ascending, 0)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpen_SyntheticDataset(t *testing.T) {
	ds := SyntheticDataset(5, 7, 42)
	b := openFixture(t, ds)

	r, c := b.Heatmap.Shape()
	assert.Equal(t, 5, r)
	assert.Equal(t, 7, c)
	assert.Len(t, b.Histogram.Edges, 100)
	assert.Equal(t, -9.0, b.Histogram.Edges[0])
	assert.Equal(t, map[LayerKind]int{KindCSR: 7}, b.Histogram.Tensor.KindCounts())

	row, err := b.Histogram.Tensor.Row(ds.Genes[3], ds.Cells[2])
	require.NoError(t, err)
	assert.Equal(t, ds.Histograms[ds.Genes[3]][2], row)
}

func TestOpen_Failures(t *testing.T) {
	t.Run("missing reference table", func(t *testing.T) {
		ds := fixture()
		ds.Reference = nil
		paths, err := WriteDataset(t.TempDir(), ds)
		require.NoError(t, err)
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, "reference table")
	})

	t.Run("side table missing a gene", func(t *testing.T) {
		ds := fixture()
		paths, err := WriteDataset(t.TempDir(), ds)
		require.NoError(t, err)
		short := ds.SideTables["ASE"]
		cols := []string{ColumnProbaNotDE, ColumnScale1, ColumnLFCMean}
		vals := [][]float64{short[ColumnProbaNotDE][:3], short[ColumnScale1][:3], short[ColumnLFCMean][:3]}
		dir := filepath.Join(paths.Swarm, "uns", "ASE")
		require.NoError(t, os.RemoveAll(dir))
		require.NoError(t, WriteDataFrame(dir, ds.Genes[:3], cols, vals, defaultSpec()))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `missing gene "g4"`)
	})

	t.Run("layer shape mismatch", func(t *testing.T) {
		ds := fixture()
		paths, err := WriteDataset(t.TempDir(), ds)
		require.NoError(t, err)
		dir := filepath.Join(paths.Histogram, "layers", "g2")
		require.NoError(t, os.RemoveAll(dir))
		require.NoError(t, WriteDenseLayer(dir, 2, 3, make([]float64, 6), defaultSpec()))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `layer "g2"`)
	})

	t.Run("histogram without layers", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(filepath.Join(paths.Histogram, "layers")))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, "missing group")
	})

	t.Run("empty histogram layers", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		dir := filepath.Join(paths.Histogram, "layers")
		require.NoError(t, os.RemoveAll(dir))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, "no layers")
	})

	t.Run("layer directory without metadata", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(paths.Histogram, "layers", "g9"), 0o755))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `"g9" is not a zarr node`)
	})

	t.Run("swarm cell without layer", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(filepath.Join(paths.Swarm, "layers", "AWC")))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `cell group "AWC" is missing its layer`)
	})

	t.Run("swarm cell without side table", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(filepath.Join(paths.Swarm, "uns", "ASE")))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `cell group "ASE" is missing its side table`)
	})

	t.Run("heatmap cell absent from swarm", func(t *testing.T) {
		dir := t.TempDir()
		paths, err := WriteDataset(dir, fixture())
		require.NoError(t, err)
		paths.Heatmap = filepath.Join(dir, "heatmap.csv")
		require.NoError(t, os.WriteFile(paths.Heatmap, []byte("gene_id,ADA,BAG\ng1,-1,-2\n"), 0o644))
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, `cell group "BAG"`)
	})

	t.Run("unexpected bin count", func(t *testing.T) {
		paths, err := WriteDataset(t.TempDir(), fixture())
		require.NoError(t, err)
		_, err = Open(context.Background(), paths, WithBinCount(100))
		assert.ErrorContains(t, err, "histogram has 3 bins, expected 100")

		b, err := Open(context.Background(), paths, WithBinCount(3))
		require.NoError(t, err)
		assert.Len(t, b.Histogram.Edges, 3)
	})

	t.Run("bin edges out of order", func(t *testing.T) {
		ds := fixture()
		ds.Edges = []float64{-9, -3, -6}
		paths, err := WriteDataset(t.TempDir(), ds)
		require.NoError(t, err)
		_, err = Open(context.Background(), paths)
		assert.ErrorContains(t, err, "bin edges must increase")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Open(context.Background(), Paths{Heatmap: "x"})
		assert.Error(t, err)
	})

	t.Run("missing store", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Open(context.Background(), Paths{
			Heatmap:   filepath.Join(dir, "a"),
			Histogram: filepath.Join(dir, "b"),
			Swarm:     filepath.Join(dir, "c"),
		})
		assert.Error(t, err)
	})
}

func TestReadHeatmapCSV(t *testing.T) {
	in := "gene_id,AWC,ADA\n" +
		"g1,-1.5,-2\n" +
		"g2,,0.25\n"
	m, err := ReadHeatmapCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"AWC", "ADA"}, m.RowKeys())
	assert.Equal(t, []string{"g1", "g2"}, m.ColKeys())

	v, err := m.Lookup("ADA", "g2")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	v, err = m.Lookup("AWC", "g2")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	_, err = ReadHeatmapCSV(strings.NewReader("gene_id,A\ng1,abc\n"))
	assert.Error(t, err)
}

func TestOpen_CSVHeatmap(t *testing.T) {
	ds := fixture()
	dir := t.TempDir()
	paths, err := WriteDataset(dir, ds)
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "heatmap.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("gene_id,ADA,ASE\ng1,-1,-2\ng2,-3,-4\n"), 0o644))
	paths.Heatmap = csvPath

	b, err := Open(context.Background(), paths)
	require.NoError(t, err)
	v, err := b.Heatmap.Lookup("ASE", "g2")
	require.NoError(t, err)
	assert.Equal(t, -4.0, v)
}
