package store

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormcells-viz/server/internal/data/zarr"
)

func defaultSpec() zarr.ArraySpec {
	return zarr.ArraySpec{DataType: "float64", Codec: "zstd"}
}

func newTestTable(t *testing.T, genes []string, cols map[string][]float64) *Table {
	t.Helper()
	ix, err := NewIndex("gene", genes)
	require.NoError(t, err)
	var (
		names  []string
		values [][]float64
	)
	for _, name := range []string{ColumnProbaNotDE, ColumnLFCMean, ColumnScale1} {
		if v, ok := cols[name]; ok {
			names = append(names, name)
			values = append(values, v)
		}
	}
	tbl, err := NewTable(ix, names, values)
	require.NoError(t, err)
	return tbl
}

func TestTable_RankLimitAndTies(t *testing.T) {
	genes := make([]string, 50)
	p := make([]float64, 50)
	for i := range genes {
		genes[i] = fmt.Sprintf("g%02d", i)
		// Values cycle 0..9 so each value has five tied rows.
		p[i] = float64(i % 10)
	}
	tbl := newTestTable(t, genes, map[string][]float64{ColumnProbaNotDE: p})

	got, err := tbl.Rank(RankProbaNotDE, Ascending, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"g00", "g10", "g20", "g30", "g40"}, got)

	got, err = tbl.Rank(RankProbaNotDE, Descending, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"g09", "g19", "g29", "g39", "g49"}, got)

	got, err = tbl.Rank(RankProbaNotDE, Ascending, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultLimit)

	got, err = tbl.Rank(RankProbaNotDE, Ascending, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestTable_RankNaNLast(t *testing.T) {
	nan := math.NaN()
	tbl := newTestTable(t, []string{"a", "b", "c", "d"}, map[string][]float64{
		ColumnLFCMean: {nan, 2, -1, nan},
	})

	asc, err := tbl.Rank(RankLFCMean, Ascending, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a", "d"}, asc)

	desc, err := tbl.Rank(RankLFCMean, Descending, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d"}, desc)
}

func TestTable_MissingColumn(t *testing.T) {
	tbl := newTestTable(t, []string{"a"}, map[string][]float64{ColumnProbaNotDE: {1}})
	_, err := tbl.Rank(RankScale1, Ascending, 1)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = tbl.Value(ColumnProbaNotDE, "zzz")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestParseRankBy(t *testing.T) {
	cases := map[string]RankBy{
		"":             RankProbaNotDE,
		"p_value":      RankProbaNotDE,
		"proba_not_de": RankProbaNotDE,
		"lfc":          RankLFCMean,
		"LFC_MEAN":     RankLFCMean,
		"expr":         RankScale1,
		"expression":   RankScale1,
		"scale1":       RankScale1,
	}
	for in, want := range cases {
		got, err := ParseRankBy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRankBy("fold")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseOrder(t *testing.T) {
	for _, in := range []string{"", "asc", "Ascending", "true"} {
		o, err := ParseOrder(in)
		require.NoError(t, err)
		assert.Equal(t, Ascending, o, in)
	}
	for _, in := range []string{"desc", "descending", "false"} {
		o, err := ParseOrder(in)
		require.NoError(t, err)
		assert.Equal(t, Descending, o, in)
	}
	_, err := ParseOrder("sideways")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewIndex_Duplicate(t *testing.T) {
	_, err := NewIndex("cell", []string{"a", "b", "a"})
	assert.Error(t, err)

	ix, err := NewIndex("cell", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ix.Head(2))
	assert.Equal(t, []string{"a", "b", "c"}, ix.Head(20))
	pos, err := ix.Position("c")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestLayers_DenseSparseAgree(t *testing.T) {
	values := []float64{
		0, 1.5, 0, 0,
		0, 0, 0, 0,
		2, 0, 0, -3,
	}
	dense, err := NewDenseLayer(3, 4, values)
	require.NoError(t, err)

	// Row 2 is stored out of order.
	sparse, err := NewCSRLayer(3, 4, []float64{1.5, -3, 2}, []int{1, 3, 0}, []int{0, 1, 1, 3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, dense.Row(i), sparse.Row(i))
		for j := 0; j < 4; j++ {
			assert.Equal(t, dense.At(i, j), sparse.At(i, j), "(%d,%d)", i, j)
		}
	}

	_, err = NewCSRLayer(1, 2, []float64{1, 2}, []int{0, 0}, []int{0, 2})
	assert.ErrorContains(t, err, "duplicate")
	_, err = NewCSRLayer(1, 2, []float64{1}, []int{5}, []int{0, 1})
	assert.ErrorContains(t, err, "out of range")
	_, err = NewCSRLayer(2, 2, []float64{1}, []int{0}, []int{0, 1})
	assert.Error(t, err)
}

func TestNewCSRLayer_RejectsBadIndptr(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	indices := []int{0, 1, 2, 3, 0}

	_, err := NewCSRLayer(2, 4, data, indices, []int{0, 10, 5})
	assert.ErrorContains(t, err, "indptr[1]=10")

	_, err = NewCSRLayer(3, 4, data, indices, []int{0, 4, 2, 5})
	assert.ErrorContains(t, err, "indptr[2]=2")

	_, err = NewCSRLayer(2, 4, data, indices, []int{0, -1, 5})
	assert.Error(t, err)

	l, err := NewCSRLayer(2, 4, data, indices, []int{0, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 0, 0, 0}, l.Row(1))
}

func TestMatrix_Transpose(t *testing.T) {
	rows, _ := NewIndex("cell", []string{"a", "b"})
	cols, _ := NewIndex("gene", []string{"x", "y", "z"})
	m, err := NewMatrix(rows, cols, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	tr := m.Transpose()
	r, c := tr.Shape()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	v, err := tr.Lookup("z", "b")
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	row, err := m.Row("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, row)

	empty, _ := NewIndex("gene", nil)
	_, err = NewMatrix(rows, empty, nil)
	assert.Error(t, err)
}
