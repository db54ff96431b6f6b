package store

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// LayerKind identifies the storage variant of a layer.
type LayerKind string

const (
	KindDense LayerKind = "dense"
	KindCSR   LayerKind = "csr"
)

// Layer is one matrix-valued slice of a tensor, addressed by position. Dense
// and sparse layers answer identically.
type Layer interface {
	Kind() LayerKind
	Dims() (rows, cols int)
	At(i, j int) float64
	Row(i int) []float64
}

type denseLayer struct {
	m *mat.Dense
}

// NewDenseLayer wraps row-major values as a layer.
func NewDenseLayer(rows, cols int, values []float64) (Layer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("dense layer must be non-empty, got %d x %d", rows, cols)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("dense layer has %d values, expected %d x %d", len(values), rows, cols)
	}
	return &denseLayer{m: mat.NewDense(rows, cols, values)}, nil
}

func (l *denseLayer) Kind() LayerKind     { return KindDense }
func (l *denseLayer) Dims() (int, int)    { return l.m.Dims() }
func (l *denseLayer) At(i, j int) float64 { return l.m.At(i, j) }
func (l *denseLayer) Row(i int) []float64 { return mat.Row(nil, i, l.m) }

// sparseLayer is a CSR matrix with column indices sorted within each row.
type sparseLayer struct {
	rows, cols int
	data       []float64
	indices    []int
	indptr     []int
}

// NewCSRLayer builds a layer from CSR components. Rows whose column indices are
// unsorted are sorted; duplicate column indices within a row are rejected.
func NewCSRLayer(rows, cols int, data []float64, indices, indptr []int) (Layer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("csr layer must be non-empty, got %d x %d", rows, cols)
	}
	if len(indptr) != rows+1 {
		return nil, fmt.Errorf("csr indptr has %d entries, expected %d", len(indptr), rows+1)
	}
	if len(data) != len(indices) {
		return nil, fmt.Errorf("csr data/indices length mismatch: %d vs %d", len(data), len(indices))
	}
	if indptr[0] != 0 || indptr[rows] != len(data) {
		return nil, fmt.Errorf("csr indptr must span [0, %d], got [%d, %d]", len(data), indptr[0], indptr[rows])
	}
	for i := 1; i <= rows; i++ {
		if indptr[i] < indptr[i-1] || indptr[i] > len(data) {
			return nil, fmt.Errorf("csr indptr[%d]=%d is outside [%d, %d]", i, indptr[i], indptr[i-1], len(data))
		}
	}

	l := &sparseLayer{
		rows:    rows,
		cols:    cols,
		data:    append([]float64(nil), data...),
		indices: append([]int(nil), indices...),
		indptr:  append([]int(nil), indptr...),
	}
	for i := 0; i < rows; i++ {
		lo, hi := l.indptr[i], l.indptr[i+1]
		for _, j := range l.indices[lo:hi] {
			if j < 0 || j >= cols {
				return nil, fmt.Errorf("csr column index %d out of range at row %d", j, i)
			}
		}
		row := csrRow{indices: l.indices[lo:hi], data: l.data[lo:hi]}
		if !sort.IsSorted(row) {
			sort.Stable(row)
		}
		for k := 1; k < len(row.indices); k++ {
			if row.indices[k] == row.indices[k-1] {
				return nil, fmt.Errorf("csr duplicate column index %d at row %d", row.indices[k], i)
			}
		}
	}
	return l, nil
}

func (l *sparseLayer) Kind() LayerKind  { return KindCSR }
func (l *sparseLayer) Dims() (int, int) { return l.rows, l.cols }

func (l *sparseLayer) At(i, j int) float64 {
	if i < 0 || i >= l.rows || j < 0 || j >= l.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	lo, hi := l.indptr[i], l.indptr[i+1]
	k := lo + sort.SearchInts(l.indices[lo:hi], j)
	if k < hi && l.indices[k] == j {
		return l.data[k]
	}
	return 0
}

func (l *sparseLayer) Row(i int) []float64 {
	if i < 0 || i >= l.rows {
		panic(mat.ErrRowAccess)
	}
	out := make([]float64, l.cols)
	for k := l.indptr[i]; k < l.indptr[i+1]; k++ {
		out[l.indices[k]] = l.data[k]
	}
	return out
}

// csrRow sorts one row's indices and data together.
type csrRow struct {
	indices []int
	data    []float64
}

func (r csrRow) Len() int           { return len(r.indices) }
func (r csrRow) Less(a, b int) bool { return r.indices[a] < r.indices[b] }
func (r csrRow) Swap(a, b int) {
	r.indices[a], r.indices[b] = r.indices[b], r.indices[a]
	r.data[a], r.data[b] = r.data[b], r.data[a]
}
