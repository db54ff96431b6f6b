package store

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a 2-D array with labeled rows and columns.
type Matrix struct {
	rows *Index
	cols *Index
	data *mat.Dense
}

// NewMatrix builds a matrix from row-major values. Both axes must be non-empty.
func NewMatrix(rows, cols *Index, values []float64) (*Matrix, error) {
	r, c := rows.Len(), cols.Len()
	if r == 0 || c == 0 {
		return nil, fmt.Errorf("matrix axes must be non-empty, got %d x %d", r, c)
	}
	if len(values) != r*c {
		return nil, fmt.Errorf("matrix has %d values, expected %d x %d", len(values), r, c)
	}
	return &Matrix{
		rows: rows,
		cols: cols,
		data: mat.NewDense(r, c, append([]float64(nil), values...)),
	}, nil
}

// Lookup returns the value at (row, col).
func (m *Matrix) Lookup(row, col string) (float64, error) {
	i, err := m.rows.Position(row)
	if err != nil {
		return 0, err
	}
	j, err := m.cols.Position(col)
	if err != nil {
		return 0, err
	}
	return m.data.At(i, j), nil
}

// Row returns a copy of the full row labeled row.
func (m *Matrix) Row(row string) ([]float64, error) {
	i, err := m.rows.Position(row)
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, i, m.data), nil
}

// RowKeys returns the row labels in load order.
func (m *Matrix) RowKeys() []string { return m.rows.Labels() }

// ColKeys returns the column labels in load order.
func (m *Matrix) ColKeys() []string { return m.cols.Labels() }

// Rows returns the row index.
func (m *Matrix) Rows() *Index { return m.rows }

// Cols returns the column index.
func (m *Matrix) Cols() *Index { return m.cols }

// Shape returns (rows, cols).
func (m *Matrix) Shape() (int, int) { return m.data.Dims() }

// Transpose returns a new matrix with rows and columns swapped.
func (m *Matrix) Transpose() *Matrix {
	return &Matrix{
		rows: m.cols,
		cols: m.rows,
		data: mat.DenseCopyOf(m.data.T()),
	}
}
