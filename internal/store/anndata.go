package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wormcells-viz/server/internal/data/zarr"
)

// Encoding types found in group attributes.
const (
	EncodingAnnData   = "anndata"
	EncodingCSR       = "csr_matrix"
	EncodingDataFrame = "dataframe"
)

// AnnDataAttrs are the root group attributes of an input store.
type AnnDataAttrs struct {
	EncodingType string   `json:"encoding-type"`
	ObsNames     []string `json:"obs_names"`
	VarNames     []string `json:"var_names"`
	ObsIndexName string   `json:"obs_index_name,omitempty"`
	VarIndexName string   `json:"var_index_name,omitempty"`
	About        string   `json:"about,omitempty"`
}

// DataFrameAttrs are the attributes of an uns dataframe group.
type DataFrameAttrs struct {
	EncodingType string   `json:"encoding-type"`
	Index        []string `json:"_index"`
	ColumnOrder  []string `json:"column-order"`
}

// CSRAttrs are the attributes of a sparse layer group.
type CSRAttrs struct {
	EncodingType string `json:"encoding-type"`
	Shape        []int  `json:"shape"`
}

// annReader reads AnnData-shaped zarr groups.
type annReader struct {
	z *zarr.Reader
}

func (a *annReader) root(path string) (*AnnDataAttrs, error) {
	node, err := a.z.Node(path)
	if err != nil {
		return nil, err
	}
	if node.NodeType != zarr.NodeGroup {
		return nil, fmt.Errorf("%s: root node is a %s, expected group", path, node.NodeType)
	}
	var attrs AnnDataAttrs
	if err := node.DecodeAttributes(&attrs); err != nil {
		return nil, fmt.Errorf("%s: bad root attributes: %w", path, err)
	}
	if attrs.EncodingType != EncodingAnnData {
		return nil, fmt.Errorf("%s: encoding-type %q, expected %q", path, attrs.EncodingType, EncodingAnnData)
	}
	return &attrs, nil
}

// layer loads a dense array or a CSR group and checks its shape.
func (a *annReader) layer(path string, rows, cols int) (Layer, error) {
	node, err := a.z.Node(path)
	if err != nil {
		return nil, err
	}

	if node.NodeType == zarr.NodeArray {
		values, shape, err := a.z.ReadArray(path)
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 || shape[0] != rows || shape[1] != cols {
			return nil, fmt.Errorf("%s: shape %v, expected [%d %d]", path, shape, rows, cols)
		}
		return NewDenseLayer(rows, cols, values)
	}

	var attrs CSRAttrs
	if err := node.DecodeAttributes(&attrs); err != nil {
		return nil, fmt.Errorf("%s: bad attributes: %w", path, err)
	}
	if attrs.EncodingType != EncodingCSR {
		return nil, fmt.Errorf("%s: unsupported layer encoding %q", path, attrs.EncodingType)
	}
	if len(attrs.Shape) != 2 || attrs.Shape[0] != rows || attrs.Shape[1] != cols {
		return nil, fmt.Errorf("%s: shape %v, expected [%d %d]", path, attrs.Shape, rows, cols)
	}
	data, _, err := a.z.ReadArray(filepath.Join(path, "data"))
	if err != nil {
		return nil, err
	}
	indices, _, err := a.z.ReadInts(filepath.Join(path, "indices"))
	if err != nil {
		return nil, err
	}
	indptr, _, err := a.z.ReadInts(filepath.Join(path, "indptr"))
	if err != nil {
		return nil, err
	}
	l, err := NewCSRLayer(rows, cols, data, indices, indptr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// dataFrame loads an uns dataframe as (index, column names, columns).
func (a *annReader) dataFrame(path string) ([]string, []string, [][]float64, error) {
	node, err := a.z.Node(path)
	if err != nil {
		return nil, nil, nil, err
	}
	var attrs DataFrameAttrs
	if err := node.DecodeAttributes(&attrs); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: bad attributes: %w", path, err)
	}
	if attrs.EncodingType != EncodingDataFrame {
		return nil, nil, nil, fmt.Errorf("%s: encoding-type %q, expected %q", path, attrs.EncodingType, EncodingDataFrame)
	}

	columns := make([][]float64, len(attrs.ColumnOrder))
	for c, name := range attrs.ColumnOrder {
		values, shape, err := a.z.ReadArray(filepath.Join(path, name))
		if err != nil {
			return nil, nil, nil, err
		}
		if len(shape) != 1 || shape[0] != len(attrs.Index) {
			return nil, nil, nil, fmt.Errorf("%s/%s: shape %v, expected [%d]", path, name, shape, len(attrs.Index))
		}
		columns[c] = values
	}
	return attrs.Index, attrs.ColumnOrder, columns, nil
}

// children lists the child node names of a group directory in sorted order.
// Every child directory must be a zarr node; hidden entries are ignored.
func children(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("missing group %s", path)
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(path, e.Name(), "zarr.json")); err != nil {
			return nil, fmt.Errorf("%s: child %q is not a zarr node: %w", path, e.Name(), err)
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteAnnDataRoot writes the root group of an input store.
func WriteAnnDataRoot(path string, attrs AnnDataAttrs) error {
	attrs.EncodingType = EncodingAnnData
	return zarr.WriteGroup(path, attrs)
}

// WriteDenseLayer writes a 2-D obs x var array.
func WriteDenseLayer(path string, rows, cols int, values []float64, spec zarr.ArraySpec) error {
	spec.Shape = []int{rows, cols}
	return zarr.WriteArray(path, spec, values)
}

// WriteCSRLayer writes a sparse layer group. spec applies to the data array;
// indices and indptr are written as int64.
func WriteCSRLayer(path string, rows, cols int, data []float64, indices, indptr []int, spec zarr.ArraySpec) error {
	if err := zarr.WriteGroup(path, CSRAttrs{EncodingType: EncodingCSR, Shape: []int{rows, cols}}); err != nil {
		return err
	}
	dataSpec := spec
	dataSpec.Shape = []int{len(data)}
	dataSpec.ChunkShape = nil
	if err := zarr.WriteArray(filepath.Join(path, "data"), dataSpec, data); err != nil {
		return err
	}
	intSpec := zarr.ArraySpec{DataType: "int64", Codec: spec.Codec}
	intSpec.Shape = []int{len(indices)}
	if err := zarr.WriteArray(filepath.Join(path, "indices"), intSpec, toFloats(indices)); err != nil {
		return err
	}
	intSpec.Shape = []int{len(indptr)}
	return zarr.WriteArray(filepath.Join(path, "indptr"), intSpec, toFloats(indptr))
}

// WriteDataFrame writes an uns dataframe group with one float array per column.
func WriteDataFrame(path string, index, columns []string, values [][]float64, spec zarr.ArraySpec) error {
	if len(columns) != len(values) {
		return fmt.Errorf("dataframe has %d column names but %d columns", len(columns), len(values))
	}
	attrs := DataFrameAttrs{EncodingType: EncodingDataFrame, Index: index, ColumnOrder: columns}
	if err := zarr.WriteGroup(path, attrs); err != nil {
		return err
	}
	for c, name := range columns {
		colSpec := spec
		colSpec.Shape = []int{len(index)}
		colSpec.ChunkShape = nil
		if err := zarr.WriteArray(filepath.Join(path, name), colSpec, values[c]); err != nil {
			return err
		}
	}
	return nil
}

func toFloats(ints []int) []float64 {
	out := make([]float64, len(ints))
	for i, v := range ints {
		out[i] = float64(v)
	}
	return out
}
