package zarr

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader()
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestWriteReadArray_MultiChunk(t *testing.T) {
	for _, codec := range []string{"", "zstd", "gzip"} {
		t.Run("codec="+codec, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "X")
			values := seq(5 * 7)
			require.NoError(t, WriteArray(dir, ArraySpec{
				Shape:      []int{5, 7},
				ChunkShape: []int{2, 3},
				DataType:   "float32",
				Codec:      codec,
			}, values))

			r := newTestReader(t)
			got, shape, err := r.ReadArray(dir)
			require.NoError(t, err)
			assert.Equal(t, []int{5, 7}, shape)
			assert.Equal(t, values, got)
		})
	}
}

func TestWriteReadArray_DataTypes(t *testing.T) {
	cases := []struct {
		dtype  string
		values []float64
	}{
		{"bool", []float64{0, 1, 1, 0}},
		{"int8", []float64{-3, 0, 7, 127}},
		{"uint8", []float64{0, 1, 200, 255}},
		{"int16", []float64{-300, 0, 12, 32000}},
		{"uint16", []float64{0, 1, 65535, 3}},
		{"float16", []float64{0.5, -2, 1024, 0.25}},
		{"int32", []float64{-70000, 0, 1, 70000}},
		{"uint32", []float64{0, 4000000000, 3, 9}},
		{"float32", []float64{1.5, -2.25, 0, 3}},
		{"int64", []float64{-1 << 40, 0, 1, 1 << 40}},
		{"uint64", []float64{0, 1 << 50, 3, 9}},
		{"float64", []float64{math.Pi, -math.E, 0, 1e-300}},
	}
	for _, tc := range cases {
		t.Run(tc.dtype, func(t *testing.T) {
			for _, big := range []bool{false, true} {
				dir := filepath.Join(t.TempDir(), tc.dtype)
				require.NoError(t, WriteArray(dir, ArraySpec{
					Shape:     []int{4},
					DataType:  tc.dtype,
					Codec:     "zstd",
					BigEndian: big,
				}, tc.values))

				got, _, err := newTestReader(t).ReadArray(dir)
				require.NoError(t, err)
				assert.Equal(t, tc.values, got, "big endian=%v", big)
			}
		})
	}
}

func TestReadArray_MissingChunkUsesFillValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "layer")
	values := []float64{
		1, 2, 0, 0,
		3, 4, 0, 0,
	}
	require.NoError(t, WriteArray(dir, ArraySpec{
		Shape:      []int{2, 4},
		ChunkShape: []int{2, 2},
		DataType:   "int16",
	}, values))

	_, err := os.Stat(filepath.Join(dir, "c", "0", "1"))
	assert.True(t, os.IsNotExist(err), "all-fill chunk should not be written")

	got, _, err := newTestReader(t).ReadArray(dir)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestReadArray_NaNFill(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "col")
	nan := math.NaN()
	require.NoError(t, WriteArray(dir, ArraySpec{
		Shape:      []int{4},
		ChunkShape: []int{2},
		DataType:   "float64",
		FillValue:  nan,
	}, []float64{nan, nan, 1, nan}))

	got, _, err := newTestReader(t).ReadArray(dir)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 1.0, got[2])
	assert.True(t, math.IsNaN(got[3]))
}

func TestReadArray_V2KeyEncoding(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "v2")
	values := seq(12)
	require.NoError(t, WriteArray(dir, ArraySpec{
		Shape:       []int{3, 4},
		ChunkShape:  []int{2, 2},
		DataType:    "int32",
		KeyEncoding: "v2",
	}, values))

	_, err := os.Stat(filepath.Join(dir, "1.1"))
	require.NoError(t, err)

	got, _, err := newTestReader(t).ReadArray(dir)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestReadArray_TruncatedEdgeChunk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "edge")
	require.NoError(t, WriteArray(dir, ArraySpec{
		Shape:      []int{3},
		ChunkShape: []int{2},
		DataType:   "uint8",
	}, []float64{1, 2, 3}))

	// Rewrite the edge chunk at its truncated size.
	raw, err := encodeValues("uint8", nil, []float64{9})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c", "1"), raw, 0o644))

	got, _, err := newTestReader(t).ReadArray(dir)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 9}, got)
}

func TestReadInts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "indptr")
	require.NoError(t, WriteArray(dir, ArraySpec{Shape: []int{4}, DataType: "int64"}, []float64{0, 2, 2, 5}))

	got, shape, err := newTestReader(t).ReadInts(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, shape)
	assert.Equal(t, []int{0, 2, 2, 5}, got)
}

func TestNode_GroupAttributes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteGroup(dir, map[string]interface{}{
		"encoding-type": "anndata",
		"obs_names":     []string{"a", "b"},
	}))

	n, err := newTestReader(t).Node(dir)
	require.NoError(t, err)
	assert.Equal(t, NodeGroup, n.NodeType)

	var attrs struct {
		EncodingType string   `json:"encoding-type"`
		ObsNames     []string `json:"obs_names"`
	}
	require.NoError(t, n.DecodeAttributes(&attrs))
	assert.Equal(t, "anndata", attrs.EncodingType)
	assert.Equal(t, []string{"a", "b"}, attrs.ObsNames)
}

func TestReader_Errors(t *testing.T) {
	r := newTestReader(t)
	dir := t.TempDir()

	_, err := r.Node(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, WriteGroup(filepath.Join(dir, "grp"), nil))
	_, _, err = r.ReadArray(filepath.Join(dir, "grp"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, metadataFile), []byte(`{
		"zarr_format": 3, "node_type": "array", "shape": [2], "data_type": "complex64",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}},
		"chunk_key_encoding": {"name": "default"}, "fill_value": 0,
		"codecs": [{"name": "bytes"}]}`), 0o644))
	_, _, err = r.ReadArray(bad)
	assert.Error(t, err)

	require.Error(t, WriteArray(filepath.Join(dir, "short"), ArraySpec{Shape: []int{3}, DataType: "int8"}, []float64{1}))
}
