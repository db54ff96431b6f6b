// Package zarr provides a reader and writer for the subset of Zarr v3 used by the
// precomputed expression stores: groups with JSON attributes and numeric N-D arrays
// compressed with zstd or gzip.
package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Node types found in zarr.json.
const (
	NodeArray = "array"
	NodeGroup = "group"
)

const metadataFile = "zarr.json"

// Node is the common part of a zarr.json document.
type Node struct {
	ZarrFormat int             `json:"zarr_format"`
	NodeType   string          `json:"node_type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// DecodeAttributes unmarshals the node's attributes into v.
func (n *Node) DecodeAttributes(v interface{}) error {
	if len(n.Attributes) == 0 {
		return nil
	}
	return json.Unmarshal(n.Attributes, v)
}

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	ZarrFormat       int              `json:"zarr_format"`
	NodeType         string           `json:"node_type"`
	Shape            []int            `json:"shape"`
	DataType         string           `json:"data_type"`
	ChunkGrid        ChunkGrid        `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding `json:"chunk_key_encoding"`
	FillValue        interface{}      `json:"fill_value"`
	Codecs           []CodecMeta      `json:"codecs"`
	Attributes       json.RawMessage  `json:"attributes,omitempty"`
}

// ChunkGrid describes a regular chunk grid.
type ChunkGrid struct {
	Name          string `json:"name"`
	Configuration struct {
		ChunkShape []int `json:"chunk_shape"`
	} `json:"configuration"`
}

// ChunkKeyEncoding describes how chunk coordinates map to storage keys.
type ChunkKeyEncoding struct {
	Name          string `json:"name"`
	Configuration struct {
		Separator string `json:"separator,omitempty"`
	} `json:"configuration"`
}

// CodecMeta is one entry of the codec pipeline.
type CodecMeta struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// ErrNotFound is returned when a node has no zarr.json.
var ErrNotFound = errors.New("zarr node not found")

// Reader reads Zarr v3 nodes from the local filesystem. A Reader is safe for
// concurrent use.
type Reader struct {
	decoder *zstd.Decoder
}

// NewReader creates a new Zarr reader.
func NewReader() (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder}, nil
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}

// Node reads the zarr.json of the node at path.
func (r *Reader) Node(path string) (*Node, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(path, metadataFile), err)
	}
	if n.ZarrFormat != 3 {
		return nil, fmt.Errorf("unsupported zarr_format %d at %s", n.ZarrFormat, path)
	}
	return &n, nil
}

// ArrayMeta loads and validates the array metadata at path.
func (r *Reader) ArrayMeta(path string) (*ArrayMeta, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(path, metadataFile), err)
	}
	if meta.NodeType != NodeArray {
		return nil, fmt.Errorf("node at %s is a %q, not an array", path, meta.NodeType)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("invalid zarr metadata at %s: %w", path, err)
	}
	return &meta, nil
}

func (m *ArrayMeta) validate() error {
	chunkShape := m.ChunkGrid.Configuration.ChunkShape
	if len(m.Shape) == 0 || len(chunkShape) == 0 {
		return fmt.Errorf("missing shape/chunk_shape")
	}
	if len(m.Shape) != len(chunkShape) {
		return fmt.Errorf("shape dims (%d) != chunk dims (%d)", len(m.Shape), len(chunkShape))
	}
	for d, c := range chunkShape {
		if c <= 0 {
			return fmt.Errorf("invalid chunk shape at dim %d: %d", d, c)
		}
		if m.Shape[d] < 0 {
			return fmt.Errorf("invalid shape at dim %d: %d", d, m.Shape[d])
		}
	}
	if _, err := dtypeSize(m.DataType); err != nil {
		return err
	}
	if _, err := newPipeline(m.Codecs); err != nil {
		return err
	}
	return nil
}

// ReadArray reads a whole array as float64 values in row-major (C) order.
func (r *Reader) ReadArray(path string) ([]float64, []int, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, nil, err
	}
	values, err := r.readAll(path, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, meta.Shape, nil
}

// ReadInts reads a whole integer array (e.g. CSR indices) as ints.
func (r *Reader) ReadInts(path string) ([]int, []int, error) {
	values, shape, err := r.ReadArray(path)
	if err != nil {
		return nil, nil, err
	}
	out := make([]int, len(values))
	for i, v := range values {
		if v != float64(int(v)) {
			return nil, nil, fmt.Errorf("non-integer value %v at %s[%d]", v, path, i)
		}
		out[i] = int(v)
	}
	return out, shape, nil
}

func (r *Reader) readAll(arrayPath string, meta *ArrayMeta) ([]float64, error) {
	pipe, err := newPipeline(meta.Codecs)
	if err != nil {
		return nil, err
	}
	fill, err := fillValue(meta)
	if err != nil {
		return nil, err
	}

	shape := meta.Shape
	chunkShape := meta.ChunkGrid.Configuration.ChunkShape
	total := product(shape)
	out := make([]float64, total)
	if total == 0 {
		return out, nil
	}

	grid := make([]int, len(shape))
	for d := range shape {
		grid[d] = ceilDiv(shape[d], chunkShape[d])
	}

	chunk := make([]int, len(shape))
	for {
		if err := r.copyChunk(arrayPath, meta, pipe, fill, chunk, out); err != nil {
			return nil, err
		}
		if !nextIndex(chunk, grid) {
			break
		}
	}
	return out, nil
}

// copyChunk decodes one chunk and scatters it into the row-major output.
func (r *Reader) copyChunk(arrayPath string, meta *ArrayMeta, pipe *pipeline, fill float64, chunkIdx []int, out []float64) error {
	shape := meta.Shape
	chunkShape := meta.ChunkGrid.Configuration.ChunkShape

	actual, err := chunkShapeAt(meta, chunkIdx)
	if err != nil {
		return err
	}

	raw, err := r.readChunkAt(arrayPath, meta, chunkIdx)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load chunk %s: %w", encodeChunkKey(meta, chunkIdx), err)
	}

	var values []float64
	if raw != nil {
		decoded, err := pipe.decode(raw, r.decoder)
		if err != nil {
			return fmt.Errorf("failed to decode chunk %s: %w", encodeChunkKey(meta, chunkIdx), err)
		}
		values, err = decodeValues(meta.DataType, pipe.order, decoded)
		if err != nil {
			return err
		}
	}

	// Chunks are normally stored at the full chunk shape (edge chunks padded), but
	// some writers truncate edge chunks to the array bounds. Accept both layouts.
	layout := chunkShape
	switch {
	case values == nil:
	case len(values) == product(chunkShape):
	case len(values) == product(actual):
		layout = actual
	default:
		return fmt.Errorf("chunk %s has %d elements, expected %d or %d",
			encodeChunkKey(meta, chunkIdx), len(values), product(chunkShape), product(actual))
	}

	outStrides := strides(shape)
	inStrides := strides(layout)
	local := make([]int, len(shape))
	for {
		outOff, inOff := 0, 0
		for d := range local {
			outOff += (chunkIdx[d]*chunkShape[d] + local[d]) * outStrides[d]
			inOff += local[d] * inStrides[d]
		}
		if values == nil {
			out[outOff] = fill
		} else {
			out[outOff] = values[inOff]
		}
		if !nextIndex(local, actual) {
			break
		}
	}
	return nil
}

// readChunk reads a raw (still encoded) chunk.
func (r *Reader) readChunk(arrayPath string, chunkKey string) ([]byte, error) {
	return os.ReadFile(filepath.Join(arrayPath, filepath.FromSlash(chunkKey)))
}

func (r *Reader) readChunkAt(arrayPath string, meta *ArrayMeta, chunkIndices []int) ([]byte, error) {
	key := encodeChunkKey(meta, chunkIndices)
	data, err := r.readChunk(arrayPath, key)
	if err == nil {
		return data, nil
	}

	// Some writers drop trailing singleton chunk dims
	// (e.g. store [N,1] chunks as c/<rowChunk> instead of c/<rowChunk>/0).
	if os.IsNotExist(err) && len(chunkIndices) > 1 && meta.ChunkKeyEncoding.Name != "v2" {
		trailingAllZero := true
		for _, v := range chunkIndices[1:] {
			if v != 0 {
				trailingAllZero = false
				break
			}
		}
		if trailingAllZero {
			altData, altErr := r.readChunk(arrayPath, "c/"+strconv.Itoa(chunkIndices[0]))
			if altErr == nil {
				return altData, nil
			}
		}
	}

	// A chunk that is not present on disk represents an all-fill-value chunk.
	return nil, err
}

func encodeChunkKey(meta *ArrayMeta, chunkIndices []int) string {
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}
	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if meta.ChunkKeyEncoding.Name == "v2" {
		if sep == "" {
			sep = "."
		}
		return strings.Join(parts, sep)
	}
	if sep == "" {
		sep = "/"
	}
	return "c" + sep + strings.Join(parts, sep)
}

func chunkShapeAt(meta *ArrayMeta, chunkIndices []int) ([]int, error) {
	if len(chunkIndices) != len(meta.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(chunkIndices), len(meta.Shape))
	}

	actual := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		chunkLen := meta.ChunkGrid.Configuration.ChunkShape[d]
		start := chunkIndices[d] * chunkLen
		if start < 0 || start >= meta.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, meta.Shape[d])
		}
		remaining := meta.Shape[d] - start
		if remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}

	return actual, nil
}

// nextIndex advances a row-major multi-index within bounds; false on wrap-around.
func nextIndex(idx, bounds []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < bounds[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = acc
		acc *= shape[d]
	}
	return s
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
