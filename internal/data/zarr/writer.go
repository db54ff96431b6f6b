package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ArraySpec describes an array to be written by WriteArray.
type ArraySpec struct {
	Shape      []int
	ChunkShape []int
	DataType   string
	// Codec is "zstd", "gzip" or "" for uncompressed chunks.
	Codec string
	// BigEndian selects big-endian element encoding.
	BigEndian bool
	// FillValue is the value of chunks that are not stored. NaN is allowed.
	FillValue float64
	// KeyEncoding is "default" (c/i/j) or "v2" (i.j).
	KeyEncoding string
	Attributes  interface{}
}

// WriteGroup writes a group node with the given attributes at path.
func WriteGroup(path string, attrs interface{}) error {
	node := map[string]interface{}{
		"zarr_format": 3,
		"node_type":   NodeGroup,
	}
	if attrs != nil {
		node["attributes"] = attrs
	}
	return writeJSON(filepath.Join(path, metadataFile), node)
}

// WriteArray writes values (row-major) as a chunked array at path. Chunks whose
// elements all equal the fill value are not written.
func WriteArray(path string, spec ArraySpec, values []float64) error {
	if len(spec.ChunkShape) == 0 {
		spec.ChunkShape = append([]int(nil), spec.Shape...)
		for d, v := range spec.ChunkShape {
			if v == 0 {
				spec.ChunkShape[d] = 1
			}
		}
	}
	if spec.KeyEncoding == "" {
		spec.KeyEncoding = "default"
	}
	if len(values) != product(spec.Shape) {
		return fmt.Errorf("write %s: got %d values for shape %v", path, len(values), spec.Shape)
	}

	meta := ArrayMeta{
		ZarrFormat: 3,
		NodeType:   NodeArray,
		Shape:      spec.Shape,
		DataType:   spec.DataType,
	}
	meta.ChunkGrid.Name = "regular"
	meta.ChunkGrid.Configuration.ChunkShape = spec.ChunkShape
	meta.ChunkKeyEncoding.Name = spec.KeyEncoding
	if spec.KeyEncoding == "v2" {
		meta.ChunkKeyEncoding.Configuration.Separator = "."
	} else {
		meta.ChunkKeyEncoding.Configuration.Separator = "/"
	}

	endian := "little"
	if spec.BigEndian {
		endian = "big"
	}
	meta.Codecs = []CodecMeta{{Name: "bytes", Configuration: map[string]interface{}{"endian": endian}}}
	switch spec.Codec {
	case "":
	case "zstd":
		meta.Codecs = append(meta.Codecs, CodecMeta{Name: "zstd", Configuration: map[string]interface{}{"level": 3, "checksum": false}})
	case "gzip":
		meta.Codecs = append(meta.Codecs, CodecMeta{Name: "gzip", Configuration: map[string]interface{}{"level": 5}})
	default:
		return fmt.Errorf("unsupported codec: %s", spec.Codec)
	}

	switch {
	case math.IsNaN(spec.FillValue):
		meta.FillValue = "NaN"
	case math.IsInf(spec.FillValue, 1):
		meta.FillValue = "Infinity"
	case math.IsInf(spec.FillValue, -1):
		meta.FillValue = "-Infinity"
	default:
		meta.FillValue = spec.FillValue
	}
	if spec.Attributes != nil {
		raw, err := json.Marshal(spec.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}
		meta.Attributes = raw
	}

	if err := meta.validate(); err != nil {
		return fmt.Errorf("invalid array spec for %s: %w", path, err)
	}
	if err := writeJSON(filepath.Join(path, metadataFile), meta); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	pipe, err := newPipeline(meta.Codecs)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	grid := make([]int, len(spec.Shape))
	for d := range spec.Shape {
		grid[d] = ceilDiv(spec.Shape[d], spec.ChunkShape[d])
	}
	outStrides := strides(spec.Shape)
	inStrides := strides(spec.ChunkShape)

	chunkIdx := make([]int, len(spec.Shape))
	for {
		actual, err := chunkShapeAt(&meta, chunkIdx)
		if err != nil {
			return err
		}

		// Edge chunks are padded with the fill value to the full chunk shape.
		buf := make([]float64, product(spec.ChunkShape))
		for i := range buf {
			buf[i] = spec.FillValue
		}
		allFill := true
		local := make([]int, len(spec.Shape))
		for {
			outOff, inOff := 0, 0
			for d := range local {
				outOff += (chunkIdx[d]*spec.ChunkShape[d] + local[d]) * outStrides[d]
				inOff += local[d] * inStrides[d]
			}
			v := values[outOff]
			buf[inOff] = v
			if !sameValue(v, spec.FillValue) {
				allFill = false
			}
			if !nextIndex(local, actual) {
				break
			}
		}

		if !allFill {
			raw, err := encodeValues(spec.DataType, pipe.order, buf)
			if err != nil {
				return err
			}
			raw, err = pipe.encode(raw, enc)
			if err != nil {
				return fmt.Errorf("failed to encode chunk: %w", err)
			}
			chunkPath := filepath.Join(path, filepath.FromSlash(encodeChunkKey(&meta, chunkIdx)))
			if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(chunkPath, raw, 0o644); err != nil {
				return fmt.Errorf("failed to write chunk %s: %w", chunkPath, err)
			}
		}

		if !nextIndex(chunkIdx, grid) {
			break
		}
	}
	return nil
}

func sameValue(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
