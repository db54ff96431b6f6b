package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// pipeline is a parsed codec list: one bytes codec followed by zero or more
// bytes-to-bytes compressors.
type pipeline struct {
	order       binary.ByteOrder
	compressors []string
}

func newPipeline(codecs []CodecMeta) (*pipeline, error) {
	p := &pipeline{order: binary.LittleEndian}
	seenBytes := false
	for _, c := range codecs {
		switch c.Name {
		case "bytes":
			if seenBytes {
				return nil, fmt.Errorf("duplicate bytes codec")
			}
			seenBytes = true
			if endian, ok := c.Configuration["endian"].(string); ok && endian == "big" {
				p.order = binary.BigEndian
			}
		case "zstd", "gzip":
			if !seenBytes {
				return nil, fmt.Errorf("codec %q before bytes codec", c.Name)
			}
			p.compressors = append(p.compressors, c.Name)
		default:
			return nil, fmt.Errorf("unsupported codec: %s", c.Name)
		}
	}
	return p, nil
}

func (p *pipeline) decode(data []byte, zdec *zstd.Decoder) ([]byte, error) {
	var err error
	for i := len(p.compressors) - 1; i >= 0; i-- {
		switch p.compressors[i] {
		case "zstd":
			data, err = zdec.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("zstd decompress failed: %w", err)
			}
		case "gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
			data, err = io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
		}
	}
	return data, nil
}

func (p *pipeline) encode(data []byte, zenc *zstd.Encoder) ([]byte, error) {
	for _, name := range p.compressors {
		switch name {
		case "zstd":
			data = zenc.EncodeAll(data, nil)
		case "gzip":
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(data); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			data = buf.Bytes()
		}
	}
	return data, nil
}
