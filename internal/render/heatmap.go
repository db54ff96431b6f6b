// Package render rasterises heatmap slices into PNG images using fogleman/gg.
package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/wormcells-viz/server/pkg/colormap"
)

// MaxImageSide caps the width and height of a rendered image in pixels.
const MaxImageSide = 4096

// Config contains renderer configuration.
type Config struct {
	CellSize        int
	DefaultColormap string
}

// HeatmapRenderer draws one square per (row, column) value.
type HeatmapRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewHeatmapRenderer creates a new heatmap renderer.
func NewHeatmapRenderer(cfg Config) *HeatmapRenderer {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 16
	}
	if _, ok := colormap.ByName(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &HeatmapRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// DefaultColormap returns the colormap used when a request names none or an
// unknown one.
func (r *HeatmapRenderer) DefaultColormap() string { return r.config.DefaultColormap }

// Render draws values (rows x cols) normalised over their finite min..max.
// NaN cells are drawn in colormap.Missing.
func (r *HeatmapRenderer) Render(values [][]float64, colormapName string) ([]byte, error) {
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, errors.New("nothing to render")
	}
	rows, cols := len(values), len(values[0])

	cmap, ok := colormap.ByName(colormapName)
	if !ok {
		cmap, _ = colormap.ByName(r.config.DefaultColormap)
	}

	cell := r.config.CellSize
	for cell > 1 && (cell*rows > MaxImageSide || cell*cols > MaxImageSide) {
		cell--
	}
	if cell*rows > MaxImageSide || cell*cols > MaxImageSide {
		return nil, errors.New("heatmap too large to render")
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range values {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span := hi - lo

	dc := gg.NewContext(cols*cell, rows*cell)
	dc.SetColor(color.White)
	dc.Clear()

	size := float64(cell)
	for i, row := range values {
		for j, v := range row {
			t := math.NaN()
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				t = 0.5
				if span > 0 {
					t = (v - lo) / span
				}
			}
			dc.SetColor(cmap.At(t))
			dc.DrawRectangle(float64(j)*size, float64(i)*size, size, size)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

func (r *HeatmapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
