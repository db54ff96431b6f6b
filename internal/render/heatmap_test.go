package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormcells-viz/server/pkg/colormap"
)

func TestRender_SizeAndColors(t *testing.T) {
	r := NewHeatmapRenderer(Config{CellSize: 4, DefaultColormap: "greys"})

	data, err := r.Render([][]float64{
		{0, 1, math.NaN()},
		{0.5, 1, 0},
	}, "unknown")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	rgba := func(x, y int) color.RGBA {
		return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
	}
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, rgba(1, 1))
	assert.Equal(t, color.RGBA{A: 255}, rgba(5, 1))
	assert.Equal(t, colormap.Missing, rgba(9, 1))
}

func TestRender_Errors(t *testing.T) {
	r := NewHeatmapRenderer(Config{})
	assert.Equal(t, "viridis", r.DefaultColormap())

	_, err := r.Render(nil, "viridis")
	assert.Error(t, err)

	wide := [][]float64{make([]float64, MaxImageSide+1)}
	_, err = r.Render(wide, "viridis")
	assert.Error(t, err)
}
