// Package colormap provides continuous color scales for heatmap rendering.
package colormap

import (
	"image/color"
	"math"
	"sort"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
}

// Missing is the color used for NaN values.
var Missing = color.RGBA{R: 220, G: 220, B: 220, A: 255}

// LinearColormap interpolates linearly between evenly spaced stops.
type LinearColormap struct {
	stops []color.RGBA
}

// New builds a colormap from at least two stops.
func New(stops ...color.RGBA) LinearColormap {
	if len(stops) == 1 {
		stops = append(stops, stops[0])
	}
	return LinearColormap{stops: stops}
}

// At returns the color at position t. NaN maps to Missing.
func (c LinearColormap) At(t float64) color.Color {
	if math.IsNaN(t) {
		return Missing
	}
	if t <= 0 {
		return c.stops[0]
	}
	if t >= 1 {
		return c.stops[len(c.stops)-1]
	}

	pos := t * float64(len(c.stops)-1)
	lower := int(pos)
	upper := lower + 1
	if upper >= len(c.stops) {
		upper = len(c.stops) - 1
	}
	return lerp(c.stops[lower], c.stops[upper], pos-float64(lower))
}

// Reversed returns the colormap with its stops in reverse order.
func (c LinearColormap) Reversed() LinearColormap {
	out := make([]color.RGBA, len(c.stops))
	for i, s := range c.stops {
		out[len(out)-1-i] = s
	}
	return LinearColormap{stops: out}
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(math.Round(float64(a.R) + t*(float64(b.R)-float64(a.R)))),
		G: uint8(math.Round(float64(a.G) + t*(float64(b.G)-float64(a.G)))),
		B: uint8(math.Round(float64(a.B) + t*(float64(b.B)-float64(a.B)))),
		A: 255,
	}
}

// Viridis (matplotlib)
var Viridis = New([]color.RGBA{
	{68, 1, 84, 255},
	{72, 35, 116, 255},
	{64, 67, 135, 255},
	{52, 94, 141, 255},
	{41, 120, 142, 255},
	{32, 144, 140, 255},
	{34, 167, 132, 255},
	{68, 190, 112, 255},
	{121, 209, 81, 255},
	{189, 222, 38, 255},
	{253, 231, 37, 255},
}...)

// Magma (matplotlib)
var Magma = New([]color.RGBA{
	{0, 0, 4, 255},
	{28, 16, 68, 255},
	{79, 18, 123, 255},
	{129, 37, 129, 255},
	{181, 54, 122, 255},
	{229, 80, 100, 255},
	{251, 135, 97, 255},
	{254, 194, 135, 255},
	{252, 253, 191, 255},
}...)

// RdBu is the ColorBrewer diverging red-blue scale, red at 0.
var RdBu = New([]color.RGBA{
	{103, 0, 31, 255},
	{178, 24, 43, 255},
	{214, 96, 77, 255},
	{244, 165, 130, 255},
	{253, 219, 199, 255},
	{247, 247, 247, 255},
	{209, 229, 240, 255},
	{146, 197, 222, 255},
	{67, 147, 195, 255},
	{33, 102, 172, 255},
	{5, 48, 97, 255},
}...)

// Greys runs from white to black.
var Greys = New([]color.RGBA{
	{255, 255, 255, 255},
	{0, 0, 0, 255},
}...)

var registry = map[string]Colormap{
	"viridis": Viridis,
	"magma":   Magma,
	"rdbu":    RdBu,
	"rdbu_r":  RdBu.Reversed(),
	"greys":   Greys,
}

// ByName returns a registered colormap.
func ByName(name string) (Colormap, bool) {
	c, ok := registry[name]
	return c, ok
}

// Names lists the registered colormaps.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
