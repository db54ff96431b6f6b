package service

import (
	"bytes"
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
)

// OrderedMap is a string-keyed map that remembers insertion order and encodes
// to a JSON object with keys in that order.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrderedMap returns an empty map with room for n keys.
func NewOrderedMap[V any](n int) *OrderedMap[V] {
	return &OrderedMap[V]{
		keys:   make([]string, 0, n),
		values: make(map[string]V, n),
	}
}

// Set stores v under k. A key that is already present keeps its position.
func (m *OrderedMap[V]) Set(k string, v V) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Get returns the value stored under k.
func (m *OrderedMap[V]) Get(k string) (V, bool) {
	v, ok := m.values[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string { return append([]string(nil), m.keys...) }

// Len returns the number of keys.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// MarshalJSON implements json.Marshaler.
func (m *OrderedMap[V]) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Value is a float64 that encodes NaN and infinities as null.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func values(fs []float64) []Value {
	out := make([]Value, len(fs))
	for i, f := range fs {
		out[i] = Value(f)
	}
	return out
}

// HeatmapResult maps gene -> cell -> value. Genes keep request order and
// cells are in reverse lexicographic order.
type HeatmapResult struct {
	Genes  []string
	Cells  []string
	Values *OrderedMap[*OrderedMap[Value]]
}

// MarshalJSON implements json.Marshaler.
func (r *HeatmapResult) MarshalJSON() ([]byte, error) {
	return r.Values.MarshalJSON()
}

// Grid returns the values as a genes x cells matrix.
func (r *HeatmapResult) Grid() [][]float64 {
	out := make([][]float64, len(r.Genes))
	for i, g := range r.Genes {
		row, _ := r.Values.Get(g)
		out[i] = make([]float64, len(r.Cells))
		for j, c := range r.Cells {
			v, _ := row.Get(c)
			out[i][j] = float64(v)
		}
	}
	return out
}

// HistogramResult maps cell -> bin counts for one gene.
type HistogramResult struct {
	Gene   string
	Counts *OrderedMap[[]Value]
}

// MarshalJSON implements json.Marshaler.
func (r *HistogramResult) MarshalJSON() ([]byte, error) {
	return r.Counts.MarshalJSON()
}

// Totals returns the summed counts per cell group, in Counts order.
func (r *HistogramResult) Totals() *OrderedMap[Value] {
	out := NewOrderedMap[Value](r.Counts.Len())
	for _, cell := range r.Counts.Keys() {
		counts, _ := r.Counts.Get(cell)
		fs := make([]float64, len(counts))
		for i, v := range counts {
			fs[i] = float64(v)
		}
		out.Set(cell, Value(floats.Sum(fs)))
	}
	return out
}

// SwarmPoint is one comparison cell group of a swarm gene. It encodes as
// [cell, comparison, magnitude].
type SwarmPoint struct {
	Cell       string
	Comparison Value
	Magnitude  Value
}

// MarshalJSON implements json.Marshaler.
func (p SwarmPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Cell, p.Comparison, p.Magnitude})
}

// SwarmGene is the reference value of a gene in the requested cell group and
// its qualifying comparison points. It encodes as [reference, [points...]].
type SwarmGene struct {
	Reference Value
	Points    []SwarmPoint
}

// MarshalJSON implements json.Marshaler.
func (g SwarmGene) MarshalJSON() ([]byte, error) {
	points := g.Points
	if points == nil {
		points = []SwarmPoint{}
	}
	return json.Marshal([]interface{}{g.Reference, points})
}

// SwarmResult maps gene -> SwarmGene for one resolved cell group. Genes are in
// ranking order.
type SwarmResult struct {
	Cell  string
	Genes *OrderedMap[SwarmGene]
}

// MarshalJSON implements json.Marshaler.
func (r *SwarmResult) MarshalJSON() ([]byte, error) {
	return r.Genes.MarshalJSON()
}
