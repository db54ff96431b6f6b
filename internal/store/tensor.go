package store

import "fmt"

// Tensor is a set of named layers sharing obs (rows) and var (columns) axes.
type Tensor struct {
	obs    *Index
	vars   *Index
	names  []string
	layers map[string]Layer
}

// NewTensor builds a tensor. Every layer must have shape (|obs|, |vars|).
func NewTensor(obs, vars *Index, names []string, layers []Layer) (*Tensor, error) {
	if len(names) != len(layers) {
		return nil, fmt.Errorf("tensor has %d layer names but %d layers", len(names), len(layers))
	}
	t := &Tensor{
		obs:    obs,
		vars:   vars,
		names:  append([]string(nil), names...),
		layers: make(map[string]Layer, len(layers)),
	}
	for i, name := range names {
		if _, dup := t.layers[name]; dup {
			return nil, fmt.Errorf("duplicate layer %q", name)
		}
		r, c := layers[i].Dims()
		if r != obs.Len() || c != vars.Len() {
			return nil, fmt.Errorf("layer %q has shape %dx%d, expected %dx%d", name, r, c, obs.Len(), vars.Len())
		}
		t.layers[name] = layers[i]
	}
	return t, nil
}

// Layer returns the named layer.
func (t *Tensor) Layer(name string) (Layer, error) {
	l, ok := t.layers[name]
	if !ok {
		return nil, keyNotFound("layer", name)
	}
	return l, nil
}

// Row returns the obs row of the named layer.
func (t *Tensor) Row(layer, obs string) ([]float64, error) {
	l, err := t.Layer(layer)
	if err != nil {
		return nil, err
	}
	i, err := t.obs.Position(obs)
	if err != nil {
		return nil, err
	}
	return l.Row(i), nil
}

// At returns the (obs, var) value of the named layer.
func (t *Tensor) At(layer, obs, v string) (float64, error) {
	l, err := t.Layer(layer)
	if err != nil {
		return 0, err
	}
	i, err := t.obs.Position(obs)
	if err != nil {
		return 0, err
	}
	j, err := t.vars.Position(v)
	if err != nil {
		return 0, err
	}
	return l.At(i, j), nil
}

// LayerNames returns layer names in load order.
func (t *Tensor) LayerNames() []string { return append([]string(nil), t.names...) }

// Obs returns the row axis.
func (t *Tensor) Obs() *Index { return t.obs }

// Vars returns the column axis.
func (t *Tensor) Vars() *Index { return t.vars }

// KindCounts reports how many layers use each storage variant.
func (t *Tensor) KindCounts() map[LayerKind]int {
	out := make(map[LayerKind]int)
	for _, l := range t.layers {
		out[l.Kind()]++
	}
	return out
}
