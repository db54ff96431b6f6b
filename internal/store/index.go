package store

import "fmt"

// Index maps the labels of one axis to their load-order positions.
type Index struct {
	name   string
	labels []string
	pos    map[string]int
}

// NewIndex builds an index over labels. Labels must be unique.
func NewIndex(name string, labels []string) (*Index, error) {
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		if _, dup := pos[l]; dup {
			return nil, fmt.Errorf("duplicate %s label %q", name, l)
		}
		pos[l] = i
	}
	return &Index{
		name:   name,
		labels: append([]string(nil), labels...),
		pos:    pos,
	}, nil
}

// Name returns the axis name used in error messages.
func (ix *Index) Name() string { return ix.name }

// Len returns the number of labels.
func (ix *Index) Len() int { return len(ix.labels) }

// Position returns the position of label, or a KeyError.
func (ix *Index) Position(label string) (int, error) {
	i, ok := ix.pos[label]
	if !ok {
		return -1, keyNotFound(ix.name, label)
	}
	return i, nil
}

// Contains reports whether label is declared.
func (ix *Index) Contains(label string) bool {
	_, ok := ix.pos[label]
	return ok
}

// Label returns the label at position i.
func (ix *Index) Label(i int) string { return ix.labels[i] }

// Labels returns a copy of the labels in load order.
func (ix *Index) Labels() []string {
	return append([]string(nil), ix.labels...)
}

// Head returns up to n labels from the start of the axis.
func (ix *Index) Head(n int) []string {
	if n > len(ix.labels) || n < 0 {
		n = len(ix.labels)
	}
	return append([]string(nil), ix.labels[:n]...)
}
