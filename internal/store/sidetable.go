package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Side-table column names written by the differential expression pipeline.
const (
	ColumnProbaNotDE = "proba_not_de"
	ColumnLFCMean    = "lfc_mean"
	ColumnLFCMedian  = "lfc_median"
	ColumnScale1     = "scale1"
	ColumnScale2     = "scale2"
)

// DefaultLimit is the number of ranked genes returned when no limit is given.
const DefaultLimit = 50

// RankBy selects the side-table column genes are ranked on.
type RankBy string

const (
	RankProbaNotDE RankBy = ColumnProbaNotDE
	RankLFCMean    RankBy = ColumnLFCMean
	RankScale1     RankBy = ColumnScale1
)

// ParseRankBy resolves a rank_by parameter. Empty means proba_not_de.
func ParseRankBy(s string) (RankBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proba_not_de", "p_value", "pvalue":
		return RankProbaNotDE, nil
	case "lfc_mean", "lfc":
		return RankLFCMean, nil
	case "scale1", "expr", "expression":
		return RankScale1, nil
	default:
		return "", invalidArgument("unknown rank_by %q", s)
	}
}

// Order is the ranking direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseOrder resolves an order parameter. Empty means ascending; "true" and
// "false" are accepted for the legacy ascending flag.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending", "true":
		return Ascending, nil
	case "desc", "descending", "false":
		return Descending, nil
	default:
		return Ascending, invalidArgument("unknown order %q", s)
	}
}

// Table is one cell group's ranking table: one row per gene, one float column
// per statistic.
type Table struct {
	genes   *Index
	columns []string
	colPos  map[string]int
	values  [][]float64
}

// NewTable builds a table. values[c] holds column c for every gene in index order.
func NewTable(genes *Index, columns []string, values [][]float64) (*Table, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("table has %d column names but %d columns", len(columns), len(values))
	}
	t := &Table{
		genes:   genes,
		columns: append([]string(nil), columns...),
		colPos:  make(map[string]int, len(columns)),
		values:  make([][]float64, len(values)),
	}
	for c, name := range columns {
		if _, dup := t.colPos[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		if len(values[c]) != genes.Len() {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", name, len(values[c]), genes.Len())
		}
		t.colPos[name] = c
		t.values[c] = append([]float64(nil), values[c]...)
	}
	return t, nil
}

// Genes returns the row index.
func (t *Table) Genes() *Index { return t.genes }

// Columns returns column names in load order.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Column returns the named column.
func (t *Table) Column(name string) ([]float64, error) {
	c, ok := t.colPos[name]
	if !ok {
		return nil, keyNotFound("column", name)
	}
	return t.values[c], nil
}

// Value returns one cell of the table.
func (t *Table) Value(column, gene string) (float64, error) {
	col, err := t.Column(column)
	if err != nil {
		return 0, err
	}
	i, err := t.genes.Position(gene)
	if err != nil {
		return 0, err
	}
	return col[i], nil
}

// Rank returns up to limit genes sorted by the rank_by column. The sort is
// stable, so ties keep table row order, and NaN always sorts last.
func (t *Table) Rank(by RankBy, order Order, limit int) ([]string, error) {
	col, err := t.Column(string(by))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows := make([]int, len(col))
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		va, vb := col[rows[a]], col[rows[b]]
		na, nb := math.IsNaN(va), math.IsNaN(vb)
		if na || nb {
			return !na && nb
		}
		if order == Descending {
			return va > vb
		}
		return va < vb
	})

	if limit > len(rows) {
		limit = len(rows)
	}
	out := make([]string, limit)
	for k := 0; k < limit; k++ {
		out[k] = t.genes.Label(rows[k])
	}
	return out, nil
}

// SideTables holds one ranking table per cell group.
type SideTables struct {
	groups []string
	tables map[string]*Table
}

// NewSideTables builds the per-group table set in the given group order.
func NewSideTables(groups []string, tables []*Table) (*SideTables, error) {
	if len(groups) != len(tables) {
		return nil, fmt.Errorf("side tables: %d groups but %d tables", len(groups), len(tables))
	}
	st := &SideTables{
		groups: append([]string(nil), groups...),
		tables: make(map[string]*Table, len(tables)),
	}
	for i, g := range groups {
		if _, dup := st.tables[g]; dup {
			return nil, fmt.Errorf("duplicate side table %q", g)
		}
		st.tables[g] = tables[i]
	}
	return st, nil
}

// Groups returns group names in load order.
func (st *SideTables) Groups() []string { return append([]string(nil), st.groups...) }

// Table returns the named group's table.
func (st *SideTables) Table(group string) (*Table, error) {
	t, ok := st.tables[group]
	if !ok {
		return nil, keyNotFound("cell group", group)
	}
	return t, nil
}

// RankedGenes ranks the genes of one group's table.
func (st *SideTables) RankedGenes(group string, by RankBy, order Order, limit int) ([]string, error) {
	t, err := st.Table(group)
	if err != nil {
		return nil, err
	}
	return t.Rank(by, order, limit)
}

// Value returns one statistic for (group, gene).
func (st *SideTables) Value(group, column, gene string) (float64, error) {
	t, err := st.Table(group)
	if err != nil {
		return 0, err
	}
	return t.Value(column, gene)
}
