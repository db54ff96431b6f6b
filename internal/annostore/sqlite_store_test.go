package annostore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormcells-viz/server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "genes.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx,
		Annotation{GeneID: "WBGene00000001", GeneName: "aap-1", Description: "PI3K adaptor"},
		Annotation{GeneID: "WBGene00000002", GeneName: "aat-1"},
	))

	a, err := s.Lookup(ctx, "WBGene00000001")
	require.NoError(t, err)
	assert.Equal(t, "aap-1", a.GeneName)
	assert.Equal(t, "PI3K adaptor", a.Description)

	_, err = s.Lookup(ctx, "WBGene99999999")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	// Put replaces existing rows.
	require.NoError(t, s.Put(ctx, Annotation{GeneID: "WBGene00000002", GeneName: "aat-1", Description: "amino acid transporter"}))
	a, err = s.Lookup(ctx, "WBGene00000002")
	require.NoError(t, err)
	assert.Equal(t, "amino acid transporter", a.Description)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_LookupManyKeepsRequestOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx,
		Annotation{GeneID: "a", GeneName: "A"},
		Annotation{GeneID: "b", GeneName: "B"},
		Annotation{GeneID: "c", GeneName: "C"},
	))

	got, err := s.LookupMany(ctx, []string{"c", "missing", "a", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].GeneID)
	assert.Equal(t, "a", got[1].GeneID)

	got, err = s.LookupMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ImportTSV(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := "gene_id\tgene_name\tdescription\n" +
		"# comment\n" +
		"WBGene00000001\taap-1\tPI3K\tadaptor subunit\n" +
		"\n" +
		"WBGene00000003\n"
	n, err := s.ImportTSV(ctx, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := s.Lookup(ctx, "WBGene00000001")
	require.NoError(t, err)
	assert.Equal(t, "PI3K adaptor subunit", a.Description)

	a, err = s.Lookup(ctx, "WBGene00000003")
	require.NoError(t, err)
	assert.Equal(t, "", a.GeneName)

	_, err = s.ImportTSV(ctx, strings.NewReader("x\ty\n\tnameless\n"))
	assert.Error(t, err)
}
