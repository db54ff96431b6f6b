package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKey(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		a := QueryKey("default", "heatmap", ListParam([]string{"g1", "g2"}), ListParam([]string{"ADA"}))
		b := QueryKey("default", "heatmap", ListParam([]string{"g1", "g2"}), ListParam([]string{"ADA"}))
		assert.Equal(t, a, b)
	})

	t.Run("paramBoundaries", func(t *testing.T) {
		a := QueryKey("default", "heatmap", "ab", "c")
		b := QueryKey("default", "heatmap", "a", "bc")
		assert.NotEqual(t, a, b)
	})

	t.Run("namespaced", func(t *testing.T) {
		a := QueryKey("pbmc", "swarm", "ADA")
		b := QueryKey("liver", "swarm", "ADA")
		assert.NotEqual(t, a, b)
		assert.Contains(t, a, "pbmc:swarm:")
	})
}

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager(Config{ImageCacheSizeMB: 8, ImageTTL: time.Minute, QueryCacheSize: 2})
	require.NoError(t, err)
	defer m.Close()

	_, ok := m.GetQuery("q1")
	assert.False(t, ok)

	m.SetQuery("q1", []byte(`{"a":1}`))
	got, ok := m.GetQuery("q1")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), got)

	// LRU evicts the oldest entry beyond capacity.
	m.SetQuery("q2", []byte("2"))
	m.SetQuery("q3", []byte("3"))
	_, ok = m.GetQuery("q1")
	assert.False(t, ok)

	require.NoError(t, m.SetImage("img", []byte{0x89, 'P', 'N', 'G'}))
	img, ok := m.GetImage("img")
	require.True(t, ok)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img)

	stats := m.Stats()
	assert.Equal(t, 2, stats["query_cache_len"])
	assert.Equal(t, 1, stats["image_cache_len"])
}
