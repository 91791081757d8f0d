package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHasherSnapshotsShareDigest(t *testing.T) {
	t.Parallel()

	h := New()
	page := []byte(`<div id="corePrice_feature_div"><span class="a-offscreen">€45,00</span></div>`)
	first, err := h.Hash(page)
	require.NoError(t, err)
	second, err := h.Hash(append([]byte(nil), page...))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	changed, err := h.Hash([]byte(`<div id="corePrice_feature_div"><span class="a-offscreen">€44,00</span></div>`))
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
