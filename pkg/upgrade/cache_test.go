package upgrade

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCacheKeepsLastKnown(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "story")
	svc := types.ServiceIdentity{Component: types.ComponentConsensus, BinaryPath: binary}
	cache := NewVersionCache(fileVersionReader{})

	v, err := cache.Refresh(context.Background(), svc)
	assert.Error(t, err)
	assert.Equal(t, UnknownVersion, v)

	require.NoError(t, os.WriteFile(binary, []byte("1.3.0-stable\n"), 0755))
	v, err = cache.Refresh(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0-stable", v)

	require.NoError(t, os.Remove(binary))
	v, err = cache.Refresh(context.Background(), svc)
	assert.Error(t, err)
	assert.Equal(t, "1.3.0-stable", v)

	cached, readAt, ok := cache.Get(types.ComponentConsensus)
	require.True(t, ok)
	assert.Equal(t, "1.3.0-stable", cached)
	assert.False(t, readAt.IsZero())

	cache.Invalidate(types.ComponentConsensus)
	_, _, ok = cache.Get(types.ComponentConsensus)
	assert.False(t, ok)
}
