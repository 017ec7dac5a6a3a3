package storage

import (
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/config"
)

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(&config.RedisConfig{Host: mr.Host(), Port: mr.Port(), MaxConnections: 4})
	require.NoError(t, err)
	defer func() { assert.NoError(t, cache.Close()) }()

	assert.NoError(t, cache.Ping(testContext(t)))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := NewRedisCache(&config.RedisConfig{Host: host, Port: port, MaxConnections: 1})
	assert.Error(t, err)
}

func TestRedisCache_ScanIncrDel(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(&config.RedisConfig{Host: mr.Host(), Port: mr.Port(), MaxConnections: 4})
	require.NoError(t, err)
	defer cache.Close()
	ctx := testContext(t)

	n, err := cache.Incr(ctx, "cache:c1:a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = cache.Incr(ctx, "cache:c1:b")
	require.NoError(t, err)
	_, err = cache.Incr(ctx, "cache:c2:a")
	require.NoError(t, err)

	keys, err := cache.ScanKeys(ctx, "cache:c1:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"cache:c1:a", "cache:c1:b"}, keys)

	require.NoError(t, cache.Del(ctx, keys...))
	assert.False(t, mr.Exists("cache:c1:a"))
	assert.True(t, mr.Exists("cache:c2:a"))
}
