package infra

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"efiling/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniversalOptions(t *testing.T) {
	opts, err := universalOptions(&config.RedisConfig{Host: "cache", Port: 6380, DB: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:6380"}, opts.Addrs)
	assert.Equal(t, 2, opts.DB)

	opts, err = universalOptions(&config.RedisConfig{
		Mode: "sentinel", MasterName: "mymaster", SentinelAddrs: []string{"s1:26379", "s2:26379"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mymaster", opts.MasterName)
	assert.Len(t, opts.Addrs, 2)

	opts, err = universalOptions(&config.RedisConfig{Mode: "cluster", DB: 3, ClusterAddrs: []string{"c1:7000"}})
	require.NoError(t, err)
	assert.True(t, opts.IsClusterMode)
	assert.Zero(t, opts.DB)

	_, err = universalOptions(&config.RedisConfig{Mode: "sentinel"})
	assert.Error(t, err)
	_, err = universalOptions(&config.RedisConfig{Mode: "cluster"})
	assert.Error(t, err)
	_, err = universalOptions(&config.RedisConfig{Mode: "ring"})
	assert.Error(t, err)
}

func TestInitRedis_Standalone(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	rdb, err := InitRedis(&config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseRedis() })

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
