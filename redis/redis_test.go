package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func miniredisConfig(t *testing.T, mr *miniredis.Miniredis) *RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return &RedisConfig{Host: mr.Host(), Port: port, Namespace: "proctor"}
}

func TestNewRedisClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(miniredisConfig(t, mr))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "proctor:nonce:s1", "abc", 0).Err())
	got, err := mr.Get("proctor:nonce:s1")
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}

func TestNewRedisClientPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	config := miniredisConfig(t, mr)
	client, err := NewRedisClient(config)
	require.Error(t, err)
	require.Nil(t, client)

	config.Password = "secret"
	client, err = NewRedisClient(config)
	require.NoError(t, err)
	client.Close()
}

func TestNewRedisClientRejectsBadAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	closed := miniredisConfig(t, mr)
	mr.Close()

	tests := []struct {
		name   string
		config *RedisConfig
	}{
		{"empty", &RedisConfig{}},
		{"port out of range", &RedisConfig{Host: "localhost", Port: 99999}},
		{"nothing listening", closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRedisClient(tt.config)
			require.ErrorContains(t, err, "failed to connect to Redis")
			require.Nil(t, client)
		})
	}
}

func TestNewRedisSentinelClientRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *RedisSentinelConfig
	}{
		{"no master", &RedisSentinelConfig{SentinelHost: "localhost", SentinelPort: 26379}},
		{"no host", &RedisSentinelConfig{SentinelPort: 26379, MasterName: "mymaster"}},
		{"port out of range", &RedisSentinelConfig{SentinelHost: "localhost", SentinelPort: 99999, MasterName: "mymaster"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRedisSentinelClient(tt.config)
			require.ErrorContains(t, err, "failed to connect to Redis through Sentinel")
			require.Nil(t, client)
		})
	}
}
