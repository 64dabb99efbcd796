package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskmanager/pkg/redis"
)

func testConfig(addr string) redis.Config {
	return redis.Config{
		ConnectionURL:  "redis://" + addr + "/0",
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
		OpTimeout:      100 * time.Millisecond,
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := redis.Connect(context.Background(), testConfig(mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := redis.Connect(context.Background(), testConfig(addr))
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.ErrNotReady)
	assert.False(t, redis.IsConfigError(err))
}

func TestConnect_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want error
	}{
		{name: "empty", url: "", want: redis.ErrEmptyConnectionURL},
		{name: "wrong scheme", url: "mysql://localhost:3306", want: redis.ErrInvalidConnectionURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig("localhost:6379")
			cfg.ConnectionURL = tt.url

			_, err := redis.Connect(context.Background(), cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, redis.IsConfigError(err))

			_, err = redis.NewClient(cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := redis.NewClient(testConfig(mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	probe := redis.Healthcheck(client)
	ctx := context.Background()

	require.NoError(t, probe(ctx))

	mr.Close()
	assert.ErrorIs(t, probe(ctx), redis.ErrHealthcheckFailed)

	require.NoError(t, mr.Restart())
	assert.NoError(t, probe(ctx))
}
