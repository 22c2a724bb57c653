package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRedisConfig = &RedisConfig{
	RedisURL:    "redis://localhost:6379",
	KeyPrefix:   "mailclass:test",
	DatabaseNum: 1, // separate database for testing
}

// Helper function to check if Redis is available
func isRedisAvailable() bool {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1,
	})
	defer client.Close()

	return client.Ping(context.Background()).Err() == nil
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	if !isRedisAvailable() {
		t.Skip("Redis not available, skipping test")
	}

	rs, err := NewRedisStore(testRedisConfig)
	require.NoError(t, err)
	rs.WithLogger(zerolog.Nop())

	cleanup := func() {
		keys, _ := rs.client.Keys(rs.ctx, testRedisConfig.KeyPrefix+":*").Result()
		if len(keys) > 0 {
			rs.client.Del(rs.ctx, keys...)
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		rs.Close()
	})
	return rs
}

func TestNewRedisStoreInvalidURL(t *testing.T) {
	_, err := NewRedisStore(&RedisConfig{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	rs := newTestRedisStore(t)
	m := trainedModel(t)

	ref, err := rs.Save(m, "prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", ref)

	loaded, err := rs.Load("prod")
	require.NoError(t, err)
	assert.Equal(t, m.ID(), loaded.ID())

	latest, err := rs.Load("")
	require.NoError(t, err)
	assert.Equal(t, m.ID(), latest.ID())
}

func TestRedisStoreDefaultRefIsModelID(t *testing.T) {
	rs := newTestRedisStore(t)
	m := trainedModel(t)

	ref, err := rs.Save(m, "")
	require.NoError(t, err)
	assert.Equal(t, m.ID(), ref)

	infos, err := rs.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, m.ID(), infos[0].ID)
	assert.Greater(t, infos[0].Size, int64(0))
}

func TestRedisStoreMissing(t *testing.T) {
	rs := newTestRedisStore(t)

	_, err := rs.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = rs.Load("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCorrupt(t *testing.T) {
	rs := newTestRedisStore(t)
	require.NoError(t, rs.client.Set(rs.ctx, rs.modelKey("bad"), "garbage", 0).Err())

	_, err := rs.Load("bad")
	assert.ErrorIs(t, err, ErrCorruptModel)
}

func TestRedisStoreDelete(t *testing.T) {
	rs := newTestRedisStore(t)
	_, err := rs.Save(trainedModel(t), "old")
	require.NoError(t, err)

	require.NoError(t, rs.Delete("old"))
	_, err = rs.Load("old")
	assert.ErrorIs(t, err, ErrNotFound)

	infos, err := rs.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestModelInfoParsesMetadata(t *testing.T) {
	var logs bytes.Buffer
	rs := &RedisStore{logger: zerolog.New(&logs)}

	info := rs.modelInfo("nightly", map[string]string{
		"id":         "abc",
		"created_at": "1700000000",
		"size":       "2048",
	})
	assert.Equal(t, ModelInfo{Ref: "nightly", ID: "abc", CreatedAt: time.Unix(1700000000, 0).UTC(), Size: 2048}, info)
	assert.Empty(t, logs.String())

	info = rs.modelInfo("broken", map[string]string{"id": "def", "created_at": "yesterday", "size": "2048"})
	assert.True(t, info.CreatedAt.IsZero())
	assert.Equal(t, int64(2048), info.Size)
	assert.Contains(t, logs.String(), `"field":"created_at"`)
	assert.Contains(t, logs.String(), `"ref":"broken"`)
}
