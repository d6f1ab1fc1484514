package redis

import (
	"context"
	"os"
	"testing"

	"github.com/AnonJon/oz-merkle-go/pkg/logger"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence/persistencetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ persistence.ITreePersistence = (*RedisPersistence)(nil)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis opens a backend under a fresh key prefix, skipping the test
// when no server is reachable.
func requireRedis(t *testing.T, prefix string) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15, // Use DB 15 for tests to avoid conflicts
		KeyPrefix: prefix,
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	t.Cleanup(func() { cleanupRedis(cfg) })
	return rp
}

// cleanupRedis removes every key written under the test prefix
func cleanupRedis(cfg *RedisConfig) {
	testLogger := logger.Nop()
	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		return
	}
	defer func() { _ = rp.Close() }()

	ctx := context.Background()
	iter := rp.client.Scan(ctx, 0, cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rp.client.Del(ctx, iter.Val())
	}
}

func testPrefix() string {
	return "test-" + uuid.NewString() + ":"
}

func TestRedisPersistence_Contract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.ITreePersistence {
		return requireRedis(t, testPrefix())
	})
}

func TestRedisPersistence_SharedAcrossClients(t *testing.T) {
	prefix := testPrefix()
	writer := requireRedis(t, prefix)
	defer func() { _ = writer.Close() }()
	reader := requireRedis(t, prefix)
	defer func() { _ = reader.Close() }()

	record := persistencetest.NewRecord(t, "shared", 6)
	require.NoError(t, writer.SaveTree(record))

	loaded, err := reader.LoadTree(record.Root)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
}

func TestRedisPersistence_KeyPrefixIsolation(t *testing.T) {
	a := requireRedis(t, testPrefix())
	defer func() { _ = a.Close() }()
	b := requireRedis(t, testPrefix())
	defer func() { _ = b.Close() }()

	record := persistencetest.NewRecord(t, "isolated", 4)
	require.NoError(t, a.SaveTree(record))

	loaded, err := b.LoadTree(record.Root)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	all, err := b.ListTrees()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisPersistence_StaleIndexEntry(t *testing.T) {
	rp := requireRedis(t, testPrefix())
	defer func() { _ = rp.Close() }()

	record := persistencetest.NewRecord(t, "stale", 3)
	require.NoError(t, rp.SaveTree(record))

	// Drop the value but leave the root in the index set
	ctx := context.Background()
	require.NoError(t, rp.client.Del(ctx, rp.treeKey(record.Root.Hex())).Err())

	all, err := rp.ListTrees()
	require.NoError(t, err)
	assert.Empty(t, all)

	members, err := rp.client.SMembers(ctx, rp.prefixKey(keySetTrees)).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestNewRedisPersistence_InvalidConfig(t *testing.T) {
	testLogger := logger.Nop()

	_, err := NewRedisPersistence(nil, testLogger)
	require.Error(t, err)

	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address cannot be empty")
}
