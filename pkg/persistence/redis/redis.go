package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixTree        = "merkle:tree:"
	keySchemaVersion     = "merkle:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no prefix iteration, so roots are tracked in a set
	keySetTrees = "merkle:trees:index"

	opTimeout = 5 * time.Second
)

// RedisPersistence stores tree records in Redis so several service
// instances can share one set of published trees.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "airdrop:" gives
	// "airdrop:merkle:tree:0x...". Empty keeps the bare "merkle:" keys.
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisPersistence) treeKey(root string) string {
	return r.prefixKey(keyPrefixTree + root)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so concurrent first starts agree on one value
	if _, err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Result(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveTree persists a tree record
func (r *RedisPersistence) SaveTree(record *persistence.TreeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalTreeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeRecord: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	root := record.Root.Hex()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.treeKey(root), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetTrees), root)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save TreeRecord: %w", err)
	}

	return nil
}

// LoadTree retrieves a tree record
func (r *RedisPersistence) LoadTree(root merkle.Digest) (*persistence.TreeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.treeKey(root.Hex())).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeRecord: %w", err)
	}

	record, err := persistence.UnmarshalTreeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal TreeRecord: %w", err)
	}

	return record, nil
}

// ListTrees returns all tree records ordered by creation time
func (r *RedisPersistence) ListTrees() ([]*persistence.TreeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	indexKey := r.prefixKey(keySetTrees)
	roots, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tree roots: %w", err)
	}

	records := make([]*persistence.TreeRecord, 0, len(roots))
	if len(roots) == 0 {
		return records, nil
	}

	keys := make([]string, len(roots))
	for i, root := range roots {
		keys[i] = r.treeKey(root)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch TreeRecords: %w", err)
	}

	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, roots[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for TreeRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalTreeRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal TreeRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}

		records = append(records, record)
	}

	persistence.SortRecords(records)
	return records, nil
}

// DeleteTree removes a tree record
func (r *RedisPersistence) DeleteTree(root merkle.Digest) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.treeKey(root.Hex()))
	pipe.SRem(ctx, r.prefixKey(keySetTrees), root.Hex())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete TreeRecord: %w", err)
	}
	return nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
