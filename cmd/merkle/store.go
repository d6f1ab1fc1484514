package main

import (
	"fmt"

	"github.com/AnonJon/oz-merkle-go/pkg/config"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	persistenceBadger "github.com/AnonJon/oz-merkle-go/pkg/persistence/badger"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence/memory"
	persistenceRedis "github.com/AnonJon/oz-merkle-go/pkg/persistence/redis"
	"github.com/AnonJon/oz-merkle-go/pkg/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func parseServerConfig(c *cli.Context) (*config.ServerConfig, error) {
	return &config.ServerConfig{
		Port: c.Int("port"),
		Persistence: config.PersistenceConfig{
			Type:           config.PersistenceType(c.String("persistence")),
			DataPath:       c.String("data-path"),
			RedisAddress:   c.String("redis-address"),
			RedisPassword:  c.String("redis-password"),
			RedisDB:        c.Int("redis-db"),
			RedisKeyPrefix: c.String("redis-key-prefix"),
		},
		Scheme:    c.String("scheme"),
		Hash:      c.String("hash"),
		Encoding:  c.String("encoding"),
		RateLimit: c.Float64("rate-limit"),
		RateBurst: c.Int("rate-burst"),
		CacheSize: c.Int("cache-size"),
		Debug:     c.Bool("verbose"),
		Verbose:   c.Bool("verbose"),
	}, nil
}

// openPersistence opens the configured tree store.
func openPersistence(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.ITreePersistence, error) {
	switch cfg.Type {
	case config.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(l), nil
	case config.PersistenceTypeBadger:
		store, err := persistenceBadger.NewBadgerPersistence(cfg.DataPath, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := persistenceRedis.NewRedisPersistence(&persistenceRedis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis persistence: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Type)
	}
}

func newServer(cfg *config.ServerConfig, store persistence.ITreePersistence, l *zap.Logger) (*server.Server, error) {
	return server.NewServer(server.Config{
		Port:      cfg.Port,
		Scheme:    cfg.ParsedScheme,
		Hash:      cfg.Hash,
		Encoding:  cfg.Encoding,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		CacheSize: cfg.CacheSize,
	}, store, l)
}
