package config

import (
	"fmt"
	"strings"

	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the proof server configuration
const (
	EnvMerklePort            = "MERKLE_PORT"
	EnvMerklePersistenceType = "MERKLE_PERSISTENCE_TYPE"
	EnvMerkleDataPath        = "MERKLE_DATA_PATH"
	EnvMerkleRedisAddress    = "MERKLE_REDIS_ADDRESS"
	EnvMerkleRedisPassword   = "MERKLE_REDIS_PASSWORD"
	EnvMerkleRedisDB         = "MERKLE_REDIS_DB"
	EnvMerkleRedisKeyPrefix  = "MERKLE_REDIS_KEY_PREFIX"
	EnvMerkleScheme          = "MERKLE_SCHEME"
	EnvMerkleHash            = "MERKLE_HASH"
	EnvMerkleEncoding        = "MERKLE_ENCODING"
	EnvMerkleRateLimit       = "MERKLE_RATE_LIMIT"
	EnvMerkleRateBurst       = "MERKLE_RATE_BURST"
	EnvMerkleCacheSize       = "MERKLE_CACHE_SIZE"
	EnvMerkleVerbose         = "MERKLE_VERBOSE"
)

// Defaults applied by the CLI when a flag is not set
const (
	DefaultPort      = 8080
	DefaultDataPath  = "./data"
	DefaultRateLimit = 20.0
	DefaultRateBurst = 40
	DefaultCacheSize = 256
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// GetSupportedPersistenceTypes returns every backend the server can open
func GetSupportedPersistenceTypes() []PersistenceType {
	return []PersistenceType{
		PersistenceTypeMemory,
		PersistenceTypeBadger,
		PersistenceTypeRedis,
	}
}

// GetSupportedPersistenceTypesString returns supported backends for CLI help
func GetSupportedPersistenceTypesString() string {
	names := make([]string, 0, 3)
	for _, p := range GetSupportedPersistenceTypes() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

// GetSupportedSchemesString returns supported hash schemes for CLI help
func GetSupportedSchemesString() string {
	names := make([]string, 0, 3)
	for _, s := range merkle.SupportedSchemes() {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}

// PersistenceConfig selects and configures the tree store
type PersistenceConfig struct {
	Type PersistenceType `json:"type"`

	// DataPath is the badger directory
	DataPath string `json:"data_path,omitempty"`

	RedisAddress   string `json:"redis_address,omitempty"`
	RedisPassword  string `json:"-"`
	RedisDB        int    `json:"redis_db,omitempty"`
	RedisKeyPrefix string `json:"redis_key_prefix,omitempty"`
}

// ServerConfig represents the complete configuration for the proof server
type ServerConfig struct {
	Port int `json:"port"`

	Persistence PersistenceConfig `json:"persistence"`

	// Tree construction defaults for trees created over HTTP
	Scheme   string `json:"scheme"`
	Hash     string `json:"hash"`
	Encoding string `json:"encoding"`

	// Per-client token bucket: RateLimit requests per second, up to RateBurst at once.
	// A zero RateLimit disables limiting.
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Rebuilt trees held in memory by the server
	CacheSize int `json:"cache_size"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`

	// Populated by Validate
	ParsedScheme merkle.Scheme `json:"-"`
}

// Validate checks the configuration, collecting every problem rather than
// stopping at the first.
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)

	scheme, err := merkle.ParseScheme(c.Scheme)
	if err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("scheme"), c.Scheme, schemeNames()))
	} else {
		c.ParsedScheme = scheme
	}

	if c.Hash != "" {
		if _, err := hashers.Get(c.Hash); err != nil {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("hash"), c.Hash, hashers.Names()))
		}
	}

	if c.Encoding != "" {
		if _, err := leaf.EncoderByName(c.Encoding); err != nil {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("encoding"), c.Encoding, leaf.EncodingNames()))
		}
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1 when rate limiting is enabled"))
	}

	if c.CacheSize < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("cacheSize"), c.CacheSize, "must not be negative"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (p *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	switch p.Type {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if p.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger"))
		}
	case PersistenceTypeRedis:
		if p.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis"))
		}
		if p.RedisDB < 0 || p.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), p.RedisDB, "must be between 0-15"))
		}
	default:
		supported := make([]string, 0, 3)
		for _, t := range GetSupportedPersistenceTypes() {
			supported = append(supported, t.String())
		}
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), p.Type, supported))
	}

	return allErrors
}

func schemeNames() []string {
	names := make([]string, 0, 3)
	for _, s := range merkle.SupportedSchemes() {
		names = append(names, s.String())
	}
	return names
}

// DescribePersistence renders the backend for startup logs without secrets
func (p *PersistenceConfig) DescribePersistence() string {
	switch p.Type {
	case PersistenceTypeBadger:
		return fmt.Sprintf("badger(%s)", p.DataPath)
	case PersistenceTypeRedis:
		return fmt.Sprintf("redis(%s/%d)", p.RedisAddress, p.RedisDB)
	default:
		return p.Type.String()
	}
}
