/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/acronis/go-offlinecache/config"
)

const cfgDefaultKeyPrefix = "storage"

const (
	cfgKeyType           = "type"
	cfgKeyMaxEntries     = "maxEntries"
	cfgKeyRedisAddr      = "redis.addr"
	cfgKeyRedisPassword  = "redis.password"
	cfgKeyRedisDB        = "redis.db"
	cfgKeyRedisKeyPrefix = "redis.keyPrefix"
)

// Type defines possible storage backends.
type Type string

// Storage backends.
const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// DefaultRedisAddr is the default address of the Redis server.
const DefaultRedisAddr = "localhost:6379"

// Config represents a set of configuration parameters for the cache storage.
type Config struct {
	Type       Type        `mapstructure:"type" yaml:"type" json:"type"`
	MaxEntries int         `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`

	keyPrefix string
}

// RedisConfig is a configuration of the Redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password  string `mapstructure:"password" yaml:"password" json:"password"`
	DB        int    `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix string `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config with the given key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the storage in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyType, string(TypeMemory))
	dp.SetDefault(cfgKeyMaxEntries, 0)
	dp.SetDefault(cfgKeyRedisAddr, DefaultRedisAddr)
	dp.SetDefault(cfgKeyRedisKeyPrefix, DefaultRedisKeyPrefix)
}

// Set sets storage configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	typeStr, err := dp.GetStringFromSet(cfgKeyType, []string{string(TypeMemory), string(TypeRedis)}, true)
	if err != nil {
		return err
	}
	c.Type = Type(strings.ToLower(typeStr))

	if c.MaxEntries, err = dp.GetInt(cfgKeyMaxEntries); err != nil {
		return err
	}
	if c.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyMaxEntries, fmt.Errorf("should be >= 0"))
	}

	if c.Redis.Addr, err = dp.GetString(cfgKeyRedisAddr); err != nil {
		return err
	}
	if c.Type == TypeRedis && c.Redis.Addr == "" {
		return dp.WrapKeyErr(cfgKeyRedisAddr, fmt.Errorf("cannot be empty when %q storage is used", TypeRedis))
	}
	if c.Redis.Password, err = dp.GetString(cfgKeyRedisPassword); err != nil {
		return err
	}
	if c.Redis.DB, err = dp.GetInt(cfgKeyRedisDB); err != nil {
		return err
	}
	if c.Redis.DB < 0 {
		return dp.WrapKeyErr(cfgKeyRedisDB, fmt.Errorf("should be >= 0"))
	}
	if c.Redis.KeyPrefix, err = dp.GetString(cfgKeyRedisKeyPrefix); err != nil {
		return err
	}
	return nil
}

// NewStorage builds the storage backend described by the configuration.
func NewStorage(cfg *Config, metricsCollector MetricsCollector) (Storage, error) {
	switch cfg.Type {
	case TypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStorage(client, RedisStorageOpts{
			KeyPrefix:        cfg.Redis.KeyPrefix,
			MetricsCollector: metricsCollector,
		}), nil
	case TypeMemory, "":
		return NewMemoryStorage(MemoryStorageOpts{MaxEntries: cfg.MaxEntries, MetricsCollector: metricsCollector})
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}
