/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-offlinecache/config"
	"github.com/acronis/go-offlinecache/retry"
)

const cfgDefaultKeyPrefix = "network"

// Retry policy strategies.
const (
	RetryPolicyExponential = "exponential"
	RetryPolicyConstant    = "constant"
)

// DefaultTimeout limits a single network fetch including redirects and reading the body.
const DefaultTimeout = 30 * time.Second

const (
	cfgKeyTimeout                          = "timeout"
	cfgKeyUserAgent                        = "userAgent"
	cfgKeyRetriesEnabled                   = "retries.enabled"
	cfgKeyRetriesMaxAttempts               = "retries.maxAttempts"
	cfgKeyRetriesPolicyStrategy            = "retries.policy.strategy"
	cfgKeyRetriesPolicyExponentialInterval = "retries.policy.exponentialBackoffInitialInterval"
	cfgKeyRetriesPolicyConstantInterval    = "retries.policy.constantBackoffInterval"
	cfgKeyRateLimitsEnabled                = "rateLimits.enabled"
	cfgKeyRateLimitsLimit                  = "rateLimits.limit"
	cfgKeyRateLimitsBurst                  = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout            = "rateLimits.waitTimeout"
	cfgKeyRateLimitsPerHost                = "rateLimits.perHost"
	cfgKeyLogEnabled                       = "log.enabled"
	cfgKeyLogMode                          = "log.mode"
	cfgKeyLogSlowRequestThreshold          = "log.slowRequestThreshold"
	cfgKeyMetricsEnabled                   = "metrics.enabled"
)

// RetriesConfig represents configuration options for retries of network fetches.
type RetriesConfig struct {
	Enabled     bool              `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxAttempts int               `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	Policy      RetryPolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// RetryPolicyConfig represents configuration options for the backoff between retry attempts.
type RetryPolicyConfig struct {
	Strategy                          string              `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	ExponentialBackoffInitialInterval config.TimeDuration `mapstructure:"exponentialBackoffInitialInterval" yaml:"exponentialBackoffInitialInterval" json:"exponentialBackoffInitialInterval"` //nolint:lll
	ConstantBackoffInterval           config.TimeDuration `mapstructure:"constantBackoffInterval" yaml:"constantBackoffInterval" json:"constantBackoffInterval"`
}

// BackoffPolicy returns the retry policy described by the configuration.
func (c *RetriesConfig) BackoffPolicy() retry.Policy {
	if c.Policy.Strategy == RetryPolicyConstant {
		return retry.NewConstantPolicy(time.Duration(c.Policy.ConstantBackoffInterval), c.MaxAttempts)
	}
	return retry.NewExponentialPolicy(time.Duration(c.Policy.ExponentialBackoffInitialInterval), c.MaxAttempts)
}

// RateLimitsConfig represents configuration options for client-side rate limiting of network fetches.
type RateLimitsConfig struct {
	Enabled     bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Limit       int                 `mapstructure:"limit" yaml:"limit" json:"limit"`
	Burst       int                 `mapstructure:"burst" yaml:"burst" json:"burst"`
	WaitTimeout config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
	PerHost     bool                `mapstructure:"perHost" yaml:"perHost" json:"perHost"`
}

// LogConfig represents configuration options for logging of network fetches.
type LogConfig struct {
	Enabled              bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Mode                 LoggingMode         `mapstructure:"mode" yaml:"mode" json:"mode"`
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// MetricsConfig represents configuration options for metrics of network fetches.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config represents options of the HTTP client used to reach the network.
type Config struct {
	Timeout    config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	UserAgent  string              `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`
	Retries    RetriesConfig       `mapstructure:"retries" yaml:"retries" json:"retries"`
	RateLimits RateLimitsConfig    `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`
	Log        LogConfig           `mapstructure:"log" yaml:"log" json:"log"`
	Metrics    MetricsConfig       `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the HTTP client in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, DefaultTimeout.String())
	dp.SetDefault(cfgKeyRetriesEnabled, false)
	dp.SetDefault(cfgKeyRetriesMaxAttempts, DefaultMaxRetryAttempts)
	dp.SetDefault(cfgKeyRetriesPolicyStrategy, RetryPolicyExponential)
	dp.SetDefault(cfgKeyRetriesPolicyExponentialInterval, DefaultExponentialBackoffInitialInterval.String())
	dp.SetDefault(cfgKeyRetriesPolicyConstantInterval, DefaultExponentialBackoffInitialInterval.String())
	dp.SetDefault(cfgKeyRateLimitsEnabled, false)
	dp.SetDefault(cfgKeyRateLimitsBurst, DefaultRateLimitingBurst)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, DefaultRateLimitingWaitTimeout.String())
	dp.SetDefault(cfgKeyRateLimitsPerHost, true)
	dp.SetDefault(cfgKeyLogEnabled, true)
	dp.SetDefault(cfgKeyLogMode, string(LoggingModeFailed))
	dp.SetDefault(cfgKeyLogSlowRequestThreshold, "0s")
	dp.SetDefault(cfgKeyMetricsEnabled, true)
}

// Set sets HTTP client configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	timeout, err := getNonNegativeDuration(dp, cfgKeyTimeout)
	if err != nil {
		return err
	}
	c.Timeout = config.TimeDuration(timeout)

	if c.UserAgent, err = dp.GetString(cfgKeyUserAgent); err != nil {
		return err
	}

	for _, set := range []func(config.DataProvider) error{c.setRetries, c.setRateLimits, c.setLog} {
		if err = set(dp); err != nil {
			return err
		}
	}

	c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled)
	return err
}

func (c *Config) setRetries(dp config.DataProvider) error {
	var err error
	if c.Retries.Enabled, err = dp.GetBool(cfgKeyRetriesEnabled); err != nil {
		return err
	}
	if c.Retries.MaxAttempts, err = dp.GetInt(cfgKeyRetriesMaxAttempts); err != nil {
		return err
	}
	if c.Retries.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesMaxAttempts, fmt.Errorf("should be >= 0"))
	}
	strategies := []string{RetryPolicyExponential, RetryPolicyConstant}
	strategy, err := dp.GetStringFromSet(cfgKeyRetriesPolicyStrategy, strategies, true)
	if err != nil {
		return err
	}
	c.Retries.Policy.Strategy = strings.ToLower(strategy)
	expInterval, err := getNonNegativeDuration(dp, cfgKeyRetriesPolicyExponentialInterval)
	if err != nil {
		return err
	}
	c.Retries.Policy.ExponentialBackoffInitialInterval = config.TimeDuration(expInterval)
	constInterval, err := getNonNegativeDuration(dp, cfgKeyRetriesPolicyConstantInterval)
	if err != nil {
		return err
	}
	c.Retries.Policy.ConstantBackoffInterval = config.TimeDuration(constInterval)
	return nil
}

func (c *Config) setRateLimits(dp config.DataProvider) error {
	var err error
	if c.RateLimits.Enabled, err = dp.GetBool(cfgKeyRateLimitsEnabled); err != nil {
		return err
	}
	if !c.RateLimits.Enabled {
		return nil
	}
	if c.RateLimits.Limit, err = dp.GetInt(cfgKeyRateLimitsLimit); err != nil {
		return err
	}
	if c.RateLimits.Limit <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, fmt.Errorf("should be > 0"))
	}
	if c.RateLimits.Burst, err = dp.GetInt(cfgKeyRateLimitsBurst); err != nil {
		return err
	}
	if c.RateLimits.Burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, fmt.Errorf("should be >= 0"))
	}
	waitTimeout, err := getNonNegativeDuration(dp, cfgKeyRateLimitsWaitTimeout)
	if err != nil {
		return err
	}
	c.RateLimits.WaitTimeout = config.TimeDuration(waitTimeout)
	if c.RateLimits.PerHost, err = dp.GetBool(cfgKeyRateLimitsPerHost); err != nil {
		return err
	}
	return nil
}

func (c *Config) setLog(dp config.DataProvider) error {
	var err error
	if c.Log.Enabled, err = dp.GetBool(cfgKeyLogEnabled); err != nil {
		return err
	}
	modes := []string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}
	mode, err := dp.GetStringFromSet(cfgKeyLogMode, modes, true)
	if err != nil {
		return err
	}
	c.Log.Mode = LoggingMode(strings.ToLower(mode))
	threshold, err := getNonNegativeDuration(dp, cfgKeyLogSlowRequestThreshold)
	if err != nil {
		return err
	}
	c.Log.SlowRequestThreshold = config.TimeDuration(threshold)
	return nil
}

func getNonNegativeDuration(dp config.DataProvider, key string) (time.Duration, error) {
	d, err := dp.GetDuration(key)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, dp.WrapKeyErr(key, fmt.Errorf("should be >= 0"))
	}
	return d, nil
}
