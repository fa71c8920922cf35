/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swhost

import (
	"fmt"
	"time"

	"github.com/acronis/go-offlinecache/config"
)

const cfgDefaultKeyPrefix = "host"

const (
	cfgKeyClientIDHeader = "clientIDHeader"
	cfgKeyUpdateInterval = "updateInterval"
)

// Config represents a set of configuration parameters for the host runtime.
type Config struct {
	ClientIDHeader string              `mapstructure:"clientIDHeader" yaml:"clientIDHeader" json:"clientIDHeader"`
	UpdateInterval config.TimeDuration `mapstructure:"updateInterval" yaml:"updateInterval" json:"updateInterval"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the host in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyClientIDHeader, DefaultClientIDHeader)
	dp.SetDefault(cfgKeyUpdateInterval, "0s")
}

// Set sets host configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.ClientIDHeader, err = dp.GetString(cfgKeyClientIDHeader); err != nil {
		return err
	}
	if c.ClientIDHeader == "" {
		return dp.WrapKeyErr(cfgKeyClientIDHeader, fmt.Errorf("cannot be empty"))
	}

	var interval time.Duration
	if interval, err = dp.GetDuration(cfgKeyUpdateInterval); err != nil {
		return err
	}
	if interval < 0 {
		return dp.WrapKeyErr(cfgKeyUpdateInterval, fmt.Errorf("should be >= 0"))
	}
	c.UpdateInterval = config.TimeDuration(interval)
	return nil
}

// RegistrationOpts returns registration options built from the configuration.
func (c *Config) RegistrationOpts() RegistrationOpts {
	return RegistrationOpts{ClientIDHeader: c.ClientIDHeader}
}
