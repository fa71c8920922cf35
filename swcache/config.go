/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swcache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/acronis/go-offlinecache/config"
)

const cfgDefaultKeyPrefix = "cache"

const (
	cfgKeyVersion             = "version"
	cfgKeyScope               = "scope"
	cfgKeyAssets              = "assets"
	cfgKeyPrecacheConcurrency = "precacheConcurrency"
)

// DefaultVersion is the cache bucket name used when no version is configured.
const DefaultVersion = "accounting-app-v3"

// DefaultPrecacheConcurrency limits parallel asset downloads during installation.
const DefaultPrecacheConcurrency = 4

// DefaultAssets returns the asset manifest precached during installation by default.
func DefaultAssets() []string {
	return []string{
		"./",
		"./index.html",
		"./manifest.json",
		"https://cdnjs.cloudflare.com/ajax/libs/xlsx/0.18.5/xlsx.full.min.js",
		"https://cdnjs.cloudflare.com/ajax/libs/html2canvas/1.4.1/html2canvas.min.js",
	}
}

// Config represents a set of configuration parameters for the cache manager.
type Config struct {
	// Version names the cache bucket. Changing it rolls the cache over on the next activation.
	Version string `mapstructure:"version" yaml:"version" json:"version"`

	// Scope is the base URL of the application. Relative assets are resolved against it,
	// and responses from its origin are considered basic (same-origin).
	Scope string `mapstructure:"scope" yaml:"scope" json:"scope"`

	// Assets is the ordered manifest of URLs to precache.
	Assets []string `mapstructure:"assets" yaml:"assets" json:"assets"`

	PrecacheConcurrency int `mapstructure:"precacheConcurrency" yaml:"precacheConcurrency" json:"precacheConcurrency"`

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

// SetProviderDefaults sets default configuration values for the cache manager in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyVersion, DefaultVersion)
	dp.SetDefault(cfgKeyAssets, DefaultAssets())
	dp.SetDefault(cfgKeyPrecacheConcurrency, DefaultPrecacheConcurrency)
}

// Set sets cache manager configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Version, err = dp.GetString(cfgKeyVersion); err != nil {
		return err
	}
	if c.Version == "" {
		return dp.WrapKeyErr(cfgKeyVersion, fmt.Errorf("cannot be empty"))
	}

	if c.Scope, err = dp.GetString(cfgKeyScope); err != nil {
		return err
	}
	scope, err := parseScope(c.Scope)
	if err != nil {
		return dp.WrapKeyErr(cfgKeyScope, err)
	}
	c.Scope = scope.String()

	if c.Assets, err = dp.GetStringSlice(cfgKeyAssets); err != nil {
		return err
	}

	if c.PrecacheConcurrency, err = dp.GetInt(cfgKeyPrecacheConcurrency); err != nil {
		return err
	}
	if c.PrecacheConcurrency <= 0 {
		return dp.WrapKeyErr(cfgKeyPrecacheConcurrency, fmt.Errorf("should be > 0"))
	}
	return nil
}

func parseScope(scope string) (*url.URL, error) {
	if scope == "" {
		return nil, fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(scope)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("absolute http(s) URL is required, got %q", scope)
	}
	// Scope is a directory: relative assets resolve under it, never next to it.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	return u, nil
}
