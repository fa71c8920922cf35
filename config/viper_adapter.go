/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ViperAdapter implements DataProvider on top of a private viper instance.
type ViperAdapter struct {
	viper *viper.Viper
}

var _ DataProvider = (*ViperAdapter)(nil)

func NewViperAdapter() *ViperAdapter {
	return &ViperAdapter{viper: viper.New()}
}

// UseEnvVars lets environment variables override keys: with the "offlinecache" prefix,
// OFFLINECACHE_CACHE_VERSION overrides "cache.version".
func (va *ViperAdapter) UseEnvVars(prefix string) {
	va.viper.SetEnvPrefix(prefix)
	va.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	va.viper.AutomaticEnv()
}

func (va *ViperAdapter) SetFromFile(path string, dataType DataType) error {
	va.viper.SetConfigFile(path)
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadInConfig()
}

func (va *ViperAdapter) SetFromReader(reader io.Reader, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadConfig(reader)
}

// Set overrides the key regardless of the file and env vars.
func (va *ViperAdapter) Set(key string, value interface{}) { va.viper.Set(key, value) }

// SetDefault is used only when neither the file nor env vars provide the key.
func (va *ViperAdapter) SetDefault(key string, value interface{}) { va.viper.SetDefault(key, value) }

func (va *ViperAdapter) IsSet(key string) bool { return va.viper.IsSet(key) }

func (va *ViperAdapter) Get(key string) interface{} { return va.viper.Get(key) }

func (va *ViperAdapter) GetInt(key string) (int, error) {
	return castKey(va, key, false, cast.ToIntE)
}

func (va *ViperAdapter) GetString(key string) (string, error) {
	return castKey(va, key, false, cast.ToStringE)
}

func (va *ViperAdapter) GetBool(key string) (bool, error) {
	return castKey(va, key, false, cast.ToBoolE)
}

// GetStringSlice returns nil for an absent key.
func (va *ViperAdapter) GetStringSlice(key string) ([]string, error) {
	return castKey(va, key, true, cast.ToStringSliceE)
}

// GetDuration returns zero for an absent key.
func (va *ViperAdapter) GetDuration(key string) (time.Duration, error) {
	return castKey(va, key, true, cast.ToDurationE)
}

// GetStringFromSet returns the value only if it is one of set.
func (va *ViperAdapter) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	str, err := va.GetString(key)
	if err != nil {
		return "", err
	}
	for _, s := range set {
		if str == s || (ignoreCase && strings.EqualFold(str, s)) {
			return str, nil
		}
	}
	return "", WrapKeyErr(key, fmt.Errorf("unknown value %q, should be one of %v", str, set))
}

// GetSizeInBytes accepts plain non-negative integers and human-readable strings ("10M", "512K", "1Gi").
func (va *ViperAdapter) GetSizeInBytes(key string) (uint64, error) {
	switch val := va.Get(key).(type) {
	case nil:
		return 0, nil
	case string:
		var bs ByteSize
		err := bs.UnmarshalText([]byte(val))
		return uint64(bs), WrapKeyErrIfNeeded(key, err)
	default:
		num, err := cast.ToInt64E(val)
		if err != nil {
			return 0, WrapKeyErr(key, err)
		}
		if num < 0 {
			return 0, WrapKeyErr(key, fmt.Errorf("negative value is not allowed: %d", num))
		}
		return uint64(num), nil
	}
}

func (va *ViperAdapter) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	viperOpts := make([]viper.DecoderConfigOption, 0, len(opts))
	for _, opt := range opts {
		viperOpts = append(viperOpts, viper.DecoderConfigOption(opt))
	}
	return WrapKeyErrIfNeeded(key, va.viper.UnmarshalKey(key, rawVal, viperOpts...))
}

func (va *ViperAdapter) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(key, err)
}

// castKey converts the key's value with fn. When nilAsZero is set, an absent key yields the zero value
// without calling fn.
func castKey[T any](va *ViperAdapter, key string, nilAsZero bool, fn func(interface{}) (T, error)) (T, error) {
	val := va.Get(key)
	if val == nil && nilAsZero {
		var zero T
		return zero, nil
	}
	res, err := fn(val)
	return res, WrapKeyErrIfNeeded(key, err)
}
