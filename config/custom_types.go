/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes written either as a non-negative integer or as "250M", "1Gi" and so on.
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	num, isInt, err := parseNonNegativeInt(string(text))
	if err != nil {
		return err
	}
	if isInt {
		*b = ByteSize(num)
		return nil
	}
	bs, err := parseByteSizeFromString(string(text))
	if err != nil {
		return err
	}
	*b = bs
	return nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return b.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid byte size format: %v", value.Value)
	}
	return b.UnmarshalText([]byte(value.Value))
}

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// parseByteSizeFromString also accepts power-of-two suffixes ("Mi", "Gi"), treating them as "M", "G".
func parseByteSizeFromString(s string) (ByteSize, error) {
	v := strings.TrimSpace(s)
	if len(v) > 2 && strings.HasSuffix(v, "i") && strings.ContainsRune("KMGTPE", rune(v[len(v)-2])) {
		v = v[:len(v)-1]
	}
	num, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	return ByteSize(num), nil
}

// TimeDuration is a duration written either as integer nanoseconds or as "1m30s".
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalText(text []byte) error {
	num, isInt, err := parseNonNegativeInt(string(text))
	if err != nil {
		return err
	}
	if isInt {
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid time duration format (%s): %w", text, err)
	}
	*d = TimeDuration(dur)
	return nil
}

func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// parseNonNegativeInt reports isInt=false when s is not an integer at all.
func parseNonNegativeInt(s string) (num int64, isInt bool, err error) {
	num, parseErr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if parseErr != nil {
		return 0, false, nil
	}
	if num < 0 {
		return 0, true, fmt.Errorf("negative value is not allowed: %d", num)
	}
	return num, true, nil
}
