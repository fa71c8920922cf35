/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Loader fills configuration sections from a DataProvider.
// Defaults of all sections are registered before any section is read.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader returns a Loader backed by viper which also reads environment variables
// (e.g. OFFLINECACHE_CACHE_VERSION for the "cache.version" key and the "offlinecache" prefix).
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return &Loader{DataProvider: va}
}

// NewLoader returns a Loader that reads values from the given provider.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{DataProvider: dp}
}

// DataTypeFromPath detects the data type by the file extension. YAML is assumed for unknown extensions.
func DataTypeFromPath(path string) DataType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DataTypeJSON
	default:
		return DataTypeYAML
	}
}

// LoadFromFile reads the file and fills the sections. An empty dataType is detected from the path.
func (l *Loader) LoadFromFile(path string, dataType DataType, sections ...Config) error {
	if dataType == "" {
		dataType = DataTypeFromPath(path)
	}
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return fmt.Errorf("read %s file: %w", dataType, err)
	}
	return l.Load(sections...)
}

// LoadFromReader reads the data and fills the sections.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, sections ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return fmt.Errorf("read %s data: %w", dataType, err)
	}
	return l.Load(sections...)
}

// Load fills the sections from values the provider already holds (defaults, env vars, explicit Set calls).
func (l *Loader) Load(sections ...Config) error {
	providers := make([]DataProvider, len(sections))
	for i, section := range sections {
		providers[i] = ProviderFor(l.DataProvider, section)
		section.SetProviderDefaults(providers[i])
	}
	for i, section := range sections {
		if err := section.Set(providers[i]); err != nil {
			return err
		}
	}
	return nil
}
