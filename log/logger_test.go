/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/config"
)

func TestNewLogger_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "offlinecache.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = logPath
	cfg.Level = LevelInfo

	logger, closeFn := NewLogger(cfg)
	logger.Debug("dropped")
	logger.Info("cache opened", String("cache", "accounting-app-v3"))
	logger.Error("network request failed", Error(errors.New("connection refused")))
	closeFn()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "cache opened", entry["msg"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "accounting-app-v3", entry["cache"])

	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "connection refused", entry["error"])
}

func TestLogfAdapter_WithLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = logPath
	cfg.Level = LevelDebug

	logger, closeFn := NewLogger(cfg)
	warnLogger := logger.WithLevel(LevelWarn)
	warnLogger.Infof("skipped %d", 1)
	warnLogger.Warnf("stale cache %q", "v1")
	closeFn()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), "skipped")
	require.Contains(t, string(data), `stale cache \"v1\"`)
}

func TestConfig_Set(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			data: `{}`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, LevelInfo, cfg.Level)
				require.Equal(t, FormatJSON, cfg.Format)
				require.Equal(t, OutputStdout, cfg.Output)
				require.Equal(t, config.ByteSize(DefaultFileRotationMaxSizeBytes), cfg.File.Rotation.MaxSize)
			},
		},
		{
			name: "file output with rotation",
			data: `{"log":{"level":"DEBUG","format":"text","output":"file",
				"file":{"path":"/var/log/offlinecache.log","rotation":{"maxSize":"10M","maxBackups":3}}}}`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, LevelDebug, cfg.Level)
				require.Equal(t, FormatText, cfg.Format)
				require.Equal(t, "/var/log/offlinecache.log", cfg.File.Path)
				require.Equal(t, config.ByteSize(10*1024*1024), cfg.File.Rotation.MaxSize)
				require.Equal(t, 3, cfg.File.Rotation.MaxBackups)
			},
		},
		{
			name:    "file output without path",
			data:    `{"log":{"output":"file"}}`,
			wantErr: "log.file.path: cannot be empty",
		},
		{
			name:    "unknown level",
			data:    `{"log":{"level":"verbose"}}`,
			wantErr: "log.level: unknown value",
		},
		{
			name:    "too small rotation size",
			data:    `{"log":{"file":{"rotation":{"maxSize":"1K"}}}}`,
			wantErr: "log.file.rotation.maxSize: should be >=",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.data), config.DataTypeJSON, cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestExpandFilePath(t *testing.T) {
	start := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	got := expandFilePath("/var/log/offlinecache-{{starttime}}-{{pid}}.log", start)
	require.Equal(t, fmt.Sprintf("/var/log/offlinecache-202403070905-%d.log", os.Getpid()), got)
	require.Equal(t, "plain.log", expandFilePath("plain.log", start))
}

func TestDurationIn(t *testing.T) {
	require.Equal(t, int64(1500), DurationIn(1500*time.Millisecond+999*time.Microsecond, time.Millisecond).Int)
}
