package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomboard/pkg/config"
	"github.com/astromechza/roomboard/pkg/rooms"
)

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	for _, sc := range []config.StorageConfig{
		{Driver: "memory"},
		{Driver: "json", Path: filepath.Join(dir, "rooms.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "rooms.sqlite3")},
	} {
		t.Run(sc.Driver, func(t *testing.T) {
			b, err := openBackend(testContext(t), sc)
			require.NoError(t, err)
			defer b.Close()
			require.NoError(t, b.Seed(testContext(t), []rooms.Room{{ID: "201", DisplayOrder: 1, Category: rooms.CategoryGeneral}}))
			rs, err := b.List(testContext(t))
			require.NoError(t, err)
			assert.Len(t, rs, 1)
		})
	}

	_, err := openBackend(testContext(t), config.StorageConfig{Driver: "floppy"})
	assert.Error(t, err)
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--addr", "0.0.0.0:9000", "--storage", "memory"}))
	cfg, err := loadConfig(cmd, flags{addr: "0.0.0.0:9000", driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "memory", cfg.Storage.Driver)

	require.NoError(t, cmd.Flags().Parse([]string{"--storage", "floppy"}))
	_, err = loadConfig(cmd, flags{driver: "floppy"})
	assert.Error(t, err)
}
