package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:5025", cfg.Address)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 10, cfg.Slots)
	assert.Equal(t, float64(50), cfg.SnapDistance)
	assert.Equal(t, "my_data", cfg.BaseFilename)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopeseq.yaml")
	yaml := "address: gpib:///dev/ttyUSB0?pad=7\ntimeout: 2s\nslots: 12\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("SCOPESEQ_BASE_FILENAME", "run")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "gpib:///dev/ttyUSB0?pad=7", cfg.Address)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 12, cfg.Slots)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "run", cfg.BaseFilename)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopeseq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slots: 0\n"), 0o644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
}

func TestWithReturnsCopy(t *testing.T) {
	orig := Default()
	updated := orig.WithAddress(" tcp://scope:5025 ").WithTimeout(time.Second).WithBaseFilename("x")

	assert.Equal(t, "tcp://localhost:5025", orig.Address)
	assert.Equal(t, "tcp://scope:5025", updated.Address)
	assert.Equal(t, time.Second, updated.Timeout)
	assert.Equal(t, "x", updated.BaseFilename)
	assert.Equal(t, "my_data", orig.BaseFilename)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scopeseq.yaml")
	cfg := Default().WithAddress("tcp://10.0.0.5:5025").WithBaseDirectory("/data")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:5025", loaded.Address)
	assert.Equal(t, "/data", loaded.BaseDirectory)
	assert.Equal(t, cfg.Timeout, loaded.Timeout)
}
