package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchDesignNotes(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 1024, cfg.Session.SkippedKeyCapacity)
	require.Equal(t, 8, cfg.Transport.MaxHops)
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comlock.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[cover]
rate = "max"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "max", cfg.Cover.Rate)
	require.Equal(t, 1024, cfg.Session.SkippedKeyCapacity, "unnamed fields should keep their defaults")
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
