package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Valid())
}

func TestLocalIsValid(t *testing.T) {
	require.NoError(t, Local().Valid())
}

func TestValidRejectsBadConsensusCounts(t *testing.T) {
	c := Default()
	c.MinConsensusResults = c.MaxResultsPerJob + 1
	require.ErrorIs(t, c.Valid(), ErrInvalidConsensusCounts)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.toml")

	want := Local()
	require.NoError(t, Save(want, path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
