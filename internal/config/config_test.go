package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithNoPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesFileOverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zfsd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode":"client","fragment_size":1024}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeClient, cfg.Mode)
	assert.Equal(t, uint(1024), cfg.FragmentSize)
	// Untouched fields keep their default values.
	assert.Equal(t, Default().Sanitizer, cfg.Sanitizer)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zfsd.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroFragmentSize(t *testing.T) {
	cfg := Default()
	cfg.FragmentSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveSanitizerPeriod(t *testing.T) {
	cfg := Default()
	cfg.Sanitizer.Period = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroStuckReset(t *testing.T) {
	cfg := Default()
	cfg.Sanitizer.StuckReset = 0
	assert.Error(t, cfg.Validate())
}
