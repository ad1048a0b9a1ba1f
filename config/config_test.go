package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leeforge/shrink/env_mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func testOptions(dir string) ConfigOptions {
	opts := DefaultConfigOptions()
	opts.BasePath = dir
	return opts
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, 256<<20, s.Buffer.MaxBytes)
	assert.Equal(t, 90, s.Resize.Quality)
	assert.Equal(t, "box", s.Resize.Filter)
	assert.False(t, s.Codec.AutoOrient)
	assert.Equal(t, "info", s.Logging.Level)
	require.NoError(t, s.Validate())
}

func TestLoadSettingsWithoutFiles(t *testing.T) {
	t.Setenv(env_mode.ENV_MODE_KEY, "dev")

	s, files, err := LoadSettings(testOptions(t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsRequiredFileMissing(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Optional = false

	_, _, err := LoadSettings(opts)
	require.Error(t, err)
}

func TestLoadSettingsLayering(t *testing.T) {
	t.Setenv(env_mode.ENV_MODE_KEY, "prod")
	dir := t.TempDir()
	writeFile(t, dir, "shrink.yaml", "resize:\n  quality: 70\n  filter: lanczos3\nbuffer:\n  max-bytes: 1024\n")
	writeFile(t, dir, "shrink.prod.yaml", "resize:\n  quality: 80\n")
	writeFile(t, dir, "shrink.dev.yaml", "resize:\n  quality: 10\n")

	s, files, err := LoadSettings(testOptions(dir))
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "shrink.yaml"),
		filepath.Join(dir, "shrink.prod.yaml"),
	}, files)
	assert.Equal(t, 80, s.Resize.Quality)
	assert.Equal(t, "lanczos3", s.Resize.Filter)
	assert.Equal(t, 1024, s.Buffer.MaxBytes)
	assert.Equal(t, "console", s.Logging.Format, "untouched keys keep defaults")
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	t.Setenv(env_mode.ENV_MODE_KEY, "dev")
	dir := t.TempDir()
	writeFile(t, dir, "shrink.yaml", "resize:\n  quality: 70\n")
	t.Setenv("SHRINK_RESIZE_QUALITY", "55")
	t.Setenv("SHRINK_CODEC_AUTO_ORIENT", "true")

	s, _, err := LoadSettings(testOptions(dir))
	require.NoError(t, err)
	assert.Equal(t, 55, s.Resize.Quality)
	assert.True(t, s.Codec.AutoOrient)
}

func TestLoadSettingsRejectsInvalidValues(t *testing.T) {
	t.Setenv(env_mode.ENV_MODE_KEY, "dev")
	dir := t.TempDir()
	writeFile(t, dir, "shrink.yaml", "resize:\n  quality: 101\n  filter: sinc\n")

	_, _, err := LoadSettings(testOptions(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quality must be less than or equal to 100")
	assert.Contains(t, err.Error(), "Filter must be one of")
}
