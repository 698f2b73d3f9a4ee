package loom_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/loom"
)

// should decode duration strings and fill omitted fields with defaults
func TestParseProfileYAML(t *testing.T) {
	p, err := loom.ParseProfileYAML([]byte(`
transient_width: 4
frame_budget: 8ms
input_window: 100ms
`))
	require.NoError(t, err)

	def := loom.DefaultProfile()
	assert.Equal(t, 4, p.TransientWidth)
	assert.Equal(t, 8*time.Millisecond, p.FrameBudget)
	assert.Equal(t, 100*time.Millisecond, p.InputWindow)
	assert.Equal(t, def.DefaultWindow, p.DefaultWindow)
	assert.Equal(t, def.TransientWindow, p.TransientWindow)
	assert.Equal(t, def.RetryWindow, p.RetryWindow)
}

// should keep an explicitly negative window as "never promote"
func TestParseProfileNegativeWindowSurvives(t *testing.T) {
	p, err := loom.ParseProfileYAML([]byte("retry_window: -1ns\n"))
	require.NoError(t, err)
	assert.Equal(t, -time.Nanosecond, p.RetryWindow)
}

// should reject structural mistakes
func TestProfileValidation(t *testing.T) {
	_, err := loom.ParseProfileYAML([]byte("transient_width: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power of two")

	_, err = loom.ParseProfileYAML([]byte("transient_width: 1024\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = loom.ParseProfileYAML([]byte("frame_budget: -5ms\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame_budget")

	_, err = loom.ParseProfileYAML([]byte("   \n"))
	require.Error(t, err)

	_, err = loom.ParseProfileYAML([]byte("frame_budget: {nope\n"))
	require.Error(t, err)
}

// should load a profile from disk and name the file in errors
func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transient_width: 8\n"), 0o644))

	p, err := loom.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, p.TransientWidth)

	_, err = loom.LoadProfile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

// should ship a default profile that passes its own validation
func TestDefaultProfileIsValid(t *testing.T) {
	assert.NoError(t, loom.DefaultProfile().Validate())
}
