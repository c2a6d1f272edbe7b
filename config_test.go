package weft

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettingsGetSetRecognizedKey(t *testing.T) {
	s := defaultSettings()

	s.Set("env", "production")
	v, ok := s.Get("env")
	assert.True(t, ok)
	assert.Equal(t, "production", v)
}

func TestSettingsUnrecognizedKeyStoredButInert(t *testing.T) {
	s := defaultSettings()

	s.Set("custom_flag", true)
	v, ok := s.Get("custom_flag")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	// No recognized field was touched by the unknown key.
	assert.Equal(t, "development", s.Env)
}

func TestSettingsDefaults(t *testing.T) {
	s := defaultSettings()

	assert.Equal(t, "development", s.Env)
	assert.Equal(t, "extended", s.QueryParser)
	assert.Equal(t, "weak", s.ETagMode)
	assert.True(t, s.XPoweredBy)
	assert.Equal(t, 2, s.SubdomainOffset)
	assert.Equal(t, "callback", s.JSONPCallbackName)
}

func TestDecodeINI(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.ini"

	err := os.WriteFile(path, []byte("env = production\nx_powered_by = false\n"), 0o644)
	assert.NoError(t, err)

	m, err := decodeINI(path)
	assert.NoError(t, err)
	assert.Equal(t, "production", m["env"])
}
