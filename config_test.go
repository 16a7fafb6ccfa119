package cants

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesOriginalPerCallDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint8(0), cfg.TCMaxRetries)
	assert.Equal(t, uint8(3), cfg.TMMaxRetries)
	assert.Equal(t, uint8(3), cfg.SBMaxRetries)
	assert.Equal(t, uint32(20), cfg.SBReportDelayMs)
	assert.Equal(t, uint8(3), cfg.SBMaxReportRetries)
	assert.Equal(t, uint8(3), cfg.GBMaxRetries)
	assert.Equal(t, uint8(3), cfg.GBMaxStartRetries)
}

func TestLoadConfigReadsOverridesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cants.ini")
	contents := "[cants]\n" +
		"address = 16\n" +
		"timeout_ms = 250\n" +
		"driver = virtual\n" +
		"nominal_channel = bus-a\n" +
		"redundant_channel = bus-b\n" +
		"\n" +
		"[tc]\n" +
		"max_retries = 2\n" +
		"\n" +
		"[sb]\n" +
		"max_retries = 5\n" +
		"report_delay_ms = 50\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, byte(16), cfg.Address)
	assert.Equal(t, uint32(250), cfg.TimeoutMs)
	assert.Equal(t, "virtual", cfg.DriverBackend)
	assert.Equal(t, "bus-a", cfg.NominalChannel)
	assert.Equal(t, "bus-b", cfg.RedundantChannel)
	assert.Equal(t, uint8(2), cfg.TCMaxRetries)
	assert.Equal(t, uint8(5), cfg.SBMaxRetries)
	assert.Equal(t, uint32(50), cfg.SBReportDelayMs)
	// [sb] omits max_report_retries and [gb] is absent entirely: both fall
	// back to DefaultConfig's values.
	assert.Equal(t, DefaultSBMaxReportRetries, cfg.SBMaxReportRetries)
	assert.Equal(t, DefaultGBMaxRetries, cfg.GBMaxRetries)
	assert.Equal(t, DefaultGBMaxStartRetries, cfg.GBMaxStartRetries)
	assert.Equal(t, DefaultTMMaxRetries, cfg.TMMaxRetries)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	assert.Error(t, err)
}
