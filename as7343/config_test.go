package as7343

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Channels6, cfg.Channels)
	assert.Equal(t, 7, cfg.FIFOMap.Words())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
channels: 18
gain: 64
astep: 25ms
wait_time: 1s
led: true
led_drive_ma: 12
`))
	require.NoError(t, err)
	assert.Equal(t, Channels18, cfg.Channels)
	assert.Equal(t, 64.0, cfg.Gain)
	assert.Equal(t, uint8(1), cfg.ATIME, "default kept")
	assert.Equal(t, 25*time.Millisecond, cfg.ASTEP)
	assert.Equal(t, time.Second, cfg.WaitTime)
	assert.True(t, cfg.LED)
	assert.Equal(t, 12.0, cfg.LEDDrive)
	assert.Equal(t, FIFOMapAll, cfg.FIFOMap)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("channels: 7\nled_drive_ma: 1\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "channels 7")
	assert.Contains(t, err.Error(), "led drive")

	_, err = ParseConfig([]byte("channels: [6"))
	assert.Error(t, err)
}

func TestConfig_ValidateReportsAll(t *testing.T) {
	cfg := Config{Channels: 5, Gain: 4096, ASTEP: time.Nanosecond, WaitTime: time.Hour, LEDDrive: 300}
	err := cfg.Validate()
	assert.Len(t, multierr.Errors(err), 5)
	assert.Equal(t, ChannelMode(5), cfg.Channels, "validate does not fix values")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "as7343.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels: 12\nwait_time: 100ms\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Channels12, cfg.Channels)
	assert.Equal(t, 100*time.Millisecond, cfg.WaitTime)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseFIFOFrame(t *testing.T) {
	words := make([]uint16, 14)
	for i := range words {
		words[i] = uint16(i + 1)
	}
	words[6] = 0xFF12
	words[13] = 0x0900

	res, err := ParseFIFOFrame(Channels12, words)
	require.NoError(t, err)
	v, _ := res.Value(FZ)
	assert.Equal(t, uint16(1), v)
	v, _ = res.Value(VIS)
	assert.Equal(t, uint16(5), v)
	v, _ = res.Value(F2)
	assert.Equal(t, uint16(8), v)
	v, _ = res.Value(F6)
	assert.Equal(t, uint16(11), v)
	st, _ := res.Status(0)
	assert.Equal(t, uint8(0x8F), st)
	st, _ = res.Status(1)
	assert.Equal(t, uint8(0x09), st)
	_, ok := res.Status(2)
	assert.False(t, ok)
}

func TestParseFIFOFrame_Invalid(t *testing.T) {
	_, err := ParseFIFOFrame(Channels18, make([]uint16, 20))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseFIFOFrame(10, make([]uint16, 14))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
