package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVolumeSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.yml")
	require.NoError(t, os.WriteFile(path, []byte("volume:\n  warningThresholdMinutes: 90\n  notifyMode: Always\n"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	settings, err := decodeVolumeSettings(v)
	require.NoError(t, err)
	assert.Equal(t, 90, settings.WarningThresholdMinutes)
	assert.Equal(t, NotifyModeAlways, settings.NotifyMode)
}

func TestDecodeVolumeSettingsRejectsInvalidValues(t *testing.T) {
	v := viper.New()
	v.Set("volume.warningThresholdMinutes", 0)
	v.Set("volume.notifyMode", "crossing")
	_, err := decodeVolumeSettings(v)
	assert.Error(t, err)

	v = viper.New()
	v.Set("volume.warningThresholdMinutes", 60)
	v.Set("volume.notifyMode", "sometimes")
	_, err = decodeVolumeSettings(v)
	assert.Error(t, err)
}

func TestVolumeSettingsHolderDefaults(t *testing.T) {
	var holder *VolumeSettingsHolder
	assert.Equal(t, DefaultVolumeSettings(), holder.Get())

	static := NewStaticVolumeSettings(VolumeSettings{WarningThresholdMinutes: 30, NotifyMode: NotifyModeCrossing})
	assert.Equal(t, 30, static.Get().WarningThresholdMinutes)
}
