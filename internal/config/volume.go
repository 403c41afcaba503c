package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// NotifyModeCrossing raises a low-volume warning only when the balance
	// moves from above the threshold to at-or-below it.
	NotifyModeCrossing = "crossing"
	// NotifyModeAlways raises a warning on every decrease that ends at or
	// below the threshold.
	NotifyModeAlways = "always"
)

// VolumeSettings tunes the low-volume warning.
type VolumeSettings struct {
	WarningThresholdMinutes int    `mapstructure:"warningThresholdMinutes"`
	NotifyMode              string `mapstructure:"notifyMode"`
}

func DefaultVolumeSettings() VolumeSettings {
	return VolumeSettings{
		WarningThresholdMinutes: 60,
		NotifyMode:              NotifyModeCrossing,
	}
}

type VolumeSettingsHolder struct {
	current atomic.Value // holds VolumeSettings
}

// NewStaticVolumeSettings returns a holder that never reloads.
func NewStaticVolumeSettings(settings VolumeSettings) *VolumeSettingsHolder {
	holder := &VolumeSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func NewVolumeSettingsHolder(log *zap.Logger) (*VolumeSettingsHolder, error) {
	v := viper.New()

	v.SetConfigName("volume")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/supportdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUPPORTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultVolumeSettings()
	v.SetDefault("volume.warningThresholdMinutes", defaults.WarningThresholdMinutes)
	v.SetDefault("volume.notifyMode", defaults.NotifyMode)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	settings, err := decodeVolumeSettings(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticVolumeSettings(settings)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeVolumeSettings(v)
			if err != nil {
				log.Warn("volume settings reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("volume settings reloaded",
				zap.String("file", e.Name),
				zap.Int("warning_threshold_minutes", updated.WarningThresholdMinutes),
				zap.String("notify_mode", updated.NotifyMode),
			)
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *VolumeSettingsHolder) Get() VolumeSettings {
	if h == nil {
		return DefaultVolumeSettings()
	}
	settings, ok := h.current.Load().(VolumeSettings)
	if !ok {
		return DefaultVolumeSettings()
	}
	return settings
}

func decodeVolumeSettings(v *viper.Viper) (VolumeSettings, error) {
	var settings VolumeSettings
	if err := v.UnmarshalKey("volume", &settings); err != nil {
		return VolumeSettings{}, err
	}
	settings.NotifyMode = strings.ToLower(strings.TrimSpace(settings.NotifyMode))
	if err := validateVolumeSettings(settings); err != nil {
		return VolumeSettings{}, err
	}
	return settings, nil
}

func validateVolumeSettings(settings VolumeSettings) error {
	if settings.WarningThresholdMinutes <= 0 {
		return errors.New("volume.warningThresholdMinutes must be positive")
	}
	switch settings.NotifyMode {
	case NotifyModeCrossing, NotifyModeAlways:
		return nil
	default:
		return errors.New("volume.notifyMode must be crossing or always")
	}
}
