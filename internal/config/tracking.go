package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TrackingConfig is the attribution policy that can change without a restart.
type TrackingConfig struct {
	DefaultCurrency string        `mapstructure:"defaultCurrency"`
	SessionTTL      time.Duration `mapstructure:"sessionTTL"`
	SweepInterval   time.Duration `mapstructure:"sweepInterval"`
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		DefaultCurrency: "USD",
		SessionTTL:      0,
		SweepInterval:   time.Minute,
	}
}

type TrackingConfigHolder struct {
	current atomic.Value // holds TrackingConfig
}

// NewStaticTrackingConfigHolder returns a holder that never reloads.
func NewStaticTrackingConfigHolder(cfg TrackingConfig) *TrackingConfigHolder {
	holder := &TrackingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewTrackingConfigHolder() (*TrackingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tracking")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/attribution/config")
	v.AddConfigPath("/etc/attribution")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ATTRIBUTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTrackingConfig()
	v.SetDefault("tracking.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("tracking.sessionTTL", defaults.SessionTTL)
	v.SetDefault("tracking.sweepInterval", defaults.SweepInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeTrackingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticTrackingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeTrackingConfig(v)
		if err != nil {
			log.Printf("[tracking-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tracking-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TrackingConfigHolder) Get() TrackingConfig {
	if h == nil {
		return DefaultTrackingConfig()
	}
	cfg, ok := h.current.Load().(TrackingConfig)
	if !ok {
		return DefaultTrackingConfig()
	}
	return cfg
}

func decodeTrackingConfig(v *viper.Viper) (TrackingConfig, error) {
	var cfg TrackingConfig
	if err := v.UnmarshalKey("tracking", &cfg); err != nil {
		return TrackingConfig{}, err
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if err := validateTrackingConfig(cfg); err != nil {
		return TrackingConfig{}, err
	}
	return cfg, nil
}

func validateTrackingConfig(cfg TrackingConfig) error {
	if len(cfg.DefaultCurrency) != 3 {
		return errors.New("tracking.defaultCurrency must be a three-letter code")
	}
	if cfg.SessionTTL < 0 {
		return errors.New("tracking.sessionTTL cannot be negative")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("tracking.sweepInterval must be positive")
	}
	return nil
}
