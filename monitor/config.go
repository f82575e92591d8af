package monitor

import (
	"time"

	"exam-integrity-monitor/capture"
	"exam-integrity-monitor/enforcement"
	"exam-integrity-monitor/identity"
	"exam-integrity-monitor/images"
)

// Config holds the per-session monitoring parameters.
type Config struct {
	MaxTabSwitches    int           `mapstructure:"max_tab_switches"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	VerifyInterval    time.Duration `mapstructure:"verify_interval"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
	FrameInterval     time.Duration `mapstructure:"frame_interval"`
	MaxInFlight       int64         `mapstructure:"max_in_flight"`
	JPEGQuality       int           `mapstructure:"jpeg_quality"`
	MaxFrameWidth     int           `mapstructure:"max_frame_width"`
	MaxFrameHeight    int           `mapstructure:"max_frame_height"`
	DiscardOutOfOrder bool          `mapstructure:"discard_out_of_order"`
}

func DefaultConfig() Config {
	return Config{
		MaxTabSwitches: enforcement.DefaultMaxTabSwitches,
		GracePeriod:    enforcement.DefaultGracePeriod,
		VerifyInterval: identity.DefaultInterval,
		DebounceWindow: enforcement.DefaultDebounceWindow,
		FrameInterval:  capture.DefaultFrameInterval,
		MaxInFlight:    4,
		JPEGQuality:    images.DefaultJPEGQuality,
		MaxFrameWidth:  640,
		MaxFrameHeight: 480,
	}
}

// withDefaults fills every unset field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTabSwitches <= 0 {
		c.MaxTabSwitches = d.MaxTabSwitches
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = d.VerifyInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.MaxFrameWidth <= 0 {
		c.MaxFrameWidth = d.MaxFrameWidth
	}
	if c.MaxFrameHeight <= 0 {
		c.MaxFrameHeight = d.MaxFrameHeight
	}
	return c
}
