package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	Media MediaConfig `mapstructure:"media"`
}

type MediaConfig struct {
	// AudioMaxBitrate is the single audio encoding tier.
	AudioMaxBitrate uint64 `mapstructure:"audio_max_bitrate"`
	// VideoMaxBitrates are the simulcast-style encoding tiers, high to low.
	VideoMaxBitrates []uint64 `mapstructure:"video_max_bitrates"`

	EnabledCodecs []CodecSpec `mapstructure:"enabled_codecs"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

// RTPHeaderExtensions advertised for locally produced tracks.
type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

func NewConfig() *Config {
	return &Config{
		ServerURL:      "wss://algolounge.com/voice",
		ConnectTimeout: 30 * time.Second,
		Media: MediaConfig{
			AudioMaxBitrate:  100_000,
			VideoMaxBitrates: []uint64{5_000_000, 1_000_000, 300_000},
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
	}
}

// DefaultHeaderExtensions mirrors what the send transport negotiates.
func DefaultHeaderExtensions() RTPHeaderExtensionConfig {
	return RTPHeaderExtensionConfig{
		Audio: []string{
			sdp.SDESMidURI,
			sdp.AudioLevelURI,
		},
		Video: []string{
			sdp.SDESMidURI,
			sdp.SDESRTPStreamIDURI,
			sdp.TransportCCURI,
		},
	}
}

// Load reads configuration from an optional yaml file and ALGOLOUNGE_*
// environment variables on top of the defaults.
func Load(configFile string) (*Config, error) {
	defaults := NewConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ALGOLOUNGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", defaults.ServerURL)
	v.SetDefault("auth_token", "")
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("media.audio_max_bitrate", defaults.Media.AudioMaxBitrate)
	v.SetDefault("media.video_max_bitrates", defaults.Media.VideoMaxBitrates)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Media.EnabledCodecs) == 0 {
		cfg.Media.EnabledCodecs = defaults.Media.EnabledCodecs
	}

	return cfg, nil
}
