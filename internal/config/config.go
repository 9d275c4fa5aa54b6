// Package config loads and hot-watches the core's on-disk configuration,
// layered env > config/default.yaml > built-in defaults, grounded
// on the teacher pack's viper-based agent config loaders.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Encoder policy names, mirrored from the encoder package to avoid an
// import cycle (encoder.Policy is the canonical type; this is just the
// config-layer string it is parsed from).
const (
	EncoderPolicyAuto    = "auto"
	EncoderPolicyGPUOnly = "gpu_only"
	EncoderPolicyCPUOnly = "cpu_only"
)

// Config is the process-wide configuration snapshot.
type Config struct {
	DataRoot       string        `mapstructure:"data_root" yaml:"data_root"`
	MediaPort      int           `mapstructure:"media_port" yaml:"media_port"`
	TranscoderPath string        `mapstructure:"transcoder_path" yaml:"transcoder_path"`
	EncoderPolicy  string        `mapstructure:"encoder_policy" yaml:"encoder_policy"`
	RedisAddr      string        `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	ScheduleTZ     string        `mapstructure:"schedule_timezone" yaml:"schedule_timezone"`
	LogDevelopment bool          `mapstructure:"log_development" yaml:"log_development"`
	SOAPTimeout    time.Duration `mapstructure:"soap_timeout" yaml:"soap_timeout"`
	HLSPollTimeout time.Duration `mapstructure:"hls_poll_timeout" yaml:"hls_poll_timeout"`
}

func defaults() *Config {
	return &Config{
		DataRoot:       DefaultDataRoot(),
		MediaPort:      38471,
		TranscoderPath: "ffmpeg",
		EncoderPolicy:  EncoderPolicyAuto,
		ScheduleTZ:     "Asia/Tokyo",
		LogDevelopment: false,
		SOAPTimeout:    10 * time.Second,
		HLSPollTimeout: 30 * time.Second,
	}
}

// DefaultDataRoot returns the platform default app-data root. Overridable
// via the CAMDECK_DATA_ROOT environment variable or the data_root config
// key.
func DefaultDataRoot() string {
	if v := os.Getenv("CAMDECK_DATA_ROOT"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./camdeck-data"
	}
	return filepath.Join(dir, "camdeck")
}

// Loader owns the viper instance and supports hot-reload of mutable
// settings (encoder policy today — see SPEC_FULL §9).
type Loader struct {
	v        *viper.Viper
	onChange func(*Config)
}

// Load reads config/default.yaml under dataRoot (if present), then env
// vars prefixed CAMDECK_, producing a fully-defaulted Config.
func Load(configPath string) (*Config, *Loader, error) {
	v := viper.New()
	cfg := defaults()

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.AddConfigPath(filepath.Join(cfg.DataRoot, "config"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CAMDECK")
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about, so each config
	// key is bound to its CAMDECK_ variable explicitly.
	for _, key := range []string{"data_root", "media_port", "transcoder_path", "encoder_policy",
		"redis_addr", "schedule_timezone", "log_development", "soap_timeout", "hls_poll_timeout"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, &Loader{v: v}, nil
}

// Watch starts an fsnotify watch on the resolved config file and invokes
// onChange with the freshly reloaded Config whenever it is rewritten.
// Database connection settings are deliberately not part of Config, so a
// reload can never disturb the store's open handle.
func (l *Loader) Watch(onChange func(*Config)) {
	l.onChange = onChange
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg := defaults()
		if err := l.v.Unmarshal(cfg); err == nil && l.onChange != nil {
			l.onChange(cfg)
		}
	})
	l.v.WatchConfig()
}
