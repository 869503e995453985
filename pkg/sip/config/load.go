package config

import (
	"fmt"
	"strings"

	"braces.dev/errtrace"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: listen.port is SIPUA_LISTEN_PORT.
const EnvPrefix = "SIPUA"

// Load reads the YAML file at path, applies SIPUA_* environment overrides
// on top of the defaults and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith is Load on a caller supplied viper instance, so command line
// flags bound to v take precedence over the file.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errtrace.Wrap(fmt.Errorf("read config %s: %w", path, err))
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, errtrace.Wrap(fmt.Errorf("decode config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errtrace.Wrap(err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("user_agent", d.UserAgent)

	v.SetDefault("listen.address", d.Listen.Address)
	v.SetDefault("listen.port", d.Listen.Port)
	v.SetDefault("listen.family", d.Listen.Family)
	v.SetDefault("listen.transport", d.Listen.Transport)
	v.SetDefault("listen.reuse_addr", d.Listen.ReuseAddr)

	v.SetDefault("masquerade.address", d.Masquerade.Address)
	v.SetDefault("masquerade.port", d.Masquerade.Port)

	v.SetDefault("callbacks.mode", d.Callbacks.Mode)
	v.SetDefault("callbacks.workers", d.Callbacks.Workers)

	v.SetDefault("timers.t1", d.Timers.T1)
	v.SetDefault("timers.t2", d.Timers.T2)
	v.SetDefault("timers.t4", d.Timers.T4)
	v.SetDefault("timers.no_answer", d.Timers.NoAnswer)

	v.SetDefault("poll_interval", d.PollInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size", d.Log.File.MaxSize)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age", d.Log.File.MaxAge)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("strict_parsing", d.StrictParsing)
}

// YAML renders the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return out, nil
}
