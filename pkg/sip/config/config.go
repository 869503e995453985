// Package config holds the stack configuration and loads it from YAML files
// and SIPUA_* environment variables.
package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tanbro/sipua/pkg/sip/auth"
)

// Version is stamped into the default User-Agent. Overridden at link time.
var Version = "0.1.0"

const (
	FamilyInet  = "inet"
	FamilyInet6 = "inet6"

	TransportUDP = "udp"
	TransportTCP = "tcp"

	CallbackSimple = "simple"
	CallbackPool   = "pool"

	FormatConsole = "console"
	FormatDev     = "dev"
	FormatJSON    = "json"
	FormatText    = "text"
)

// Credential is a digest credential entry.
type Credential = auth.Credential

// Config is the complete stack configuration.
type Config struct {
	UserAgent     string           `mapstructure:"user_agent" yaml:"user_agent"`
	Listen        ListenConfig     `mapstructure:"listen" yaml:"listen"`
	Masquerade    MasqueradeConfig `mapstructure:"masquerade" yaml:"masquerade"`
	Callbacks     CallbackConfig   `mapstructure:"callbacks" yaml:"callbacks"`
	Timers        TimerConfig      `mapstructure:"timers" yaml:"timers"`
	PollInterval  time.Duration    `mapstructure:"poll_interval" yaml:"poll_interval"`
	Credentials   []Credential     `mapstructure:"credentials" yaml:"credentials,omitempty"`
	Log           LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics       MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	StrictParsing bool             `mapstructure:"strict_parsing" yaml:"strict_parsing"`
}

// ListenConfig is the local socket the transport binds.
type ListenConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Family    string `mapstructure:"family" yaml:"family"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	ReuseAddr bool   `mapstructure:"reuse_addr" yaml:"reuse_addr"`
}

// HostPort returns the bind address in host:port form.
func (l ListenConfig) HostPort() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// Network returns the Go network name, for example "udp4".
func (l ListenConfig) Network() string {
	if l.Family == FamilyInet6 {
		return l.Transport + "6"
	}
	return l.Transport + "4"
}

// MasqueradeConfig overrides the address advertised in Via and Contact.
type MasqueradeConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
	Port    int    `mapstructure:"port" yaml:"port,omitempty"`
}

// CallbackConfig selects where listener callbacks run.
type CallbackConfig struct {
	Mode    string `mapstructure:"mode" yaml:"mode"`
	Workers int    `mapstructure:"workers" yaml:"workers"`
}

// TimerConfig holds the RFC 3261 base timers and the call no-answer timer.
type TimerConfig struct {
	T1       time.Duration `mapstructure:"t1" yaml:"t1"`
	T2       time.Duration `mapstructure:"t2" yaml:"t2"`
	T4       time.Duration `mapstructure:"t4" yaml:"t4"`
	NoAnswer time.Duration `mapstructure:"no_answer" yaml:"no_answer"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level" yaml:"level"`
	Format string        `mapstructure:"format" yaml:"format"`
	File   LogFileConfig `mapstructure:"file" yaml:"file"`
}

// LogFileConfig enables a rotating log file when Path is set.
type LogFileConfig struct {
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Address   string `mapstructure:"address" yaml:"address"`
}

// DefaultUserAgent is the User-Agent header sent when none is configured.
func DefaultUserAgent() string {
	return fmt.Sprintf("sipua/%s (%s/%s)", Version, runtime.GOARCH, runtime.GOOS)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		UserAgent: DefaultUserAgent(),
		Listen: ListenConfig{
			Port:      5060,
			Family:    FamilyInet,
			Transport: TransportUDP,
		},
		Callbacks: CallbackConfig{
			Mode:    CallbackSimple,
			Workers: 4,
		},
		Timers: TimerConfig{
			T1:       500 * time.Millisecond,
			T2:       4 * time.Second,
			T4:       5 * time.Second,
			NoAnswer: 3 * time.Minute,
		},
		PollInterval: 50 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: FormatConsole,
			File: LogFileConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Metrics: MetricsConfig{
			Namespace: "sipua",
			Address:   ":9090",
		},
	}
}

// Validate lowercases the enumerated fields, then checks every field and
// returns the first problem as *Error.
func (c *Config) Validate() error {
	c.normalize()
	if c.UserAgent == "" {
		return invalid("user_agent", c.UserAgent, "must not be empty")
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return invalid("listen.port", c.Listen.Port, "must be between 0 and 65535")
	}
	if a := c.Listen.Address; a != "" && net.ParseIP(a) == nil && !isHostname(a) {
		return invalid("listen.address", a, "must be an IP address or a host name")
	}
	switch c.Listen.Family {
	case FamilyInet, FamilyInet6:
	default:
		return invalid("listen.family", c.Listen.Family, "must be inet or inet6")
	}
	switch c.Listen.Transport {
	case TransportUDP, TransportTCP:
	default:
		return invalid("listen.transport", c.Listen.Transport, "must be udp or tcp")
	}
	if c.Masquerade.Port < 0 || c.Masquerade.Port > 65535 {
		return invalid("masquerade.port", c.Masquerade.Port, "must be between 0 and 65535")
	}
	switch c.Callbacks.Mode {
	case CallbackSimple:
	case CallbackPool:
		if c.Callbacks.Workers < 1 {
			return invalid("callbacks.workers", c.Callbacks.Workers, "must be at least 1 in pool mode")
		}
	default:
		return invalid("callbacks.mode", c.Callbacks.Mode, "must be simple or pool")
	}
	if err := c.Timers.validate(); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return invalid("poll_interval", c.PollInterval, "must be positive")
	}
	for i, cred := range c.Credentials {
		if cred.Username == "" {
			return invalid(fmt.Sprintf("credentials[%d].username", i), cred.Username, "must not be empty")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case FormatConsole, FormatDev, FormatJSON, FormatText:
	default:
		return invalid("log.format", c.Log.Format, "must be console, dev, json or text")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace", c.Metrics.Namespace, "must not be empty when metrics are enabled")
	}
	return nil
}

func (c *Config) normalize() {
	for _, f := range []*string{
		&c.Listen.Family, &c.Listen.Transport, &c.Callbacks.Mode, &c.Log.Level, &c.Log.Format,
	} {
		*f = strings.ToLower(strings.TrimSpace(*f))
	}
}

// isHostname checks RFC 1123 host name syntax.
func isHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			b := label[i]
			if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-') {
				return false
			}
		}
	}
	return true
}

func (t TimerConfig) validate() error {
	if t.T1 <= 0 {
		return invalid("timers.t1", t.T1, "must be positive")
	}
	if t.T2 < t.T1 {
		return invalid("timers.t2", t.T2, "must not be shorter than t1")
	}
	if t.T4 <= 0 {
		return invalid("timers.t4", t.T4, "must be positive")
	}
	if t.NoAnswer <= 0 {
		return invalid("timers.no_answer", t.NoAnswer, "must be positive")
	}
	return nil
}
