// Package config holds the application's configuration, loaded through
// viper from an optional skiplink.yaml and SKIPLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zannhost/skiplink/fingerprint"
)

// EnvPrefix prefixes every environment override, e.g. SKIPLINK_SERVER_ADDR
const EnvPrefix = "SKIPLINK"

// Config is the root configuration structure
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Transport TransportConfig `mapstructure:"transport"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggerConfig holds the logger settings
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// TransportConfig holds HTTP client settings
type TransportConfig struct {
	Preset             string        `mapstructure:"preset"`
	JA3                string        `mapstructure:"ja3"`
	Akamai             string        `mapstructure:"akamai"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Proxy              string        `mapstructure:"proxy"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxRedirects       int           `mapstructure:"max_redirects"`
	Nameserver         string        `mapstructure:"nameserver"`
	KeyLogFile         string        `mapstructure:"key_log_file"`

	PreferIPv4               bool `mapstructure:"prefer_ipv4"`
	DisableSessionResumption bool `mapstructure:"disable_session_resumption"`
	DisableHTTP2             bool `mapstructure:"disable_http2"`
}

// ResolverConfig holds the upstream endpoints and flow behaviour
type ResolverConfig struct {
	Site        string `mapstructure:"site"`
	RedirectURL string `mapstructure:"redirect_url"`
	BypassURL   string `mapstructure:"bypass_url"`
	VerifyURL   string `mapstructure:"verify_url"`
	GoURL       string `mapstructure:"go_url"`
	SiteKey     string `mapstructure:"site_key"`
	Lenient     bool   `mapstructure:"lenient"`
}

// ServerConfig holds the HTTP endpoint settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Metrics         bool          `mapstructure:"metrics"`

	// CORSOrigins enables CORS for the listed origins; "*" allows any
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimit caps /api requests per second across all clients; 0 disables
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// SetDefaults registers default values on v. Every key gets one, even if
// empty, so that AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "skiplink")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.log_file", "")

	v.SetDefault("transport.preset", fingerprint.DefaultPreset)
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.max_redirects", 10)
	v.SetDefault("transport.ja3", "")
	v.SetDefault("transport.akamai", "")
	v.SetDefault("transport.disable_http2", false)
	v.SetDefault("transport.proxy", "")
	v.SetDefault("transport.insecure_skip_verify", false)
	v.SetDefault("transport.nameserver", "")
	v.SetDefault("transport.key_log_file", "")
	v.SetDefault("transport.prefer_ipv4", false)
	v.SetDefault("transport.disable_session_resumption", false)

	v.SetDefault("resolver.site", "https://tutwuri.id")
	v.SetDefault("resolver.bypass_url", "https://tursite.vercel.app/bypass")
	v.SetDefault("resolver.redirect_url", "")
	v.SetDefault("resolver.verify_url", "")
	v.SetDefault("resolver.go_url", "")
	v.SetDefault("resolver.site_key", "0x4AAAAAAAfjzEk6sEUVcFw1")
	v.SetDefault("resolver.lenient", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 3)
}

// NewViper returns a viper instance with defaults and environment binding
// applied. configFile may be empty, in which case ./skiplink.yaml is read
// if present.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("skiplink")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format))
	}

	if !fingerprint.Has(c.Transport.Preset) {
		errs = append(errs, fmt.Errorf("transport.preset %q is unknown (available: %s)",
			c.Transport.Preset, strings.Join(fingerprint.Available(), ", ")))
	}
	if c.Transport.JA3 != "" {
		if _, err := fingerprint.ParseJA3(c.Transport.JA3); err != nil {
			errs = append(errs, fmt.Errorf("transport.ja3: %w", err))
		}
	}
	if c.Transport.Akamai != "" {
		if _, _, err := fingerprint.ParseAkamai(c.Transport.Akamai); err != nil {
			errs = append(errs, fmt.Errorf("transport.akamai: %w", err))
		}
	}
	if c.Transport.Timeout <= 0 {
		errs = append(errs, errors.New("transport.timeout must be positive"))
	}
	if c.Transport.Proxy != "" {
		if err := checkURL(c.Transport.Proxy, "http", "https", "socks5", "socks5h"); err != nil {
			errs = append(errs, fmt.Errorf("transport.proxy: %w", err))
		}
	}

	for name, raw := range map[string]string{
		"resolver.site":         c.Resolver.Site,
		"resolver.redirect_url": c.Resolver.RedirectURL,
		"resolver.bypass_url":   c.Resolver.BypassURL,
		"resolver.verify_url":   c.Resolver.VerifyURL,
		"resolver.go_url":       c.Resolver.GoURL,
	} {
		if raw == "" {
			continue
		}
		if err := checkURL(raw, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Resolver.Site == "" {
		errs = append(errs, errors.New("resolver.site is required"))
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate limiting"))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q: scheme must be one of %s", raw, strings.Join(schemes, ", "))
}
