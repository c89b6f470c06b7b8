package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	// SecretKey signs and verifies bearer tokens.
	SecretKey string `mapstructure:"secret_key"`
}

type RedisConfig struct {
	Host     string         `mapstructure:"host"`
	Port     int            `mapstructure:"port"`
	Password string         `mapstructure:"password"`
	DB       int            `mapstructure:"db"`
	PoolSize int            `mapstructure:"pool_size"`
	TLS      RedisTLSConfig `mapstructure:"tls"`
}

type RateLimitConfig struct {
	Namespace            string            `mapstructure:"namespace"`
	KeyPrefixes          KeyPrefixesConfig `mapstructure:"key_prefixes"`
	FailOpenTimeout      time.Duration     `mapstructure:"fail_open_timeout"`
	FailClosedTimeout    time.Duration     `mapstructure:"fail_closed_timeout"`
	FailClosedRetryAfter time.Duration     `mapstructure:"fail_closed_retry_after"`
	ExpiryJitter         time.Duration     `mapstructure:"expiry_jitter"`
	// TrustedProxies accepts a YAML list or a comma-delimited string.
	TrustedProxies      []string      `mapstructure:"trusted_proxies"`
	DegradedLogInterval time.Duration `mapstructure:"degraded_log_interval"`
	DegradedLogBurst    int           `mapstructure:"degraded_log_burst"`
	EmailHashSecret     string        `mapstructure:"email_hash_secret"`
	Store               StoreConfig   `mapstructure:"store"`
	Breaker             BreakerConfig `mapstructure:"breaker"`
	// Overrides is decoded per key prefix when routes are registered.
	Overrides map[string]interface{} `mapstructure:"overrides"`
}

type KeyPrefixesConfig struct {
	User  string `mapstructure:"user"`
	IP    string `mapstructure:"ip"`
	Email string `mapstructure:"email"`
}

type StoreConfig struct {
	Strategy      string `mapstructure:"strategy"`
	CASMaxRetries int    `mapstructure:"cas_max_retries"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

var globalConfig Config

var defaults = map[string]interface{}{
	"server.host":                        "0.0.0.0",
	"server.port":                        8080,
	"server.metrics_port":                9090,
	"server.secret_key":                  "",
	"metrics.enabled":                    true,
	"redis.host":                         "localhost",
	"redis.port":                         6379,
	"redis.password":                     "",
	"redis.db":                           0,
	"redis.pool_size":                    64,
	"redis.tls.enabled":                  false,
	"redis.tls.ca_cert":                  "",
	"redis.tls.certificate":              "",
	"redis.tls.private_key":              "",
	"redis.tls.insecure_skip_verify":     false,
	"redis.tls.max_version":              "TLS13",
	"rate_limit.namespace":               "rl",
	"rate_limit.key_prefixes.user":       "user",
	"rate_limit.key_prefixes.ip":         "ip",
	"rate_limit.key_prefixes.email":      "email",
	"rate_limit.fail_open_timeout":       50 * time.Millisecond,
	"rate_limit.fail_closed_timeout":     500 * time.Millisecond,
	"rate_limit.fail_closed_retry_after": 5 * time.Second,
	"rate_limit.expiry_jitter":           10 * time.Second,
	"rate_limit.trusted_proxies":         []string{},
	"rate_limit.degraded_log_interval":   30 * time.Second,
	"rate_limit.degraded_log_burst":      10,
	"rate_limit.email_hash_secret":       "",
	"rate_limit.store.strategy":          "script",
	"rate_limit.store.cas_max_retries":   16,
	"rate_limit.breaker.max_failures":    5,
	"rate_limit.breaker.open_timeout":    10 * time.Second,
}

// Load reads config.yaml from configPath (or ./config, or .) and applies
// environment overrides such as RATE_LIMIT_FAIL_OPEN_TIMEOUT. A missing file
// is not an error: defaults and environment are enough to run.
func Load(configPath string) error {
	cfg, err := load(configPath)
	if err != nil {
		return err
	}
	globalConfig = *cfg
	return nil
}

// Read loads a fresh copy of the configuration without touching the one
// returned by GetConfig.
func Read(configPath string) (*Config, error) {
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file config.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.RateLimit.TrustedProxies = splitList(cfg.RateLimit.TrustedProxies)
	return &cfg, nil
}

// splitList flattens comma-delimited entries and drops blanks.
func splitList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func GetConfig() *Config {
	return &globalConfig
}
