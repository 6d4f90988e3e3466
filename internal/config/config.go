package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VIEWER_API_KEY
const EnvPrefix = "VIEWER"

// Config represents the application configuration
type Config struct {
	APIURL             string        `mapstructure:"api_url"`
	APIKey             string        `mapstructure:"api_key"`
	AuthorizationLevel int           `mapstructure:"authorization_level"`
	PageSize           int           `mapstructure:"page_size"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	FetchRetries       uint64        `mapstructure:"fetch_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
	DetailCacheSize    int           `mapstructure:"detail_cache_size"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
}

var keys = []string{
	"api_url",
	"api_key",
	"authorization_level",
	"page_size",
	"request_timeout",
	"fetch_retries",
	"retry_backoff",
	"breaker_failures",
	"breaker_cooldown",
	"detail_cache_size",
	"log_level",
	"log_format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("authorization_level", 1)
	v.SetDefault("page_size", 1000)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("fetch_retries", 2)
	v.SetDefault("retry_backoff", 500*time.Millisecond)
	v.SetDefault("breaker_failures", 5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("detail_cache_size", 128)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// LoadDotEnv loads a .env file into the process environment when it exists.
// Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from an optional TOML file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		// Unmarshal only sees env values for bound keys
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.APIURL == "" {
		errs = multierror.Append(errs, errors.New("api_url is required"))
	} else if u, err := url.Parse(c.APIURL); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("api_url is not a valid URL: %w", err))
	} else if !u.IsAbs() || u.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("api_url %q must be an absolute URL", c.APIURL))
	}
	if c.APIKey == "" {
		errs = multierror.Append(errs, errors.New("api_key is required"))
	}
	if c.AuthorizationLevel < 0 {
		errs = multierror.Append(errs, errors.New("authorization_level must not be negative"))
	}
	if c.PageSize <= 0 {
		errs = multierror.Append(errs, errors.New("page_size must be positive"))
	}
	if c.DetailCacheSize <= 0 {
		errs = multierror.Append(errs, errors.New("detail_cache_size must be positive"))
	}
	if c.RequestTimeout < 0 {
		errs = multierror.Append(errs, errors.New("request_timeout must not be negative"))
	}

	return errs.ErrorOrNil()
}

// BaseURL returns the API URL without a trailing slash
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/")
}
