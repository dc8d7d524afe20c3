package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "FLASHLINK"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "flashlink.db"
	defaultLogLevel     = "info"
	defaultCacheTTL     = time.Minute
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	IdentityAPIBaseURL string
	IdentityAPIKey     string
	ActivityAPIBaseURL string
	SecretKeyHex       string
	AdminSecret        string
	CacheTTL           time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("stats.cache_ttl", defaultCacheTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		IdentityAPIBaseURL: configViper.GetString("identity.base_url"),
		IdentityAPIKey:     configViper.GetString("identity.api_key"),
		ActivityAPIBaseURL: configViper.GetString("activity.base_url"),
		SecretKeyHex:       configViper.GetString("signer.secret_key"),
		AdminSecret:        configViper.GetString("admin.secret"),
		CacheTTL:           configViper.GetDuration("stats.cache_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.IdentityAPIBaseURL) == "" {
		return fmt.Errorf("identity.base_url is required")
	}
	if strings.TrimSpace(c.IdentityAPIKey) == "" {
		return fmt.Errorf("identity.api_key is required")
	}
	if strings.TrimSpace(c.ActivityAPIBaseURL) == "" {
		return fmt.Errorf("activity.base_url is required")
	}
	if strings.TrimSpace(c.AdminSecret) == "" {
		return fmt.Errorf("admin.secret is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("stats.cache_ttl must be positive")
	}
	// signer.secret_key is intentionally not required here. A server without
	// it can still initiate signups and serve reads; finalization reports the
	// missing key when it is first needed.
	return nil
}
