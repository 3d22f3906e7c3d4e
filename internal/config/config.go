// Package config loads service configuration from an optional YAML file and
// SELLEROPS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBaseURL = "https://api.mercadolibre.com"
	DefaultTokenURL   = "https://api.mercadolibre.com/oauth/token"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Upstream UpstreamConfig `yaml:"upstream"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Token    TokenConfig    `yaml:"token"`
	Cache    CacheConfig    `yaml:"cache"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port string `yaml:"port" validate:"required,numeric"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`
	Issuer    string `yaml:"issuer"`
}

type UpstreamConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	TokenURL string        `yaml:"token_url" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// OAuthConfig is the process-wide app registration used when an account has none.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id" validate:"required_with=ClientSecret"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
}

type TokenConfig struct {
	RefreshWindow   time.Duration `yaml:"refresh_window" validate:"gt=0"`
	// RefreshInterval drives the background refresh loop; 0 disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Database: DatabaseConfig{Path: "sellerops.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{Issuer: "sellerops"},
		Upstream: UpstreamConfig{
			BaseURL:  DefaultAPIBaseURL,
			TokenURL: DefaultTokenURL,
			Timeout:  30 * time.Second,
		},
		Token: TokenConfig{
			RefreshWindow:   5 * time.Minute,
			RefreshInterval: 2 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"SELLEROPS_HOST":          &cfg.Server.Host,
		"SELLEROPS_PORT":          &cfg.Server.Port,
		"SELLEROPS_DB_PATH":       &cfg.Database.Path,
		"SELLEROPS_LOG_LEVEL":     &cfg.Log.Level,
		"SELLEROPS_LOG_FORMAT":    &cfg.Log.Format,
		"SELLEROPS_JWT_SECRET":    &cfg.Auth.JWTSecret,
		"SELLEROPS_JWT_ISSUER":    &cfg.Auth.Issuer,
		"SELLEROPS_API_BASE_URL":  &cfg.Upstream.BaseURL,
		"SELLEROPS_TOKEN_URL":     &cfg.Upstream.TokenURL,
		"SELLEROPS_CLIENT_ID":     &cfg.OAuth.ClientID,
		"SELLEROPS_CLIENT_SECRET": &cfg.OAuth.ClientSecret,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SELLEROPS_UPSTREAM_TIMEOUT": &cfg.Upstream.Timeout,
		"SELLEROPS_REFRESH_WINDOW":   &cfg.Token.RefreshWindow,
		"SELLEROPS_REFRESH_INTERVAL": &cfg.Token.RefreshInterval,
		"SELLEROPS_CACHE_TTL":        &cfg.Cache.TTL,
		"SELLEROPS_CACHE_SWEEP":      &cfg.Cache.SweepInterval,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}
