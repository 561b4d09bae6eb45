package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OAuthClient is one provider's OAuth application.
type OAuthClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
}

type Config struct {
	Server struct {
		Address    string        `mapstructure:"address"`
		HTTPPort   string        `mapstructure:"http_port"`
		SessionKey string        `mapstructure:"session_key"`
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`  // debug|info|warn|error
		Format string `mapstructure:"format"` // text|json
	} `mapstructure:"logs"`

	Store struct {
		Driver string `mapstructure:"driver"` // mongo|redis|memory
		// SealKey is a base64 32-byte key; empty stores tokens unsealed.
		SealKey string `mapstructure:"seal_key"`
	} `mapstructure:"store"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	OAuth struct {
		ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
		StateTTL        time.Duration `mapstructure:"state_ttl"`
		Google          OAuthClient   `mapstructure:"google"`
	} `mapstructure:"oauth"`

	Billing struct {
		TrialPlan   string        `mapstructure:"trial_plan"`
		TrialPeriod time.Duration `mapstructure:"trial_period"`
	} `mapstructure:"billing"`

	Providers struct {
		Timeout           time.Duration `mapstructure:"timeout"`
		PageSpeedStrategy string        `mapstructure:"pagespeed_strategy"`
	} `mapstructure:"providers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.session_key", "")
	v.SetDefault("server.session_ttl", 24*time.Hour)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.seal_key", "")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "linkguard")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("oauth.exchange_timeout", 15*time.Second)
	v.SetDefault("oauth.state_ttl", 10*time.Minute)
	v.SetDefault("oauth.google.client_id", "")
	v.SetDefault("oauth.google.client_secret", "")
	v.SetDefault("oauth.google.redirect_url", "")
	v.SetDefault("oauth.google.auth_url", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("oauth.google.token_url", "https://oauth2.googleapis.com/token")

	v.SetDefault("billing.trial_plan", "STARTER")
	v.SetDefault("billing.trial_period", 14*24*time.Hour)

	v.SetDefault("providers.timeout", 30*time.Second)
	v.SetDefault("providers.pagespeed_strategy", "mobile")
}

// Load reads config from env and an optional YAML file, over defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "linkguard"))
		}
		v.AddConfigPath("/etc/linkguard")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	if len(c.Server.SessionKey) < 16 {
		return errors.New("server.session_key must be at least 16 characters")
	}
	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database are required for the mongo store")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis.address is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q must be mongo, redis or memory", c.Store.Driver)
	}
	if c.Store.SealKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Store.SealKey)
		if err != nil || len(key) != 32 {
			return errors.New("store.seal_key must be a base64 encoded 32 byte key")
		}
	}
	if c.Billing.TrialPeriod <= 0 {
		return errors.New("billing.trial_period must be positive")
	}
	if c.OAuth.Google.ClientID == "" || c.OAuth.Google.ClientSecret == "" {
		return errors.New("oauth.google.client_id and oauth.google.client_secret must be set")
	}
	if c.OAuth.Google.RedirectURL == "" {
		return errors.New("oauth.google.redirect_url must be set")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Address + ":" + c.Server.HTTPPort
}

// Logger builds the process logger from the logs section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
