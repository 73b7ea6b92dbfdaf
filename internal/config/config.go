package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret        string   `mapstructure:"JWT_SECRET"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	OfflineQueuePath string   `mapstructure:"OFFLINE_QUEUE_PATH"`
	RingTimeoutSecs  int      `mapstructure:"RING_TIMEOUT_SECS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("OFFLINE_QUEUE_PATH", "offline_messages.json")
	v.SetDefault("RING_TIMEOUT_SECS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("OFFLINE_QUEUE_PATH")
	v.BindEnv("RING_TIMEOUT_SECS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET not set; using insecure development secret")
		cfg.JWTSecret = "carelink-dev-secret"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RingTimeout is how long an incoming call prompt stays up before the UI
// treats it as unanswered.
func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSecs) * time.Second
}
