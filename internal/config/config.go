package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string   `mapstructure:"PORT"`
	Env                  string   `mapstructure:"ENV"`
	DatabaseURL          string   `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string   `mapstructure:"REDIS_URL"`
	SessionTTL           int      `mapstructure:"SESSION_TTL"`
	SessionExpireHours   int      `mapstructure:"SESSION_EXPIRE_HOURS"`
	AuditRetentionHours  int      `mapstructure:"AUDIT_LOG_RETENTION_HOURS"`
	DataRetentionHours   int      `mapstructure:"DATA_RETENTION_HOURS"`
	SweepIntervalMinutes int      `mapstructure:"SWEEP_INTERVAL_MINUTES"`
	CORSOrigins          []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled           bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile          string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile           string   `mapstructure:"TLS_KEY_FILE"`
	MigrationsDir        string   `mapstructure:"MIGRATIONS_DIR"`
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
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SESSION_TTL", 86400) // redis flow state, seconds
	v.SetDefault("SESSION_EXPIRE_HOURS", 2)
	v.SetDefault("AUDIT_LOG_RETENTION_HOURS", 24)
	v.SetDefault("DATA_RETENTION_HOURS", 24)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 15)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("SESSION_EXPIRE_HOURS")
	v.BindEnv("AUDIT_LOG_RETENTION_HOURS")
	v.BindEnv("DATA_RETENTION_HOURS")
	v.BindEnv("SWEEP_INTERVAL_MINUTES")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")
	v.BindEnv("MIGRATIONS_DIR")

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

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Set ENV=production before exposing this server to patients.")
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

// Validate checks that the configuration is safe to run. Production refuses
// the development database credentials, and enabling TLS requires both the
// certificate and the key file.
func (c *Config) Validate() error {
	if c.IsProduction() && strings.Contains(c.DatabaseURL, "intake:intake@") {
		return fmt.Errorf("DATABASE_URL uses the default development credentials; " +
			"set a real database password before running in production")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %d", c.SessionTTL)
	}
	if c.SessionExpireHours <= 0 {
		return fmt.Errorf("SESSION_EXPIRE_HOURS must be positive, got %d", c.SessionExpireHours)
	}
	if c.AuditRetentionHours <= 0 {
		return fmt.Errorf("AUDIT_LOG_RETENTION_HOURS must be positive, got %d", c.AuditRetentionHours)
	}
	if c.DataRetentionHours <= 0 {
		return fmt.Errorf("DATA_RETENTION_HOURS must be positive, got %d", c.DataRetentionHours)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
