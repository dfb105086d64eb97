package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Ledger   LedgerConfig
}

type AppConfig struct {
	Port        string
	GinMode     string
	JWTSecret   string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// RedisConfig is optional; an empty Addr keeps locking in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// LedgerConfig carries the business-policy switches of the ledger engines.
type LedgerConfig struct {
	DefaultVATRate           decimal.Decimal
	VATTaxType               string
	AllowClosingOverdraft    bool
	BlockLockOnOpenOverrides bool
}

// Load reads configs/.env (if present) and the process environment.
// Priority: environment variables, then .env values, then built-in defaults.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing file is fine, plain environment is enough
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	rate, err := decimal.NewFromString(v.GetString("LEDGER_DEFAULT_VAT_RATE"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_DEFAULT_VAT_RATE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Port:        v.GetString("PORT"),
			GinMode:     v.GetString("GIN_MODE"),
			JWTSecret:   v.GetString("JWT_SECRET"),
			CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetInt("DB_PORT"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			DBName:     v.GetString("DB_NAME"),
			SSLMode:    v.GetString("DB_SSLMODE"),
			SQLitePath: v.GetString("DB_SQLITE_PATH"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			LockTTL:  v.GetDuration("LOCK_TTL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Ledger: LedgerConfig{
			DefaultVATRate:           rate,
			VATTaxType:               v.GetString("LEDGER_VAT_TAX_TYPE"),
			AllowClosingOverdraft:    v.GetBool("LEDGER_ALLOW_CLOSING_OVERDRAFT"),
			BlockLockOnOpenOverrides: v.GetBool("LEDGER_BLOCK_LOCK_ON_OPEN_OVERRIDES"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.App.JWTSecret == "" {
		cfg.App.JWTSecret = "dev_only_secret_key" // Development fallback, rejected in release mode above
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_SQLITE_PATH", "ledger.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOCK_TTL", "30s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("LEDGER_DEFAULT_VAT_RATE", "0.15")
	v.SetDefault("LEDGER_VAT_TAX_TYPE", "VAT_INLAND")
	v.SetDefault("LEDGER_ALLOW_CLOSING_OVERDRAFT", false)
	v.SetDefault("LEDGER_BLOCK_LOCK_ON_OPEN_OVERRIDES", false)
}

func (c *Config) validate() error {
	if c.App.GinMode == "release" && c.App.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in release mode")
	}
	if c.Ledger.DefaultVATRate.IsNegative() || c.Ledger.DefaultVATRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("LEDGER_DEFAULT_VAT_RATE must be between 0 and 1, got %s", c.Ledger.DefaultVATRate)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Redis.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	return nil
}

// DSN returns the postgres connection string with escaped credentials
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
