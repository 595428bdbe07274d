package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fleet-ledger/pkg/utils"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration required by the API process. Values come
// from the environment, optionally layered over a YAML file named by
// CONFIG_FILE. Secrets are env-only.
type Config struct {
	App     AppConfig     `yaml:"app"`
	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Archive ArchiveConfig `yaml:"archive"`
}

type AppConfig struct {
	Env      string `yaml:"env" env:"APP_ENV"`
	Port     int    `yaml:"port" env:"APP_PORT" env-default:"8080"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

type DBConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"-" env:"DB_PASSWORD"`
	Name     string `yaml:"name" env:"DB_NAME"`

	// SSLMode accepts disable, require, verify-ca, verify-full.
	SSLMode string `yaml:"sslmode" env:"DB_SSLMODE"`

	// MigrationsPath is applied on startup when set.
	MigrationsPath string `yaml:"migrations_path" env:"DB_MIGRATIONS_PATH" env-default:"migrations"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" env-default:"5m"`
}

// Pool returns the database/sql pool settings.
func (d DBConfig) Pool() utils.PostgresPoolConfig {
	return utils.PostgresPoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"-" env:"JWT_SECRET"`
	JWTIssuer       string        `yaml:"issuer" env:"JWT_ISSUER"`
	JWTAudience     string        `yaml:"audience" env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL"`
}

// LedgerConfig tunes the write path.
type LedgerConfig struct {
	MaxBatchSize      int           `yaml:"max_batch_size" env:"LEDGER_MAX_BATCH_SIZE" env-default:"1000"`
	MaxAppendRetries  int           `yaml:"max_append_retries" env:"LEDGER_MAX_APPEND_RETRIES" env-default:"5"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"LEDGER_RETRY_INITIAL_DELAY" env-default:"10ms"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"LEDGER_RETRY_MAX_DELAY" env-default:"500ms"`
	VerifyPageSize    int           `yaml:"verify_page_size" env:"LEDGER_VERIFY_PAGE_SIZE" env-default:"500"`

	// TenantWriteCap bounds in-flight write requests per tenant; 0 disables it.
	TenantWriteCap int           `yaml:"tenant_write_cap" env:"LEDGER_TENANT_WRITE_CAP" env-default:"8"`
	WriteSlotTTL   time.Duration `yaml:"write_slot_ttl" env:"LEDGER_WRITE_SLOT_TTL" env-default:"30s"`
}

// ArchiveConfig points at the bucket receiving audit archives. An empty
// bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket" env:"ARCHIVE_S3_BUCKET"`
	Region    string `yaml:"region" env:"ARCHIVE_S3_REGION" env-default:"us-east-1"`
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_S3_ENDPOINT"`
	AccessKey string `yaml:"-" env:"ARCHIVE_S3_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"ARCHIVE_S3_SECRET_KEY"`
	PathStyle bool   `yaml:"path_style" env:"ARCHIVE_S3_PATH_STYLE" env-default:"false"`
}

func Load() (*Config, error) {
	c := &Config{}
	var err error
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		err = cleanenv.ReadConfig(path, c)
	} else {
		err = cleanenv.ReadEnv(c)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks semantic rules and fills defaults that depend on APP_ENV.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	if c.DB.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DB.MaxOpenConns))
	}
	if c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.DB.MaxIdleConns, c.DB.MaxOpenConns))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Ledger.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_BATCH_SIZE must be positive, got %d", c.Ledger.MaxBatchSize))
	}
	if c.Ledger.MaxAppendRetries < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_APPEND_RETRIES must not be negative, got %d", c.Ledger.MaxAppendRetries))
	}
	if c.Ledger.RetryMaxDelay < c.Ledger.RetryInitialDelay {
		errs = append(errs, errors.New("LEDGER_RETRY_MAX_DELAY must not be below LEDGER_RETRY_INITIAL_DELAY"))
	}
	if c.Ledger.VerifyPageSize <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_VERIFY_PAGE_SIZE must be positive, got %d", c.Ledger.VerifyPageSize))
	}
	if c.Ledger.TenantWriteCap < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_TENANT_WRITE_CAP must not be negative, got %d", c.Ledger.TenantWriteCap))
	}
	if c.Ledger.TenantWriteCap > 0 && c.Ledger.WriteSlotTTL <= 0 {
		errs = append(errs, errors.New("LEDGER_WRITE_SLOT_TTL is required when the write cap is enabled"))
	}

	if c.Archive.Bucket != "" && c.Archive.AccessKey != "" && c.Archive.SecretKey == "" {
		errs = append(errs, errors.New("ARCHIVE_S3_SECRET_KEY is required with ARCHIVE_S3_ACCESS_KEY"))
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresDSN contains the password; never log it.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Bucket != ""
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
