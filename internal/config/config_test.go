package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig(env string) *Config {
	return &Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "fleet", MaxOpenConns: 25, MaxIdleConns: 25},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Ledger: LedgerConfig{
			MaxBatchSize:      1000,
			MaxAppendRetries:  5,
			RetryInitialDelay: 10 * time.Millisecond,
			RetryMaxDelay:     500 * time.Millisecond,
			VerifyPageSize:    500,
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := &Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET", "LEDGER_MAX_BATCH_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "fleet", "fleet-api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %s", c.Auth.AccessTokenTTL)
	}
	if c.ArchiveEnabled() {
		t.Fatalf("archive should be off without a bucket")
	}
}

func TestValidate_WriteCapNeedsTTL(t *testing.T) {
	c := validConfig("dev")
	c.Ledger.TenantWriteCap = 4
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "LEDGER_WRITE_SLOT_TTL") {
		t.Fatalf("expected write slot ttl error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "fleet")
	t.Setenv("DB_NAME", "fleet")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("JWT_SECRET", "s3cr3t")
	t.Setenv("LEDGER_MAX_BATCH_SIZE", "250")
	t.Setenv("ARCHIVE_S3_BUCKET", "audit-archive")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 8080 || c.DB.Port != 5432 || c.Redis.Port != 6379 {
		t.Fatalf("expected default ports, got %d/%d/%d", c.App.Port, c.DB.Port, c.Redis.Port)
	}
	if c.Ledger.MaxBatchSize != 250 || c.Ledger.RetryInitialDelay != 10*time.Millisecond {
		t.Fatalf("unexpected ledger config %+v", c.Ledger)
	}
	if !c.ArchiveEnabled() || c.Archive.Region != "us-east-1" {
		t.Fatalf("unexpected archive config %+v", c.Archive)
	}
	if c.RedisAddr() != "cache:6379" {
		t.Fatalf("redis addr %q", c.RedisAddr())
	}
	if p := c.DB.Pool(); p.MaxOpenConns != 25 || p.ConnMaxLifetime != 30*time.Minute || p.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected pool defaults %+v", p)
	}
}

func TestValidate_PoolLimits(t *testing.T) {
	c := validConfig("dev")
	c.DB.MaxOpenConns, c.DB.MaxIdleConns = 4, 10
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_MAX_IDLE_CONNS") {
		t.Fatalf("expected idle conns error, got %v", err)
	}
	c.DB.MaxOpenConns = 0
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_MAX_OPEN_CONNS") {
		t.Fatalf("expected open conns error, got %v", err)
	}
}

func TestLoad_YAMLWithEnvSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `app:
  env: staging
  port: 9090
db:
  host: db.internal
  user: fleet
  name: fleet
  sslmode: require
redis:
  host: cache.internal
ledger:
  max_batch_size: 50
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "from-env")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.DB.Host != "db.internal" || c.Ledger.MaxBatchSize != 50 {
		t.Fatalf("yaml values not applied: %+v", c)
	}
	if c.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected secret from env")
	}
}
