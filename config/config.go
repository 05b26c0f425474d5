// Package config loads worker settings from a .env file and environment variables.
// Environment variables always take precedence over .env file values.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Checkpoint backends.
const (
	CheckpointFile = "file"
	CheckpointS3   = "s3"
)

// Config holds all worker configuration.
type Config struct {
	// PostgreSQL – either set DatabaseURL directly, or the individual fields.
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	// Racing API
	APIBaseURL     string
	APIUsername    string
	APIPassword    string
	APIRPS         float64
	APIMaxAttempts int
	APITimeout     time.Duration

	// Backfill bookkeeping
	CheckpointBackend string
	CheckpointDir     string
	ErrorLogPath      string
	UnitMaxAttempts   int

	// S3/MinIO – used when CheckpointBackend is "s3".
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Status API
	JWTSecret string
	Port      string

	Debug bool
}

// Load reads configuration from a .env file (if present) and then from
// environment variables. Environment variables always win.
func Load() (*Config, error) {
	v := newViper()

	// Defaults
	v.SetDefault("DB_USER", "darkhorses")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "darkhorses")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("RACING_API_BASE_URL", "https://api.theracingapi.com")
	v.SetDefault("RACING_API_RPS", 2.0)
	v.SetDefault("RACING_API_MAX_ATTEMPTS", 5)
	v.SetDefault("RACING_API_TIMEOUT", "30s")
	v.SetDefault("CHECKPOINT_BACKEND", CheckpointFile)
	v.SetDefault("CHECKPOINT_DIR", "logs/checkpoints")
	v.SetDefault("ERROR_LOG_PATH", "logs/backfill_errors.jsonl")
	v.SetDefault("UNIT_MAX_ATTEMPTS", 3)
	v.SetDefault("S3_BUCKET", "darkhorses")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("PORT", ":9000")
	v.SetDefault("DEBUG", false)

	cfg := &Config{
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DBUser:            v.GetString("DB_USER"),
		DBPass:            v.GetString("DB_PASS"),
		DBHost:            v.GetString("DB_HOST"),
		DBPort:            v.GetString("DB_PORT"),
		DBName:            v.GetString("DB_NAME"),
		DBSSLMode:         v.GetString("DB_SSLMODE"),
		APIBaseURL:        strings.TrimRight(v.GetString("RACING_API_BASE_URL"), "/"),
		APIUsername:       v.GetString("RACING_API_USERNAME"),
		APIPassword:       v.GetString("RACING_API_PASSWORD"),
		APIRPS:            v.GetFloat64("RACING_API_RPS"),
		APIMaxAttempts:    v.GetInt("RACING_API_MAX_ATTEMPTS"),
		APITimeout:        v.GetDuration("RACING_API_TIMEOUT"),
		CheckpointBackend: strings.ToLower(strings.TrimSpace(v.GetString("CHECKPOINT_BACKEND"))),
		CheckpointDir:     v.GetString("CHECKPOINT_DIR"),
		ErrorLogPath:      v.GetString("ERROR_LOG_PATH"),
		UnitMaxAttempts:   v.GetInt("UNIT_MAX_ATTEMPTS"),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3AccessKey:       v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:       v.GetString("S3_SECRET_KEY"),
		S3Bucket:          v.GetString("S3_BUCKET"),
		S3UseSSL:          v.GetBool("S3_USE_SSL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		Port:              v.GetString("PORT"),
		Debug:             v.GetBool("DEBUG"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresDSN returns the full PostgreSQL connection string.
// DATABASE_URL takes precedence over individual fields.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

// RequireAPI reports an error when Racing API credentials are missing.
// Only the commands that talk to the API call it.
func (c *Config) RequireAPI() error {
	if c.APIUsername == "" || c.APIPassword == "" {
		return errors.New("config: RACING_API_USERNAME and RACING_API_PASSWORD must be set")
	}
	return nil
}

// RequireJWT reports an error when the status API signing secret is missing.
func (c *Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	return nil
}

// RequireDB reports an error when no database credentials are configured.
// Status checks and dry runs never open the database, so Load leaves this
// to the callers that do.
func (c *Config) RequireDB() error {
	if c.DatabaseURL == "" && c.DBPass == "" {
		return errors.New("config: DATABASE_URL or DB_PASS must be set")
	}
	return nil
}

func (c *Config) validate() error {
	if c.APIRPS <= 0 {
		return fmt.Errorf("config: RACING_API_RPS must be positive, got %v", c.APIRPS)
	}
	if c.APIMaxAttempts < 1 || c.UnitMaxAttempts < 1 {
		return errors.New("config: RACING_API_MAX_ATTEMPTS and UNIT_MAX_ATTEMPTS must be at least 1")
	}
	switch c.CheckpointBackend {
	case CheckpointFile:
	case CheckpointS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return errors.New("config: S3_ENDPOINT and S3_BUCKET must be set for the s3 checkpoint backend")
		}
	default:
		return fmt.Errorf("config: unknown CHECKPOINT_BACKEND %q", c.CheckpointBackend)
	}
	return nil
}

func newViper() *viper.Viper {
	// Silently load .env – OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}
