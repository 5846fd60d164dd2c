package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultFacility string        `mapstructure:"DEFAULT_FACILITY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	JWTSigningKey   string        `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	ClinicTimezone  string        `mapstructure:"CLINIC_TIMEZONE"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	DoctorCacheTTL  time.Duration `mapstructure:"DOCTOR_CACHE_TTL"`
	NATSURL         string        `mapstructure:"NATS_URL"`
	NATSStream      string        `mapstructure:"NATS_STREAM"`
	OTLPEndpoint    string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName     string        `mapstructure:"SERVICE_NAME"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_FACILITY", "default")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("DOCTOR_CACHE_TTL", "5m")
	v.SetDefault("NATS_STREAM", "OPD_QUEUE")
	v.SetDefault("SERVICE_NAME", "opd-server")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DEFAULT_FACILITY", "CORS_ORIGINS", "JWT_SIGNING_KEY", "AUTH_ISSUER",
		"AUTH_AUDIENCE", "CLINIC_TIMEZONE", "REDIS_URL", "DOCTOR_CACHE_TTL",
		"NATS_URL", "NATS_STREAM", "OTEL_EXPORTER_OTLP_ENDPOINT", "SERVICE_NAME",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, every request acts as an admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the clinic time zone. "Today" for the queue and the
// wall clock used for slot assignment are both evaluated in it.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.DoctorCacheTTL < 0 {
		return fmt.Errorf("DOCTOR_CACHE_TTL must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	return nil
}
