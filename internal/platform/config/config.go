package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	platformstrings "vigil/pkg/platform/strings"
)

// Config captures the full process configuration. It is read once at
// startup; changing any of it requires a restart.
type Config struct {
	Addr string
	Env  string // "development" or "production"

	// EncryptionBaseSecret seeds the cipher key ring. Must be set outside
	// development.
	EncryptionBaseSecret string

	// Credential material per tier. The privileged tier is optional in
	// non-administrative deployments.
	PublicCredential     string
	PrivilegedCredential string

	Rotation RotationPolicy

	// ValidationInterval controls the periodic credential round-trip check.
	// It only applies when the background supervisor is started.
	ValidationInterval time.Duration
	// ValidationTimeout bounds each per-tier backend round-trip so one
	// unreachable backend cannot stall the whole sweep.
	ValidationTimeout time.Duration

	Geo   GeoConfig
	Redis RedisConfig

	// PostgresDSN enables the durable event archive when non-empty.
	PostgresDSN string
}

// RotationPolicy is read-only after load.
type RotationPolicy struct {
	Interval         time.Duration
	WarningThreshold time.Duration
	AutoRotate       bool
	// SweepInterval is how often the scheduler inspects credential and key age.
	SweepInterval time.Duration
	// RevocationGrace keeps superseded material valid long enough for
	// in-flight requests to drain.
	RevocationGrace time.Duration
}

// GeoConfig configures the geo-IP risk classifier.
type GeoConfig struct {
	CityDBPath       string
	ASNDBPath        string
	BlockedCountries []string
	BlockProxies     bool
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Addr:                 envOr("VIGIL_ADDR", ":8080"),
		Env:                  envOr("VIGIL_ENV", "development"),
		EncryptionBaseSecret: os.Getenv("VIGIL_ENCRYPTION_SECRET"),
		PublicCredential:     os.Getenv("VIGIL_PUBLIC_CREDENTIAL"),
		PrivilegedCredential: os.Getenv("VIGIL_PRIVILEGED_CREDENTIAL"),
		Rotation: RotationPolicy{
			Interval:         envDays("VIGIL_ROTATION_INTERVAL_DAYS", 90),
			WarningThreshold: envDays("VIGIL_ROTATION_WARNING_DAYS", 7),
			AutoRotate:       os.Getenv("VIGIL_ROTATION_AUTO") == "true",
			SweepInterval:    envDuration("VIGIL_ROTATION_SWEEP_INTERVAL", 24*time.Hour),
			RevocationGrace:  envDuration("VIGIL_REVOCATION_GRACE", time.Hour),
		},
		ValidationInterval: envDuration("VIGIL_VALIDATION_INTERVAL", 5*time.Minute),
		ValidationTimeout:  envDuration("VIGIL_VALIDATION_TIMEOUT", 10*time.Second),
		Geo: GeoConfig{
			CityDBPath:       os.Getenv("VIGIL_GEO_CITY_DB"),
			ASNDBPath:        os.Getenv("VIGIL_GEO_ASN_DB"),
			BlockedCountries: envList("VIGIL_GEO_BLOCKED_COUNTRIES"),
			BlockProxies:     os.Getenv("VIGIL_GEO_BLOCK_PROXIES") == "true",
		},
		Redis: RedisConfig{
			URL:          os.Getenv("VIGIL_REDIS_URL"),
			PoolSize:     envInt("VIGIL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("VIGIL_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("VIGIL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("VIGIL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("VIGIL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN: os.Getenv("VIGIL_POSTGRES_DSN"),
	}
}

// IsProduction reports whether background validation loops should run.
func (c Config) IsProduction() bool { return c.Env == "production" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDays(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * 24 * time.Hour
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return platformstrings.DedupeAndTrimUpper(strings.Split(v, ","))
}
