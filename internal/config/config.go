// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// unsafeSecrets are placeholder HS256 secrets that must never reach production.
var unsafeSecrets = map[string]bool{
	"":                        true,
	"secret":                  true,
	"changeme":                true,
	"CHANGE_ME_IN_PRODUCTION": true,
}

// Config holds application configuration loaded from the environment.
// It is built once in main and passed by pointer; components never read the environment themselves.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the JSON API listens on (e.g. :8200).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`

	// DatabaseURL is the Postgres DSN.
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns  int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns  int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBTimeoutString string `mapstructure:"DB_TIMEOUT"`

	// JWTAlgorithm selects the signing mode: HS256 (shared secret) or RS256/ES256 (key pair).
	JWTAlgorithm string `mapstructure:"JWT_ALGORITHM"`
	// JWTSecret is the HS256 shared secret.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTSecretID is the kid stamped on HS256 tokens.
	JWTSecretID string `mapstructure:"JWT_SECRET_ID"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTKeyID is the kid of the active signing key.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTPreviousPublicKey is the public key retired by the last rotation, kept for JWTKeyGrace.
	JWTPreviousPublicKey string `mapstructure:"JWT_PREVIOUS_PUBLIC_KEY"`
	JWTPreviousKeyID     string `mapstructure:"JWT_PREVIOUS_KEY_ID"`
	JWTKeyGraceString    string `mapstructure:"JWT_KEY_GRACE"`
	JWTIssuer            string `mapstructure:"JWT_ISSUER"`
	JWTAudience          string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "60m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// EmailCodeTTLString is how long an email confirmation code stays valid.
	EmailCodeTTLString string `mapstructure:"EMAIL_CODE_TTL"`

	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
	// RateLimitAuthRPM limits register/login/refresh per client IP per minute.
	RateLimitAuthRPM int `mapstructure:"RATE_LIMIT_AUTH_RPM"`
	// RateLimitAPIRPM limits every other API call per client IP per minute.
	RateLimitAPIRPM int `mapstructure:"RATE_LIMIT_API_RPM"`
	// RedisURL enables the shared Redis rate limiter; empty uses an in-process limiter.
	RedisURL string `mapstructure:"REDIS_URL"`

	// NATSURL enables event publishing; empty disables NATS.
	NATSURL string `mapstructure:"NATS_URL"`
	// NATSNkeySeed is an optional nkey user seed for NATS authentication.
	NATSNkeySeed string `mapstructure:"NATS_NKEY_SEED"`
	// NATSUserJWT is an optional decentralized-auth user JWT, signed with NATSNkeySeed.
	NATSUserJWT string `mapstructure:"NATS_USER_JWT"`
	// EventsCodec is the wire encoding for events: json or msgpack.
	EventsCodec string `mapstructure:"EVENTS_CODEC"`

	// InternalAPIToken guards /internal routes; empty disables them.
	InternalAPIToken string `mapstructure:"INTERNAL_API_TOKEN"`

	// OTLPEndpoint is the OTLP gRPC collector; empty uses no-op providers.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8200")
	v.SetDefault("GRPC_ADDR", ":8201")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_SECRET_ID", "hs-1")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "identity-1")
	v.SetDefault("JWT_PREVIOUS_PUBLIC_KEY", "")
	v.SetDefault("JWT_PREVIOUS_KEY_ID", "")
	v.SetDefault("JWT_KEY_GRACE", "168h") // covers the refresh TTL
	v.SetDefault("JWT_ISSUER", "identity")
	v.SetDefault("JWT_AUDIENCE", "identity-api")
	v.SetDefault("JWT_ACCESS_TTL", "60m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("EMAIL_CODE_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_AUTH_RPM", 20)
	v.SetDefault("RATE_LIMIT_API_RPM", 300)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_NKEY_SEED", "")
	v.SetDefault("NATS_USER_JWT", "")
	v.SetDefault("EVENTS_CODEC", "json")
	v.SetDefault("INTERNAL_API_TOKEN", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "identity")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	c.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(c.JWTAlgorithm))
	switch c.JWTAlgorithm {
	case "HS256":
		if c.IsProduction() && (unsafeSecrets[c.JWTSecret] || len(c.JWTSecret) < 32) {
			return errors.New("config: JWT_SECRET must be a random value of at least 32 bytes when APP_ENV=production")
		}
	case "RS256", "ES256":
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set for " + c.JWTAlgorithm)
		}
		if c.JWTPreviousPublicKey != "" && (c.JWTPreviousKeyID == "" || c.JWTPreviousKeyID == c.JWTKeyID) {
			return errors.New("config: JWT_PREVIOUS_KEY_ID must be set and differ from JWT_KEY_ID")
		}
	default:
		return errors.New("config: JWT_ALGORITHM must be HS256, RS256 or ES256")
	}
	switch c.EventsCodec {
	case "json", "msgpack":
	default:
		return errors.New("config: EVENTS_CODEC must be json or msgpack")
	}
	if c.RateLimitAuthRPM < 0 || c.RateLimitAPIRPM < 0 {
		return errors.New("config: RATE_LIMIT_*_RPM must not be negative")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 60m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 60*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// KeyGrace is how long a rotated-out verification key stays valid.
func (c *Config) KeyGrace() time.Duration {
	return parseDuration(c.JWTKeyGraceString, 168*time.Hour)
}

// DBTimeout bounds every store call.
func (c *Config) DBTimeout() time.Duration {
	return parseDuration(c.DBTimeoutString, 5*time.Second)
}

// EmailCodeTTL parses EmailCodeTTLString. Returns 24h if unset or invalid.
func (c *Config) EmailCodeTTL() time.Duration {
	return parseDuration(c.EmailCodeTTLString, 24*time.Hour)
}

// CORSOriginList returns allowed origins from the comma-separated config.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
