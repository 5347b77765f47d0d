// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// TrustedProxies is a comma-separated list of CIDRs or addresses allowed to set
	// x-forwarded-for and x-real-ip. Empty means the peer address is always the client.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is host:port of the Redis used for OTP challenges and rate-limit counters.
	// Empty selects the in-process store, which only works for a single instance.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL and JWTRefreshTTL accept Go durations ("15m"), integer seconds ("900") or days ("7d").
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTSecret is a single HS256 master secret. Access and refresh keys are derived from it
	// (or from whichever one of JWTAccessSecret/JWTRefreshSecret is set) unless both are set.
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTRefreshPrivateKey/PublicKey sign refresh tokens with a separate asymmetric pair. Optional.
	JWTRefreshPrivateKey string `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`

	OTPTTL string `mapstructure:"OTP_TTL"`

	RateLimitPhoneMax    int    `mapstructure:"RATE_LIMIT_PHONE_MAX"`
	RateLimitPhoneWindow string `mapstructure:"RATE_LIMIT_PHONE_WINDOW"`
	RateLimitIPMax       int    `mapstructure:"RATE_LIMIT_IP_MAX"`
	RateLimitIPWindow    string `mapstructure:"RATE_LIMIT_IP_WINDOW"`

	LockoutThreshold int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  string `mapstructure:"LOCKOUT_DURATION"`

	// StandingPolicyFile optionally replaces the embedded Rego standing policy.
	StandingPolicyFile string `mapstructure:"STANDING_POLICY_FILE"`

	// SMSLocalAPIKey is the API key for SMS Local. Required unless OTPDevMode is set.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPDevMode records codes in memory instead of sending SMS. Rejected when Env is production.
	OTPDevMode bool `mapstructure:"OTP_DEV_MODE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// OTelEndpoint is the OTLP gRPC collector address; empty disables exporters.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// OTelInsecure forces plaintext even for https endpoints.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	accessTTL       time.Duration
	refreshTTL      time.Duration
	otpTTL          time.Duration
	phoneWindow     time.Duration
	ipWindow        time.Duration
	lockoutDuration time.Duration
	trustedProxies  []string
}

var defaults = map[string]any{
	"GRPC_ADDR":                   ":8080",
	"TRUSTED_PROXIES":             "",
	"DATABASE_URL":                "",
	"REDIS_ADDR":                  "",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"REDIS_PREFIX":                "phoneauth:",
	"JWT_ISSUER":                  "phone-auth",
	"JWT_AUDIENCE":                "phone-auth-api",
	"JWT_ACCESS_TTL":              "1h",
	"JWT_REFRESH_TTL":             "7d",
	"JWT_SECRET":                  "",
	"JWT_ACCESS_SECRET":           "",
	"JWT_REFRESH_SECRET":          "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_REFRESH_PRIVATE_KEY":     "",
	"JWT_REFRESH_PUBLIC_KEY":      "",
	"OTP_TTL":                     "5m",
	"RATE_LIMIT_PHONE_MAX":        3,
	"RATE_LIMIT_PHONE_WINDOW":     "10m",
	"RATE_LIMIT_IP_MAX":           10,
	"RATE_LIMIT_IP_WINDOW":        "1h",
	"LOCKOUT_THRESHOLD":           5,
	"LOCKOUT_DURATION":            "30m",
	"STANDING_POLICY_FILE":        "",
	"SMS_LOCAL_API_KEY":           "",
	"SMS_LOCAL_SENDER":            "",
	"SMS_LOCAL_BASE_URL":          "https://app.smslocal.in/api/smsapi",
	"OTP_DEV_MODE":                false,
	"APP_ENV":                     "",
	"LOG_LEVEL":                   "info",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_SERVICE_NAME":           "phone-auth",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Every duration is parsed here so
// a garbled value fails startup instead of silently falling back.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about, so every key needs a default.
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

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
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.OTPDevMode && c.IsProduction() {
		return errors.New("config: OTP_DEV_MODE must not be true when APP_ENV=production")
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"JWT_ACCESS_TTL", c.JWTAccessTTL, &c.accessTTL},
		{"JWT_REFRESH_TTL", c.JWTRefreshTTL, &c.refreshTTL},
		{"OTP_TTL", c.OTPTTL, &c.otpTTL},
		{"RATE_LIMIT_PHONE_WINDOW", c.RateLimitPhoneWindow, &c.phoneWindow},
		{"RATE_LIMIT_IP_WINDOW", c.RateLimitIPWindow, &c.ipWindow},
		{"LOCKOUT_DURATION", c.LockoutDuration, &c.lockoutDuration},
	}
	for _, d := range durations {
		parsed, err := ParseTTL(d.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if c.refreshTTL <= c.accessTTL {
		return errors.New("config: JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}

	if c.RateLimitPhoneMax <= 0 || c.RateLimitIPMax <= 0 {
		return errors.New("config: RATE_LIMIT_PHONE_MAX and RATE_LIMIT_IP_MAX must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if (c.JWTRefreshPrivateKey == "") != (c.JWTRefreshPublicKey == "") {
		return errors.New("config: JWT_REFRESH_PRIVATE_KEY and JWT_REFRESH_PUBLIC_KEY must be set together")
	}
	if c.RedisDB < 0 {
		return errors.New("config: REDIS_DB must not be negative")
	}
	c.trustedProxies = nil
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("config: TRUSTED_PROXIES: %q is not an IP or CIDR", p)
			}
		}
		c.trustedProxies = append(c.trustedProxies, p)
	}
	return nil
}

// ParseTTL parses a lifetime given as a Go duration ("15m", "1h30m"), integer seconds ("900")
// or whole days ("7d"). The result must be a positive whole number of seconds.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	var d time.Duration
	switch {
	case isDigits(s):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n > maxUnits(time.Second) {
			return 0, fmt.Errorf("invalid seconds %q", s)
		}
		d = time.Duration(n) * time.Second
	case strings.HasSuffix(s, "d") && isDigits(strings.TrimSuffix(s, "d")):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "d"), 10, 64)
		if err != nil || n > maxUnits(day) {
			return 0, fmt.Errorf("invalid days %q", s)
		}
		d = time.Duration(n) * day
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("duration %q must be at least 1s", s)
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("duration %q must be a whole number of seconds", s)
	}
	return d, nil
}

const day = 24 * time.Hour

// maxUnits is the largest count of unit that fits in a time.Duration.
func maxUnits(unit time.Duration) int64 {
	return math.MaxInt64 / int64(unit)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// TrustedProxyList is the validated TRUSTED_PROXIES entries.
func (c *Config) TrustedProxyList() []string { return c.trustedProxies }

// AccessTTL is the validated access token lifetime.
func (c *Config) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL is the validated refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration { return c.refreshTTL }

// OTPChallengeTTL is the validated OTP challenge lifetime.
func (c *Config) OTPChallengeTTL() time.Duration { return c.otpTTL }

// PhoneRateWindow is the validated per-phone rate-limit window.
func (c *Config) PhoneRateWindow() time.Duration { return c.phoneWindow }

// IPRateWindow is the validated per-IP rate-limit window.
func (c *Config) IPRateWindow() time.Duration { return c.ipWindow }

// LockDuration is the validated account lock duration.
func (c *Config) LockDuration() time.Duration { return c.lockoutDuration }

// UsesAsymmetricKeys reports whether RS256/ES256 PEM keys are configured for access tokens.
func (c *Config) UsesAsymmetricKeys() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

// HasTokenKeys reports whether any signing material is configured.
func (c *Config) HasTokenKeys() bool {
	return c.UsesAsymmetricKeys() || c.JWTSecret != "" || c.JWTAccessSecret != "" || c.JWTRefreshSecret != ""
}
