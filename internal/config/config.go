package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthTokenTTL     time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	LoginEmailDomain string        `mapstructure:"LOGIN_EMAIL_DOMAIN"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ReportTimezone   string        `mapstructure:"REPORT_TIMEZONE"`
	WebhookURLs      string        `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret    string        `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents    string        `mapstructure:"WEBHOOK_EVENTS"`

	ReexpiryFraction         float64 `mapstructure:"REEXPIRY_FRACTION"`
	ReexpiryMaxMonths        int     `mapstructure:"REEXPIRY_MAX_MONTHS"`
	ReexpiryAvgMonthDays     float64 `mapstructure:"REEXPIRY_AVG_MONTH_DAYS"`
	ReexpiryUnchangedMethods string  `mapstructure:"REEXPIRY_UNCHANGED_METHODS"`
	ReexpiryShortenedMethods string  `mapstructure:"REEXPIRY_SHORTENED_METHODS"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"CORS_ORIGINS",
	"AUTH_SIGNING_KEY",
	"AUTH_TOKEN_TTL",
	"LOGIN_EMAIL_DOMAIN",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"BODY_LIMIT",
	"REQUEST_TIMEOUT",
	"REPORT_TIMEZONE",
	"WEBHOOK_URLS",
	"WEBHOOK_SECRET",
	"WEBHOOK_EVENTS",
	"REEXPIRY_FRACTION",
	"REEXPIRY_MAX_MONTHS",
	"REEXPIRY_AVG_MONTH_DAYS",
	"REEXPIRY_UNCHANGED_METHODS",
	"REEXPIRY_SHORTENED_METHODS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_TOKEN_TTL", "12h")
	v.SetDefault("LOGIN_EMAIL_DOMAIN", "sespa.es")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("REPORT_TIMEZONE", "Europe/Madrid")
	v.SetDefault("WEBHOOK_EVENTS", "*")
	v.SetDefault("REEXPIRY_FRACTION", reexpiry.DefaultFraction)
	v.SetDefault("REEXPIRY_MAX_MONTHS", reexpiry.DefaultMaxMonths)
	v.SetDefault("REEXPIRY_AVG_MONTH_DAYS", reexpiry.DefaultAverageMonthDays)
	v.SetDefault("REEXPIRY_UNCHANGED_METHODS", "1,4")
	v.SetDefault("REEXPIRY_SHORTENED_METHODS", "2,3")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
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

// RequireDatabase reports an error when DATABASE_URL is unset. Commands that
// never connect, such as the re-expiry calculator, skip it.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// ReportLocation resolves REPORT_TIMEZONE, the zone used for report dates
// and day buckets.
func (c *Config) ReportLocation() (*time.Location, error) {
	if c.ReportTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}
	return loc, nil
}

// ReexpiryPolicy builds the re-expiry rule policy from the REEXPIRY_* keys.
func (c *Config) ReexpiryPolicy() (reexpiry.Policy, error) {
	unchanged, err := parseMethodList(c.ReexpiryUnchangedMethods)
	if err != nil {
		return reexpiry.Policy{}, fmt.Errorf("REEXPIRY_UNCHANGED_METHODS: %w", err)
	}
	shortened, err := parseMethodList(c.ReexpiryShortenedMethods)
	if err != nil {
		return reexpiry.Policy{}, fmt.Errorf("REEXPIRY_SHORTENED_METHODS: %w", err)
	}
	p := reexpiry.Policy{
		Fraction:         c.ReexpiryFraction,
		MaxMonths:        c.ReexpiryMaxMonths,
		AverageMonthDays: c.ReexpiryAvgMonthDays,
		Unchanged:        unchanged,
		Shortened:        shortened,
	}
	if err := p.Validate(); err != nil {
		return reexpiry.Policy{}, fmt.Errorf("re-expiry policy: %w", err)
	}
	return p, nil
}

// Webhooks returns the configured webhook URLs and event patterns.
func (c *Config) Webhooks() (urls, events []string) {
	return splitList(c.WebhookURLs), splitList(c.WebhookEvents)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMethodList(s string) ([]reexpiry.MethodID, error) {
	var out []reexpiry.MethodID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid method id %q", part)
		}
		out = append(out, reexpiry.MethodID(id))
	}
	return out, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least 32 bytes is required so issued tokens survive
// restarts and cannot be forged.
func (c *Config) Validate() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if !c.IsDev() && len(key) == 0 {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if len(key) > 0 && len(key) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive, got %s", c.AuthTokenTTL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if _, err := c.ReportLocation(); err != nil {
		return err
	}
	if _, err := c.ReexpiryPolicy(); err != nil {
		return err
	}
	return nil
}
