package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working directory.
const ConfigPath = "config.yaml"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	Environment string `yaml:"environment"`
	AppBaseURL  string `yaml:"appBaseURL"`
	TimeZone    string `yaml:"timeZone"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTJWKSURL  string `yaml:"jwtJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioPublicURL string `yaml:"minioPublicURL"`

	TwilioAccountSID string `yaml:"twilioAccountSid"`
	TwilioAuthToken  string `yaml:"twilioAuthToken"`
	TwilioFrom       string `yaml:"twilioFrom"`
	TwilioContentSID string `yaml:"twilioContentSid"`

	LegacyProfileID           int64    `yaml:"legacyProfileId"`
	SendIntervalSeconds       int      `yaml:"sendIntervalSeconds"`
	WebhookRateLimitPerMinute int      `yaml:"webhookRateLimitPerMinute"`
	CORSAllowedOrigins        []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to config.yaml). Environment
// variables override file values.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	envString("DIARY_PORT", &cfg.Port)
	envString("DIARY_LOG_LEVEL", &cfg.LogLevel)
	envString("DIARY_LOG_FORMAT", &cfg.LogFormat)
	envString("DIARY_ENV", &cfg.Environment)
	envString("APP_URL", &cfg.AppBaseURL)
	envString("DIARY_TIME_ZONE", &cfg.TimeZone)

	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)

	envString("JWT_SECRET", &cfg.JWTSecret)
	envString("JWT_JWKS_URL", &cfg.JWTJWKSURL)
	envString("JWT_ISSUER", &cfg.JWTIssuer)
	envString("JWT_AUDIENCE", &cfg.JWTAudience)
	envString("JWT_LEEWAY", &cfg.JWTLeeway)

	envString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	envString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	envBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	envString("MINIO_PUBLIC_URL", &cfg.MinioPublicURL)

	envString("TWILIO_ACCOUNT_SID", &cfg.TwilioAccountSID)
	envString("TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken)
	envString("TWILIO_WHATSAPP_FROM", &cfg.TwilioFrom)
	envString("TWILIO_CONTENT_SID", &cfg.TwilioContentSID)

	if v := os.Getenv("DIARY_LEGACY_PROFILE_ID"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.LegacyProfileID = n
		}
	}
	envInt("DIARY_SEND_INTERVAL_SECONDS", &cfg.SendIntervalSeconds)
	envInt("DIARY_WEBHOOK_RATE_LIMIT_PER_MINUTE", &cfg.WebhookRateLimitPerMinute)
	if v := os.Getenv("DIARY_CORS_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DIARY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	if cfg.SendIntervalSeconds == 0 {
		cfg.SendIntervalSeconds = 60
	}
	if cfg.WebhookRateLimitPerMinute == 0 {
		cfg.WebhookRateLimitPerMinute = 30
	}
	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/")
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or DIARY_PORT)")
	}
	if cfg.AppBaseURL == "" {
		return errors.New("config: appBaseURL is required to build webhook URLs (set in config.yaml or APP_URL)")
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("config: environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Environment)
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("config: invalid timeZone %q: %w", cfg.TimeZone, err)
	}
	hasSecret := strings.TrimSpace(cfg.JWTSecret) != ""
	hasJWKS := strings.TrimSpace(cfg.JWTJWKSURL) != ""
	if hasSecret == hasJWKS {
		return errors.New("config: exactly one of jwtSecret and jwtJwksURL is required")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	if cfg.SendIntervalSeconds < 0 || cfg.WebhookRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.LegacyProfileID < 0 {
		return errors.New("config: legacyProfileId must be >= 0")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	if cfg.Environment == EnvProduction {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required in production")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required in production for distributed rate limiting")
		}
		if strings.TrimSpace(cfg.MinioEndpoint) == "" {
			return errors.New("config: minioEndpoint is required in production")
		}
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
			return errors.New("config: twilio credentials are required in production")
		}
	}
	return nil
}

// IsProduction reports whether production-only checks apply.
func (c FileConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// IsDevelopment reports whether development-only endpoints may be exposed.
func (c FileConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Location returns the time zone used for calendar days.
func (c FileConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SendInterval is the minimum gap between two sends to the same number.
func (c FileConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalSeconds) * time.Second
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
