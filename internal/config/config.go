package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// TokenConfig drives the token codec and token lifetimes.
type TokenConfig struct {
	Secret     string
	Algorithm  string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ClockSkew  time.Duration
}

// Config holds every setting of the auth service.
type Config struct {
	Env      string
	LogLevel string
	Version  string

	HTTPAddr       string
	GRPCAddr       string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	RateLimitBurst int
	RateLimitRPS   float64

	DatabaseURL    string
	SessionBackend string
	SessionCheck   bool
	SweepSchedule  string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	OTelEndpoint string
	OTelInsecure bool

	Token TokenConfig

	// SecretGenerated is set when TOKEN_SECRET was empty outside production
	// and a per-process secret was generated instead.
	SecretGenerated bool
}

// Load reads .env (if present), then the optional config file, then the
// environment. Environment variables win over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{
		Env:      strings.ToLower(v.GetString("app_env")),
		LogLevel: v.GetString("log_level"),
		Version:  v.GetString("app_version"),

		HTTPAddr:       v.GetString("http_addr"),
		GRPCAddr:       v.GetString("grpc_addr"),
		RequestTimeout: v.GetDuration("request_timeout"),
		MaxBodyBytes:   v.GetInt64("max_body_bytes"),
		CORSOrigins:    splitList(v.GetString("cors_origins")),
		RateLimitBurst: v.GetInt("rate_limit_burst"),
		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),

		DatabaseURL:    v.GetString("database_url"),
		SessionBackend: strings.ToLower(v.GetString("session_backend")),
		SessionCheck:   v.GetBool("session_check"),
		SweepSchedule:  v.GetString("session_sweep_schedule"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),

		OTelEndpoint: v.GetString("otel_endpoint"),
		OTelInsecure: v.GetBool("otel_insecure"),

		Token: TokenConfig{
			Secret:     v.GetString("token_secret"),
			Algorithm:  strings.ToUpper(v.GetString("algorithm")),
			Issuer:     v.GetString("token_issuer"),
			Audience:   v.GetString("token_audience"),
			AccessTTL:  v.GetDuration("access_token_ttl"),
			RefreshTTL: v.GetDuration("refresh_token_ttl"),
			ClockSkew:  v.GetDuration("clock_skew"),
		},
	}

	if cfg.Token.Secret == "" && !cfg.IsProduction() {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Token.Secret = secret
		cfg.SecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_version", "dev")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("cors_origins", "")
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("rate_limit_rps", 5)

	v.SetDefault("database_url", "")
	v.SetDefault("session_backend", BackendPostgres)
	v.SetDefault("session_check", true)
	v.SetDefault("session_sweep_schedule", "@every 15m")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("otel_endpoint", "")
	v.SetDefault("otel_insecure", true)

	v.SetDefault("token_secret", "")
	v.SetDefault("algorithm", "HS256")
	v.SetDefault("token_issuer", "eduportal")
	v.SetDefault("token_audience", "eduportal-api")
	v.SetDefault("access_token_ttl", "15m")
	v.SetDefault("refresh_token_ttl", "168h")
	v.SetDefault("clock_skew", "5s")
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func (c *Config) Validate() error {
	var errs []error
	if c.Token.Secret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required in production"))
	} else if c.IsProduction() && len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("TOKEN_SECRET must be at least 32 bytes in production"))
	}
	switch c.Token.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("ALGORITHM %q is not supported", c.Token.Algorithm))
	}
	if c.Token.AccessTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be > 0"))
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL"))
	}
	if c.Token.ClockSkew < 0 || c.Token.ClockSkew > time.Minute {
		errs = append(errs, errors.New("CLOCK_SKEW must be between 0 and 1m"))
	}
	if c.Token.Issuer == "" || c.Token.Audience == "" {
		errs = append(errs, errors.New("TOKEN_ISSUER and TOKEN_AUDIENCE are required"))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.SessionBackend {
	case BackendPostgres:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis session backend"))
		}
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("memory session backend is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND %q must be one of postgres, redis, memory", c.SessionBackend))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be > 0"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be > 0"))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_RPS must be > 0"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
