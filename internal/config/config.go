// Package config loads server and CLI settings.
//
// SOURCES (later wins):
//  1. defaults (setDefaults)
//  2. config.yaml in ".", "./config" or the file passed to Load
//  3. environment: DAO_<SECTION>_<KEY>, e.g. DAO_AUTH_NONCE_TTL=10m,
//     plus the conventional names PORT, JWT_SECRET, CLERK_SECRET_KEY,
//     DB_PATH, APP_ENV and REDIS_ADDR
//
// A .env file (or the file named by ENV_FILE) is loaded into the process
// environment first. Variables already set are never overwritten by it.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/mumbai-dao/internal/apperror"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	minJWTSecretLength = 16
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Social    SocialConfig    `mapstructure:"social"`
	Points    PointsConfig    `mapstructure:"points"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Environment    string        `mapstructure:"environment"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`

	// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
	// X-Forwarded-For / X-Real-IP headers are believed. Empty means none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a
// single-host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, apperror.Misconfigured(fmt.Sprintf("invalid trusted proxy %q", raw))
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, apperror.Misconfigured(fmt.Sprintf("invalid trusted proxy %q", raw))
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	NonceTTL   time.Duration `mapstructure:"nonce_ttl"`
}

// SocialConfig configures the Clerk-backed social account verifier.
// With no secret key the verifier is disabled and connect-social either
// falls back to client-supplied account data or fails.
type SocialConfig struct {
	ClerkSecretKey    string        `mapstructure:"clerk_secret_key"`
	ClerkBaseURL      string        `mapstructure:"clerk_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	AllowMockFallback bool          `mapstructure:"allow_mock_fallback"`
}

type PointsConfig struct {
	ScheduleHour  int           `mapstructure:"schedule_hour"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

type RateLimitConfig struct {
	AuthRequestsPerMinute int `mapstructure:"auth_requests_per_minute"`
	AuthBurst             int `mapstructure:"auth_burst"`
}

// RedisConfig is optional. An empty Addr keeps rate limiting in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, EnvProduction)
}

// Load reads the configuration. configFile may be empty, in which case
// config.yaml is looked up in the default locations and is optional.
func Load(configFile string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("DAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("config: binding environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	// The mock fallback follows the environment unless set explicitly.
	if !v.IsSet("social.allow_mock_fallback") {
		cfg.Social.AllowMockFallback = !cfg.IsProduction()
	}

	return &cfg, nil
}

func loadDotEnv() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// A missing file is normal outside local development.
	_ = godotenv.Load(envFile)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.path", "data/dao.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", "168h")
	v.SetDefault("auth.nonce_ttl", "15m")

	v.SetDefault("social.clerk_secret_key", "")
	v.SetDefault("social.clerk_base_url", "https://api.clerk.com/v1")
	v.SetDefault("social.timeout", "10s")

	v.SetDefault("points.schedule_hour", 0)
	v.SetDefault("points.run_on_start", false)
	v.SetDefault("points.record_timeout", "5s")

	v.SetDefault("ratelimit.auth_requests_per_minute", 20)
	v.SetDefault("ratelimit.auth_burst", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv maps keys to the prefixed name first and the conventional
// unprefixed name second. viper takes the first one that is set.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":                "PORT",
		"server.environment":         "APP_ENV",
		"database.path":              "DB_PATH",
		"auth.jwt_secret":            "JWT_SECRET",
		"social.clerk_secret_key":    "CLERK_SECRET_KEY",
		"social.allow_mock_fallback": "",
		"redis.addr":                 "REDIS_ADDR",
	}
	for key, plain := range bindings {
		names := []string{"DAO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if plain != "" {
			names = append(names, plain)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Auth.JWTSecret == "":
		return apperror.Misconfigured("JWT secret is not set (JWT_SECRET or DAO_AUTH_JWT_SECRET)")
	case len(c.Auth.JWTSecret) < minJWTSecretLength:
		return apperror.Misconfigured(fmt.Sprintf("JWT secret must be at least %d characters", minJWTSecretLength))
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return apperror.Misconfigured(fmt.Sprintf("invalid server port %d", c.Server.Port))
	case c.Database.Path == "":
		return apperror.Misconfigured("database path is empty")
	case c.Auth.NonceTTL <= 0:
		return apperror.Misconfigured("auth.nonce_ttl must be positive")
	case c.Points.ScheduleHour < 0 || c.Points.ScheduleHour > 23:
		return apperror.Misconfigured(fmt.Sprintf("points.schedule_hour must be 0-23, got %d", c.Points.ScheduleHour))
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}
