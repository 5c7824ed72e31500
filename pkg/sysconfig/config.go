// Package sysconfig holds the process-wide configuration registry (C3):
// a boot-time env snapshot merged with DB-stored overrides for a
// whitelisted key set, mutated through a single write-through setter.
package sysconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis client used for RPM rate limiting.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Address() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	CORSOrigins     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// VaultConfig configures the C1 crypto vault.
type VaultConfig struct {
	Key string
}

// GoogleOAuthConfig holds the system default Google OAuth client used when
// a credential carries no client_id/client_secret of its own.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// DiscordOAuthConfig configures the optional Discord login flow.
type DiscordOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OpenAIPassthroughConfig configures the optional raw `/openai/*` proxy.
type OpenAIPassthroughConfig struct {
	APIKey  string
	APIBase string
}

// SESConfig configures the owner-notification email sender.
type SESConfig struct {
	Enabled     bool
	Region      string
	FromAddress string
}

// AuthConfig configures password login JWTs.
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
}

// Config is the full process configuration, assembled once at boot from
// the environment. The mutable subset (Tunables) is layered on top by the
// Registry in registry.go.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Vault    VaultConfig
	Google   GoogleOAuthConfig
	Discord  DiscordOAuthConfig
	OpenAI   OpenAIPassthroughConfig
	SES      SESConfig
	Auth     AuthConfig
}

// Load reads Config from the environment.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "gcaproxy"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			Debug:           getEnvBool("DEBUG", false),
		},
		Vault: VaultConfig{
			Key: getEnv("VAULT_KEY", ""),
		},
		Google: GoogleOAuthConfig{
			ClientID:     getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_OAUTH_CLIENT_SECRET", ""),
		},
		Discord: DiscordOAuthConfig{
			ClientID:     getEnv("DISCORD_CLIENT_ID", ""),
			ClientSecret: getEnv("DISCORD_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("DISCORD_REDIRECT_URL", ""),
		},
		OpenAI: OpenAIPassthroughConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			APIBase: getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"),
		},
		SES: SESConfig{
			Enabled:     getEnvBool("SES_ENABLED", false),
			Region:      getEnv("SES_REGION", "us-east-1"),
			FromAddress: getEnv("SES_FROM_ADDRESS", "noreply@gcaproxy.local"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TTL", 24*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(v) == "true" || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := str2duration.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
