package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "LOBBYBOARD"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "lobbyboard.db"
	defaultLogLevel           = "info"
	defaultTokenIssuer        = "lobbyboard-auth"
	defaultTokenAudience      = "lobbyboard-api"
	defaultTokenTTLMinutes    = 14400
	defaultRealtimeSendBuffer = 256

	// DriverSQLite selects the embedded SQLite database.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server reached through database.dsn.
	DriverPostgres = "postgres"
)

var (
	defaultPrivilegedRoles      = []string{"teacher", "admin"}
	defaultFullyPrivilegedRoles = []string{"admin"}
	defaultAllowedOrigins       = []string{"*"}
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabaseDriver        string
	DatabasePath          string
	DatabaseDSN           string
	LogLevel              string
	SigningSecret         string
	TokenIssuer           string
	TokenAudience         string
	TokenTTL              time.Duration
	PrivilegedRoles       []string
	FullyPrivilegedRoles  []string
	RedisURL              string
	AllowedOrigins        []string
	RealtimeSendBuffer    int
	// RealtimeCanonicalEcho broadcasts stored notes instead of client payloads.
	RealtimeCanonicalEcho bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("roles.privileged", defaultPrivilegedRoles)
	configViper.SetDefault("roles.fully_privileged", defaultFullyPrivilegedRoles)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("realtime.send_buffer", defaultRealtimeSendBuffer)
	configViper.SetDefault("realtime.canonical_echo", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		LogLevel:              configViper.GetString("log.level"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		TokenIssuer:           configViper.GetString("auth.issuer"),
		TokenAudience:         configViper.GetString("auth.audience"),
		TokenTTL:              time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		PrivilegedRoles:       normalizeList(configViper.GetStringSlice("roles.privileged")),
		FullyPrivilegedRoles:  normalizeList(configViper.GetStringSlice("roles.fully_privileged")),
		RedisURL:              strings.TrimSpace(configViper.GetString("redis.url")),
		AllowedOrigins:        normalizeList(configViper.GetStringSlice("cors.allowed_origins")),
		RealtimeSendBuffer:    configViper.GetInt("realtime.send_buffer"),
		RealtimeCanonicalEcho: configViper.GetBool("realtime.canonical_echo"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if len(c.FullyPrivilegedRoles) == 0 {
		return fmt.Errorf("roles.fully_privileged must name at least one role")
	}
	if c.RealtimeSendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	return nil
}

// viper returns comma separated env values as a single element.
func normalizeList(values []string) []string {
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				normalized = append(normalized, trimmed)
			}
		}
	}
	return normalized
}
