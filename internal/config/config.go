package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StateStorePostgres = "postgres"
	StateStoreRedis    = "redis"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	DBAutoMigrate        bool
	StateStore           string
	StateTTL             time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ServiceName          string
	SelfDomain           string
	LoginTokenTTL        time.Duration
	LoginRedirectURL     string
	LoginRedirectPath    string
	AllowedPrefsSize     int64
	Google               ProviderEndpoints
	SSORateLimitRPM      int
	PrefsRateLimitRPM    int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// ProviderEndpoints describes one OAuth2 provider. Client credentials are seeded into
// sso_provider at startup; requests read them back from the database.
type ProviderEndpoints struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURI  string
	Scopes       []string
}

// Providers returns the endpoint set for every configured provider keyed by name.
func (c Config) Providers() map[string]ProviderEndpoints {
	return map[string]ProviderEndpoints{c.Google.Name: c.Google}
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "3000"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBAutoMigrate:     getBool("DB_AUTO_MIGRATE", true),
		StateStore:        strings.ToLower(getEnv("STATE_STORE", StateStorePostgres)),
		StateTTL:          getDuration("STATE_TTL", 10*time.Minute),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		ServiceName:       getEnv("SERVICE_NAME", "personal-data-server"),
		SelfDomain:        getEnv("SELF_DOMAIN", "http://localhost:3000"),
		LoginTokenTTL:     time.Duration(getInt("LOGIN_TOKEN_EXPIRES_IN", 86400)) * time.Second,
		LoginRedirectURL:  strings.TrimSpace(os.Getenv("LOGIN_REDIRECT_URL")),
		LoginRedirectPath: getEnv("LOGIN_REDIRECT_PATH", "/api/redirect"),
		AllowedPrefsSize:  int64(getInt("ALLOWED_PREFS_SIZE", 10240)),
		Google: ProviderEndpoints{
			Name:         "google",
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			AuthURL:      getEnv("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
			TokenURL:     getEnv("GOOGLE_TOKEN_URL", "https://accounts.google.com/o/oauth2/token"),
			UserInfoURL:  getEnv("GOOGLE_USERINFO_URL", "https://www.googleapis.com/oauth2/v2/userinfo"),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:3000/sso/google/login/callback"),
			Scopes:       getList("GOOGLE_SCOPES", []string{"openid", "profile", "email"}),
		},
		SSORateLimitRPM:      getInt("SSO_RATE_LIMIT_RPM", 60),
		PrefsRateLimitRPM:    getInt("PREFS_RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.StateStore != StateStorePostgres && cfg.StateStore != StateStoreRedis {
		return Config{}, fmt.Errorf("STATE_STORE must be %q or %q", StateStorePostgres, StateStoreRedis)
	}
	if cfg.LoginTokenTTL <= 0 {
		return Config{}, fmt.Errorf("LOGIN_TOKEN_EXPIRES_IN must be positive")
	}
	if cfg.AllowedPrefsSize <= 0 {
		return Config{}, fmt.Errorf("ALLOWED_PREFS_SIZE must be positive")
	}
	if cfg.LoginRedirectURL != "" {
		if u, err := url.Parse(cfg.LoginRedirectURL); err != nil || !u.IsAbs() {
			return Config{}, fmt.Errorf("LOGIN_REDIRECT_URL must be an absolute url")
		}
	}
	cfg.SelfDomain = strings.TrimRight(cfg.SelfDomain, "/")

	return cfg, nil
}

// EdgeConfig configures the edge proxy an external site runs in front of its pages.
type EdgeConfig struct {
	Environment       string
	HTTPPort          string
	PDSURL            string
	ServiceName       string
	Timeout           time.Duration
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// LoadEdge reads the edge proxy configuration.
func LoadEdge() (EdgeConfig, error) {
	_ = godotenv.Load()

	cfg := EdgeConfig{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("EDGE_HTTP_PORT", "3001"),
		PDSURL:            strings.TrimRight(getEnv("PDS_URL", "http://localhost:3000"), "/"),
		ServiceName:       getEnv("SERVICE_NAME", "pds-edge-proxy"),
		Timeout:           getDuration("PDS_TIMEOUT", 10*time.Second),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}
	if u, err := url.Parse(cfg.PDSURL); err != nil || !u.IsAbs() {
		return EdgeConfig{}, fmt.Errorf("PDS_URL must be an absolute url")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
