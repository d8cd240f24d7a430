package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable via STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	StoreBackend string
	DatabaseURL  string
	SQLitePath   string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string

	UploadDir                  string
	CORSOrigins                []string
	Debug                      bool
	MaxMessagesPerConversation int

	CallRingSeconds      int
	PresenceGraceSeconds int
	SendBufferSize       int
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "codechat")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "codechat"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		StoreBackend: getEnv("STORE_BACKEND", StoreMemory),
		DatabaseURL:  u.String(),
		SQLitePath:   getEnv("SQLITE_PATH", "codechat.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),

		UploadDir:                  getEnv("UPLOAD_DIR", "uploads"),
		Debug:                      getEnvAsBool("DEBUG", true),
		MaxMessagesPerConversation: getEnvAsInt("MAX_MESSAGES_PER_CONVERSATION", 1000),

		CallRingSeconds:      getEnvAsInt("CALL_RING_SECONDS", 30),
		PresenceGraceSeconds: getEnvAsInt("PRESENCE_GRACE_SECONDS", 5),
		SendBufferSize:       getEnvAsInt("WS_SEND_BUFFER", 64),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RingWindow is how long a session may stay in calling before it is
// ended as missed.
func (c *Config) RingWindow() time.Duration {
	return time.Duration(c.CallRingSeconds) * time.Second
}

// PresenceGrace is the delay between a user's last disconnect and the
// offline broadcast, so reconnects do not flap presence.
func (c *Config) PresenceGrace() time.Duration {
	return time.Duration(c.PresenceGraceSeconds) * time.Second
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
