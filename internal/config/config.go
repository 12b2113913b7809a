package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Doodle    DoodleConfig
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig WebSocket settings
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// CORSConfig CORS settings
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig token validation settings
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// RedisConfig optional room-directory mirror
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DoodleConfig stroke sync engine settings
type DoodleConfig struct {
	RateWindow    time.Duration // fixed rate-limit window per connection
	RateCapacity  int           // events allowed per window
	BufferIdleTTL time.Duration // in-flight stroke abandoned after this
	SyncLimit     int           // max persisted strokes per sync response
	Retention     time.Duration // persisted strokes older than this are purged
}

// Load reads configuration from environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 4096),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Doodle: DoodleConfig{
			RateWindow:    getDuration("DOODLE_RATE_WINDOW", 1*time.Second),
			RateCapacity:  getInt("DOODLE_RATE_CAPACITY", 100),
			BufferIdleTTL: getDuration("DOODLE_BUFFER_IDLE_TTL", 10*time.Minute),
			SyncLimit:     getInt("DOODLE_SYNC_LIMIT", 200),
			Retention:     getDuration("DOODLE_RETENTION", 30*24*time.Hour),
		},
	}
}

// getRequiredEnv fetches a mandatory environment variable (Fatal if missing)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv fetches an environment variable with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt fetches an integer environment variable
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDuration fetches a duration environment variable; bare numbers are seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
