package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds the session store connection settings
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// JWTConfig configures access tokens
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// StorageConfig points at an S3-compatible bucket (MinIO in development)
type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

// KafkaConfig names the broker and the admin event topic
type KafkaConfig struct {
	Broker  string
	Topic   string
	GroupID string
}

// OAuthProvider holds one social login client
type OAuthProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether the provider is configured
func (p OAuthProvider) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// OAuthConfig holds every social login provider
type OAuthConfig struct {
	GitHub      OAuthProvider
	Google      OAuthProvider
	FrontendURL string
}

// Config is the full runtime configuration shared by all services
type Config struct {
	Database         DatabaseConfig
	Redis            RedisConfig
	JWT              JWTConfig
	Storage          StorageConfig
	Kafka            KafkaConfig
	OAuth            OAuthConfig
	AssignmentPolicy string
	RegistryReload   time.Duration // zero disables periodic registry reloads
	Seed             bool
	LogLevel         string
	LogFormat        string
}

// Load reads .env when present and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	cfg := &Config{
		Database: GetDatabaseConfig(),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: getEnv("JWT_ISSUER", "tenant-rbac"),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "http://localhost:9000"),
			Region:    getEnv("MINIO_REGION", "us-east-1"),
			Bucket:    getEnv("MINIO_BUCKET", "avatars"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			PublicURL: os.Getenv("MINIO_PUBLIC_URL"),
		},
		Kafka: KafkaConfig{
			Broker:  os.Getenv("KAFKA_BROKER"),
			Topic:   getEnv("KAFKA_ADMIN_EVENTS_TOPIC", "admin-events"),
			GroupID: getEnv("KAFKA_AUDIT_GROUP_ID", "audit-service"),
		},
		OAuth: OAuthConfig{
			GitHub: OAuthProvider{
				ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
				ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
			},
			Google: OAuthProvider{
				ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
				ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
			},
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		AssignmentPolicy: getEnv("ROLE_ASSIGNMENT_POLICY", "clamp"),
		RegistryReload:   getEnvDuration("AUTHZ_RELOAD_INTERVAL", 5*time.Minute),
		Seed:             getEnvBool("SEED_DEMO_DATA", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

// Port returns the listen port for a service, e.g. Port("ADMIN", "8002")
// reads ADMIN_SERVICE_PORT
func Port(service, fallback string) string {
	return getEnv(strings.ToUpper(service)+"_SERVICE_PORT", fallback)
}

// ServiceURL returns the base URL of another service
func ServiceURL(service, fallback string) string {
	return getEnv(strings.ToUpper(service)+"_SERVICE_URL", fallback)
}

// ConfigureLogging applies the log level and format to logrus
func (c *Config) ConfigureLogging() {
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown LOG_LEVEL %q, keeping %s", c.LogLevel, logrus.GetLevel())
	}
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
