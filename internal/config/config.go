package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// DB
	DBHost    string
	DBPort    string
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	// Auth
	ServiceExpectedToken string

	// Roster feed (club membership service)
	RosterServiceURL string

	// Credential encryption (hex-encoded 32-byte key)
	CredentialKey string

	// SMTP
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPHost     string
	SMTPPort     int
	SMTPFromName string

	// R2 execution archive
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string

	// Scheduler
	EventPrefix            string
	ExecutionRetentionDays int

	// CORS
	AllowedOrigins string
}

func Load() *Config {
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load() // optional .env for local
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	smtpPort := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("❌ Invalid SMTP_PORT: %v", err)
		}
		smtpPort = p
	}

	retention := 30
	if v := os.Getenv("EXECUTION_RETENTION_DAYS"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("❌ Invalid EXECUTION_RETENTION_DAYS: %v", err)
		}
		retention = d
	}

	return &Config{
		ServerPort: port,

		DBHost:    getEnv("DB_HOST", "localhost"),
		DBPort:    getEnv("DB_PORT", "5432"),
		DBUser:    getEnv("DB_USER", "postgres"),
		DBPass:    getEnv("DB_PASS", "postgres"),
		DBName:    getEnv("DB_NAME", "sync_db"),
		DBSSLMode: getEnv("DB_SSLMODE", "disable"),

		ServiceExpectedToken: getEnv("SERVICE_TOKEN", "your-secret-service-token"),
		RosterServiceURL:     getEnv("ROSTER_SERVICE_URL", "http://localhost:8081"),
		CredentialKey:        os.Getenv("CREDENTIAL_KEY"),

		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPass:     os.Getenv("SMTP_PASS"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     smtpPort,
		SMTPFromName: getEnv("SMTP_FROM_NAME", "ClubSync"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),

		EventPrefix:            getEnv("SYNC_EVENT_PREFIX", "ClubSync: "),
		ExecutionRetentionDays: retention,

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
