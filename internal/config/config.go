package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth
	JWTSecret        string
	AdminUsername    string
	AdminPassword    string // plaintext in env for initial seeding, bcrypt in DB
	AdminDisplayName string

	// Bootstrap org
	OrgName       string
	EnrollmentKey string

	// Schedulers
	ScanIntervalSeconds    int
	ScanWorkers            int
	DispatchMaxAttempts    int
	DispatchBackoffSeconds int
}

func Load() *Config {
	scanInterval, _ := strconv.Atoi(getEnv("SCAN_INTERVAL_SECONDS", "300"))
	scanWorkers, _ := strconv.Atoi(getEnv("SCAN_WORKERS", "4"))
	dispatchAttempts, _ := strconv.Atoi(getEnv("DISPATCH_MAX_ATTEMPTS", "3"))
	dispatchBackoff, _ := strconv.Atoi(getEnv("DISPATCH_BACKOFF_SECONDS", "2"))

	return &Config{
		Port:                   getEnv("PORT", "8090"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "postgres"),
		DBPassword:             getEnv("DB_PASSWORD", ""),
		DBName:                 getEnv("DB_NAME", "warden_db"),
		DBSSLMode:              getEnv("DB_SSLMODE", "disable"),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName:       getEnv("ADMIN_DISPLAY_NAME", "Admin"),
		OrgName:                getEnv("ORG_NAME", "default"),
		EnrollmentKey:          getEnv("ENROLLMENT_KEY", ""),
		ScanIntervalSeconds:    scanInterval,
		ScanWorkers:            scanWorkers,
		DispatchMaxAttempts:    dispatchAttempts,
		DispatchBackoffSeconds: dispatchBackoff,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
