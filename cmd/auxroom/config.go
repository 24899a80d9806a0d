package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config contains application-wide settings sourced from the environment.
type Config struct {
	DatabaseURL   string
	Addr          string
	JWTSecret     string
	TokenTTL      time.Duration
	SweepInterval time.Duration
	DBWaitTimeout time.Duration
	TransferHost  bool
	LogLevel      string
	LogFormat     string
}

func loadConfig() (Config, error) {
	_ = godotenv.Load("config/local.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return Config{}, errors.New("DATABASE_URL env var is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if len(secret) < 16 {
		return Config{}, errors.New("JWT_SECRET env var of at least 16 characters is required")
	}

	tokenTTL, err := durationOrDefault("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := durationOrDefault("BOOST_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	dbWait, err := durationOrDefault("DB_WAIT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:   dsn,
		Addr:          fmt.Sprintf(":%s", envOrDefault("PORT", "8080")),
		JWTSecret:     secret,
		TokenTTL:      tokenTTL,
		SweepInterval: sweepInterval,
		DBWaitTimeout: dbWait,
		TransferHost:  os.Getenv("HOST_TRANSFER_ON_LEAVE") == "true",
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("LOG_FORMAT", "json"),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
