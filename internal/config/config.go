/*
 *    Copyright 2025 blockarchitech
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	StorageInMemory  = "inmemory"
	StorageFirestore = "firestore"
	StorageSQLite    = "sqlite"

	DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"
)

// ClassroomScopes are the read-only scopes needed to mirror courses and coursework.
var ClassroomScopes = []string{
	"https://www.googleapis.com/auth/classroom.courses.readonly",
	"https://www.googleapis.com/auth/classroom.coursework.me.readonly",
	"https://www.googleapis.com/auth/classroom.rosters.readonly",
	"https://www.googleapis.com/auth/classroom.profile.emails",
}

// Config holds the application configuration values.
type Config struct {
	Port                 string
	AppBaseURL           string
	SecretKey            string
	AdminToken           string
	StorageType          string
	GCPProjectID         string
	SQLiteDSN            string
	GoogleClientID       string
	GoogleClientSecret   string
	ClassroomRPS         float64
	ExpoPushURL          string
	ExpoAccessToken      string
	SyncInterval         time.Duration
	ReminderInterval     time.Duration
	DefaultTimezone      string
	RedisAddr            string
	RedisPassword        string
	JobLockTTL           time.Duration
	OtelExporterEndpoint string
	GoogleOAuthConfig    *oauth2.Config
	Version              string
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment values win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AppBaseURL:           getEnv("APP_BASE_URL", "http://localhost:8080"),
		SecretKey:            getEnv("SECRET_KEY", ""),
		AdminToken:           getEnv("ADMIN_TOKEN", ""),
		StorageType:          getEnv("STORAGE_TYPE", StorageInMemory),
		GCPProjectID:         getEnv("GCP_PROJECT_ID", ""),
		SQLiteDSN:            getEnv("SQLITE_DSN", "studysync.db"),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
		ClassroomRPS:         getEnvFloat("CLASSROOM_RPS", 5),
		ExpoPushURL:          getEnv("EXPO_PUSH_URL", DefaultExpoPushURL),
		ExpoAccessToken:      getEnv("EXPO_ACCESS_TOKEN", ""),
		SyncInterval:         getEnvDuration("SYNC_INTERVAL", 30*time.Minute),
		ReminderInterval:     getEnvDuration("REMINDER_INTERVAL", 5*time.Minute),
		DefaultTimezone:      getEnv("DEFAULT_TIMEZONE", "UTC"),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		JobLockTTL:           getEnvDuration("JOB_LOCK_TTL", 10*time.Minute),
		OtelExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", ""),
		Version:              getEnv("VERSION", "dev"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.GoogleOAuthConfig = &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.AppBaseURL + "/auth/google/callback",
		Scopes:       ClassroomScopes,
		Endpoint:     google.Endpoint,
	}

	return cfg, nil
}

// Validate checks combinations of values that cannot work together.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET is not set")
	}

	switch c.StorageType {
	case StorageInMemory, StorageSQLite:
	case StorageFirestore:
		if c.GCPProjectID == "" {
			return fmt.Errorf("STORAGE_TYPE is 'firestore' but GCP_PROJECT_ID is not set")
		}
	default:
		return fmt.Errorf("invalid STORAGE_TYPE: %s", c.StorageType)
	}

	if c.SyncInterval <= 0 || c.ReminderInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL and REMINDER_INTERVAL must be positive")
	}
	// The due-reminder windows are one hour wide; a slower tick could step over them.
	if c.ReminderInterval > time.Hour {
		return fmt.Errorf("REMINDER_INTERVAL must not exceed 1h, got %s", c.ReminderInterval)
	}

	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}

	return nil
}

// Location returns the configured default timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
