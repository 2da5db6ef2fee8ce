/*
Package config loads the service configuration from environment variables.
Credentials come from the deployment's secret store; a missing credential is
a startup failure, never a runtime surprise.
*/
package config

import (
	"crypto/rand"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
)

// Config holds every credential and knob the service needs.
type Config struct {
	Port string

	// Gemini generative-language endpoint.
	GeminiAPIKey string
	GeminiModel  string

	// Google Sheets backing store.
	SheetID         string
	GoogleCredsJSON []byte

	// Web search provider (Custom Search JSON API).
	SearchAPIKey   string
	SearchEngineID string

	// Cookie session signing key.
	SessionSecret []byte

	// The single profile the assistant serves. The sheet's users table is
	// keyed by this id.
	DefaultUserID string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads and validates the environment. Every required credential is
// checked here so main can fail before the server binds.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SheetID:        os.Getenv("DERMA_SHEET_ID"),
		SearchAPIKey:   os.Getenv("SEARCH_API_KEY"),
		SearchEngineID: os.Getenv("SEARCH_ENGINE_ID"),
		DefaultUserID:  getEnv("DERMA_USER_ID", "12345678-1234-1234-1234-1234567890ab"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is not set")
	}
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("DERMA_SHEET_ID environment variable is not set")
	}
	if cfg.SearchAPIKey == "" || cfg.SearchEngineID == "" {
		return nil, fmt.Errorf("SEARCH_API_KEY and SEARCH_ENGINE_ID environment variables are not set")
	}

	if err := loadSheetCreds(cfg); err != nil {
		return nil, err
	}

	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.SessionSecret = []byte(secret)
	} else {
		// Sessions only carry a transcript id, so an ephemeral key is
		// acceptable: transcripts are in-memory and die with the process anyway.
		log.Warn().Msg("SESSION_SECRET not set, using an ephemeral session key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
		cfg.SessionSecret = key
	}

	return cfg, nil
}

// LoadSeed reads only what the seeding command needs: the spreadsheet, the
// service-account credentials, and the user id the sample data is keyed to.
func LoadSeed() (*Config, error) {
	cfg := &Config{
		SheetID:       os.Getenv("DERMA_SHEET_ID"),
		DefaultUserID: getEnv("DERMA_USER_ID", "12345678-1234-1234-1234-1234567890ab"),
	}

	if cfg.SheetID == "" {
		return nil, fmt.Errorf("DERMA_SHEET_ID environment variable is not set")
	}
	if err := loadSheetCreds(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSheetCreds reads the service-account credentials file named by the
// environment into the config.
func loadSheetCreds(cfg *Config) error {
	credsFile := os.Getenv("GOOGLE_CREDENTIALS_FILE")
	if credsFile == "" {
		return fmt.Errorf("GOOGLE_CREDENTIALS_FILE environment variable is not set")
	}
	creds, err := os.ReadFile(credsFile)
	if err != nil {
		return fmt.Errorf("failed to read service account credentials: %w", err)
	}
	cfg.GoogleCredsJSON = creds
	return nil
}
