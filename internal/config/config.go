package config

import (
	"os"
	"strings"
)

type Config struct {
	Addr       string
	CORSOrigin string

	// Content store. DatabaseURL selects the Postgres backend; otherwise the
	// hosted content API settings are required.
	DatabaseURL      string
	ContentProjectID string
	ContentDataset   string
	ContentToken     string
	ContentAPIURL    string

	IngestSecret string

	// Optional site-resolution cache.
	RedisURL string

	// Optional search indexing.
	MeiliURL       string
	MeiliMasterKey string

	// Drop unrecognizable rich-text nodes instead of wrapping them.
	StrictBlocks bool
}

// Load reads configuration from the environment. Several settings accept an
// alternate name kept for callers configured against the previous deployment.
func Load() Config {
	return Config{
		Addr:             getenv("API_ADDR", ":8788"),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		ContentProjectID: getenvAny("CONTENT_PROJECT_ID", "SANITY_PROJECT_ID"),
		ContentDataset:   getenvAny("CONTENT_DATASET", "SANITY_DATASET"),
		ContentToken:     getenvAny("CONTENT_API_TOKEN", "SANITY_TOKEN"),
		ContentAPIURL:    getenv("CONTENT_API_URL", ""),
		IngestSecret:     getenvAny("INGEST_SECRET", "CONTENT_PREVIEW_SECRET"),
		RedisURL:         getenv("REDIS_URL", ""),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		StrictBlocks:     getenvBool("INGEST_STRICT_BLOCKS", false),
	}
}

// UsesPostgres reports whether the Postgres backend is selected.
func (c Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// Missing returns the names of required settings that are absent. Requests
// fail with a configuration error listing these names; defaults are never
// guessed for them.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.IngestSecret) == "" {
		missing = append(missing, "INGEST_SECRET")
	}
	if !c.UsesPostgres() {
		if strings.TrimSpace(c.ContentProjectID) == "" {
			missing = append(missing, "CONTENT_PROJECT_ID")
		}
		if strings.TrimSpace(c.ContentDataset) == "" {
			missing = append(missing, "CONTENT_DATASET")
		}
		if strings.TrimSpace(c.ContentToken) == "" {
			missing = append(missing, "CONTENT_API_TOKEN")
		}
	}
	return missing
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvAny(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getenvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
