// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	VendorBaseURL string
	LookupTimeout time.Duration
	Owner         string
	SecretKey     []byte   // nil when REPSCREEN_SECRET_KEY is unset
	SeedKeys      []string // vendor API keys registered at startup
}

// HasSecretKey returns true when a credential-at-rest encryption key is
// configured. Without it the app starts, but credential registration is
// inactive until the key is provided.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) > 0
}

// Load reads configuration from environment variables and returns a validated
// Config. Optional variables with defaults: REPSCREEN_LISTEN_ADDR
// (127.0.0.1:8080), REPSCREEN_DB_PATH (repscreen.db), REPSCREEN_VENDOR_URL
// (the production VirusTotal v2 root), REPSCREEN_LOOKUP_TIMEOUT (30s),
// REPSCREEN_OWNER (default). REPSCREEN_SECRET_KEY must be the base64 encoding
// of 32 bytes when set; REPSCREEN_API_KEYS is an optional comma-separated
// list of vendor keys to register at startup.
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("REPSCREEN_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "repscreen.db"
	if v, ok := os.LookupEnv("REPSCREEN_DB_PATH"); ok {
		dbPath = v
	}

	vendorURL := "https://www.virustotal.com/vtapi/v2"
	if v, ok := os.LookupEnv("REPSCREEN_VENDOR_URL"); ok {
		vendorURL = v
	}

	lookupTimeout := 30 * time.Second
	if v, ok := os.LookupEnv("REPSCREEN_LOOKUP_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("REPSCREEN_LOOKUP_TIMEOUT has invalid duration %q: %w", v, err)
		}
		lookupTimeout = parsed
	}

	owner := "default"
	if v, ok := os.LookupEnv("REPSCREEN_OWNER"); ok && v != "" {
		owner = v
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("REPSCREEN_SECRET_KEY"); ok && v != "" {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("REPSCREEN_SECRET_KEY is not valid base64: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("REPSCREEN_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	seedKeys := []string{}
	if v, ok := os.LookupEnv("REPSCREEN_API_KEYS"); ok && v != "" {
		for _, key := range strings.Split(v, ",") {
			key = strings.TrimSpace(key)
			if key != "" {
				seedKeys = append(seedKeys, key)
			}
		}
	}

	return &Config{
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		VendorBaseURL: vendorURL,
		LookupTimeout: lookupTimeout,
		Owner:         owner,
		SecretKey:     secretKey,
		SeedKeys:      seedKeys,
	}, nil
}
