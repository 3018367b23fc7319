// Package config provides centralized configuration management.
// Every tunable of the cabinet service lives here; main reads Load() once.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SCENE CONFIGURATION
// =============================================================================

// SceneConfig holds the world size and tick rate.
type SceneConfig struct {
	Width    int // World width in units (also the display frame width in pixels)
	Height   int // World height in units
	TickRate int // Engine ticks per second
}

// DefaultScene returns the default scene configuration.
func DefaultScene() SceneConfig {
	return SceneConfig{
		Width:    1280,
		Height:   720,
		TickRate: 60,
	}
}

// SceneFromEnv returns scene configuration with environment variable overrides.
func SceneFromEnv() SceneConfig {
	cfg := DefaultScene()

	if w := getEnvInt("SCENE_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvInt("SCENE_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}

	return cfg
}

// =============================================================================
// NFC IDENTIFICATION CONFIGURATION
// =============================================================================

// Reader modes
const (
	ReaderManual = "manual" // Tags tapped through the API
	ReaderAgent  = "agent"  // Tags pushed by an NFC agent over WebSocket
	ReaderOff    = "off"    // Identification disabled
)

// Directory modes
const (
	DirectorySQLite = "sqlite" // Local tag_users table
	DirectoryHTTP   = "http"   // Remote directory service
)

// NFCConfig holds reader and directory settings.
type NFCConfig struct {
	Reader         string        // manual | agent | off
	AgentURL       string        // WebSocket URL of the NFC agent
	ScanWindow     time.Duration // How long one scan waits for a tag
	LookupTimeout  time.Duration // Upper bound on one directory lookup
	Directory      string        // sqlite | http
	DirectoryURL   string        // Base URL for http directories
	DirectoryToken string        // Bearer token for http directories
	DBPath         string        // SQLite file for the local directory
	CacheTTL       time.Duration // Positive lookup cache lifetime, 0 disables
	EventLogPath   string        // JSONL identification log, empty disables the file
}

// DefaultNFC returns the default identification configuration.
func DefaultNFC() NFCConfig {
	return NFCConfig{
		Reader:        ReaderManual,
		AgentURL:      "ws://127.0.0.1:9470/events",
		ScanWindow:    2 * time.Second,
		LookupTimeout: 5 * time.Second,
		Directory:     DirectorySQLite,
		DBPath:        "cabinet.db",
		CacheTTL:      time.Minute,
		EventLogPath:  "identification.jsonl",
	}
}

// NFCFromEnv returns identification configuration with environment variable overrides.
func NFCFromEnv() NFCConfig {
	cfg := DefaultNFC()

	if v := strings.ToLower(os.Getenv("NFC_READER")); v != "" {
		cfg.Reader = v
	}
	if v := os.Getenv("NFC_AGENT_URL"); v != "" {
		cfg.AgentURL = v
	}
	if d := getEnvDuration("NFC_SCAN_WINDOW", 0); d > 0 {
		cfg.ScanWindow = d
	}
	if d := getEnvDuration("NFC_LOOKUP_TIMEOUT", 0); d > 0 {
		cfg.LookupTimeout = d
	}
	if v := strings.ToLower(os.Getenv("DIRECTORY")); v != "" {
		cfg.Directory = v
	}
	if v := os.Getenv("DIRECTORY_URL"); v != "" {
		cfg.DirectoryURL = v
		if os.Getenv("DIRECTORY") == "" {
			cfg.Directory = DirectoryHTTP
		}
	}
	cfg.DirectoryToken = os.Getenv("DIRECTORY_TOKEN")
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("DIRECTORY_CACHE_TTL"); ok {
		cfg.CacheTTL = getEnvDuration("DIRECTORY_CACHE_TTL", cfg.CacheTTL)
		if v == "0" {
			cfg.CacheTTL = 0
		}
	}
	if v, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = v
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	CORSOrigins    []string // nil uses the router defaults
	DebugEnabled   bool     // pprof + /metrics on DebugAddr
	DebugAddr      string
	StaticFilesDir string
	AdminToken     string // Bearer token for /api/users, empty leaves it open
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		DebugEnabled:   true,
		DebugAddr:      "127.0.0.1:6060",
		StaticFilesDir: "./admin-panel",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		cfg.DebugAddr = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticFilesDir = v
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Scene  SceneConfig
	NFC    NFCConfig
	Server ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Scene:  SceneFromEnv(),
		NFC:    NFCFromEnv(),
		Server: ServerFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
