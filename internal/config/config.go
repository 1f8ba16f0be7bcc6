// Package config provides configuration management for clipforge.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipforge"
	DefaultFFmpeg   = "ffmpeg"

	// Environment variable names
	EnvPort     = "CLIPFORGE_PORT"
	EnvLogLevel = "CLIPFORGE_LOG_LEVEL"
	EnvDataDir  = "CLIPFORGE_DATA_DIR"
	EnvHeadless = "CLIPFORGE_HEADLESS"

	// Export environment variable names
	EnvFFmpegPath      = "CLIPFORGE_FFMPEG_PATH"
	EnvStallTimeout    = "CLIPFORGE_STALL_TIMEOUT"
	EnvProbeTTL        = "CLIPFORGE_PROBE_TTL"
	EnvExportRateLimit = "CLIPFORGE_EXPORT_RATE_LIMIT"
	EnvWebhookURL      = "CLIPFORGE_WEBHOOK_URL"

	// Timeline environment variable names
	EnvPlacementGap = "CLIPFORGE_PLACEMENT_GAP"
	EnvProjectPath  = "CLIPFORGE_PROJECT_PATH"

	// Database filename
	DBFilename = "clipforge.db"

	// Export defaults
	DefaultStallTimeout    = 60 // seconds
	DefaultProbeTTL        = 300
	DefaultExportRateLimit = 10 // requests per minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportsDir() string
	Headless() bool
	FFmpegPath() string
	StallTimeout() time.Duration
	ProbeTTL() time.Duration
	ExportRateLimit() int
	WebhookURL() string
	PlacementGap() time.Duration
	ProjectPath() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath      string
	stallTimeout    time.Duration
	probeTTL        time.Duration
	exportRateLimit int
	webhookURL      string

	placementGap time.Duration
	projectPath  string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		ffmpegPath:      DefaultFFmpeg,
		stallTimeout:    time.Duration(DefaultStallTimeout) * time.Second,
		probeTTL:        time.Duration(DefaultProbeTTL) * time.Second,
		exportRateLimit: DefaultExportRateLimit,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}

	if st := os.Getenv(EnvStallTimeout); st != "" {
		d, err := parseSeconds(st)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvStallTimeout, err)
		}
		cfg.stallTimeout = d
	}

	if pt := os.Getenv(EnvProbeTTL); pt != "" {
		d, err := parseSeconds(pt)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvProbeTTL, err)
		}
		cfg.probeTTL = d
	}

	if rl := os.Getenv(EnvExportRateLimit); rl != "" {
		limit, err := strconv.Atoi(rl)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvExportRateLimit)
		}
		cfg.exportRateLimit = limit
	}

	cfg.webhookURL = os.Getenv(EnvWebhookURL)

	if gap := os.Getenv(EnvPlacementGap); gap != "" {
		d, err := parseSeconds(gap)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPlacementGap, err)
		}
		cfg.placementGap = d
	}

	cfg.projectPath = os.Getenv(EnvProjectPath)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportsDir returns the default directory for EDL and render output
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// StallTimeout is how long a running export may go without progress before it is killed.
func (c *EnvConfig) StallTimeout() time.Duration {
	return c.stallTimeout
}

func (c *EnvConfig) ProbeTTL() time.Duration {
	return c.probeTTL
}

func (c *EnvConfig) ExportRateLimit() int {
	return c.exportRateLimit
}

func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

// PlacementGap is the spacing used when a clip is auto-placed after the last clip of a track.
func (c *EnvConfig) PlacementGap() time.Duration {
	return c.placementGap
}

// ProjectPath returns the project document loaded on start and saved on shutdown.
// Empty means <data dir>/project.json.
func (c *EnvConfig) ProjectPath() string {
	if c.projectPath != "" {
		return c.projectPath
	}
	return filepath.Join(c.dataDir, "project.json")
}

// parseSeconds accepts either a Go duration ("1m30s") or plain seconds ("2.5").
func parseSeconds(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return time.Duration(f * float64(time.Second)), nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
