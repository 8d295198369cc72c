package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"time"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

// Options are the global command line flags, shared by every subcommand.
type Options struct {
	// Storage
	DBPath      string `long:"db" env:"FLAT_DB" default:"flat.db" description:"SQLite database file"`
	SourcesFile string `long:"sources" env:"FLAT_SOURCES" default:"flat.yml" description:"YAML file listing the enabled sources"`
	KeysDir     string `long:"keys-dir" env:"FLAT_KEYS_DIR" default:"." description:"Directory holding appkeys/ and userkeys/"`
	OutputDir   string `long:"output" env:"FLAT_OUTPUT" default:"build" description:"Directory the static build is written to"`

	// HTTP
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseURL      string `long:"base-url" env:"BASE_URL" default:"http://localhost:8080" description:"Public base URL used in generated links"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key protecting admin endpoints (optional)"`
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"flatdario/1.0" description:"User agent string for HTTP requests"`
	Timeout      int    `long:"timeout" env:"FLAT_TIMEOUT" default:"30" description:"Upstream request timeout in seconds"`

	Interval int `long:"interval" env:"FLAT_INTERVAL" default:"3600" description:"Seconds between collection batches in serve mode"`

	// Web push
	VAPIDPublicKey  string `long:"vapid-public-key" env:"VAPID_PUBLIC_KEY" description:"VAPID public key for push notifications"`
	VAPIDPrivateKey string `long:"vapid-private-key" env:"VAPID_PRIVATE_KEY" description:"VAPID private key for push notifications"`
	VAPIDSubscriber string `long:"vapid-subscriber" env:"VAPID_SUBSCRIBER" default:"mailto:admin@localhost" description:"VAPID subscriber contact"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for log timestamps (e.g., UTC, Europe/Rome)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load validates the parsed options and builds the runtime configuration.
func Load(opts *Options) (*Cfg, error) {
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be non-negative")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if opts.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	cfg := &Cfg{
		DBPath:          opts.DBPath,
		SourcesFile:     opts.SourcesFile,
		KeysDir:         opts.KeysDir,
		OutputDir:       opts.OutputDir,
		Port:            opts.Port,
		BaseURL:         opts.BaseURL,
		APIAccessKey:    opts.APIAccessKey,
		UserAgent:       opts.UserAgent,
		Timeout:         time.Duration(opts.Timeout) * time.Second,
		Interval:        time.Duration(opts.Interval) * time.Second,
		VAPIDPublicKey:  opts.VAPIDPublicKey,
		VAPIDPrivateKey: opts.VAPIDPrivateKey,
		VAPIDSubscriber: opts.VAPIDSubscriber,
		Timezone:        opts.Timezone,
		Debug:           opts.Debug,
		Version:         GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

// PushEnabled reports whether both VAPID keys are configured.
func (c *Cfg) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	return nil
}
