// Package config handles TOML configuration loading with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for proxywatch.
type Config struct {
	Watch   WatchConfig   `toml:"watch"`
	Notify  NotifyConfig  `toml:"notify"`
	SMTP    SMTPConfig    `toml:"smtp"`
	Ntfy    NtfyConfig    `toml:"ntfy"`
	State   StateConfig   `toml:"state"`
	History HistoryConfig `toml:"history"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

// WatchConfig describes which proxy instances are scanned and how.
type WatchConfig struct {
	// LogDir is the proxy's log directory; instance logs live at
	// LogDir/<instance>.log unless a target overrides the path.
	LogDir    string   `toml:"log_dir"`
	Instances []string `toml:"instances"`
	// Discover is an optional glob (relative to LogDir) whose matches are
	// added as instances, e.g. "sql_*.log".
	Discover     string           `toml:"discover"`
	ThresholdMS  float64          `toml:"threshold_ms"`
	LatencyField int              `toml:"latency_field"`
	OnTruncate   string           `toml:"on_truncate"`
	MaxLineBytes int              `toml:"max_line_bytes"`
	Targets      []TargetOverride `toml:"target"`
}

// TargetOverride is an explicitly configured instance with its own path or
// threshold.
type TargetOverride struct {
	Instance    string  `toml:"instance"`
	Path        string  `toml:"path"`
	ThresholdMS float64 `toml:"threshold_ms"`
}

// NotifyConfig controls who receives alerts and through which transport.
type NotifyConfig struct {
	Transport       string   `toml:"transport"`
	From            string   `toml:"from"`
	Recipients      []string `toml:"recipients"`
	AdminRecipients []string `toml:"admin_recipients"`
	Subject         string   `toml:"subject"`
	AdminSubject    string   `toml:"admin_subject"`
	Summary         bool     `toml:"summary"`
	Timeout         Duration `toml:"timeout"`
}

// SMTPConfig is used when notify.transport is "smtp".
type SMTPConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	StartTLS string `toml:"starttls"` // auto, always or never
}

// NtfyConfig is used when notify.transport is "ntfy". Recipients are topic
// names (or full topic URLs) on Server.
type NtfyConfig struct {
	Server   string `toml:"server"`
	Priority string `toml:"priority"`
}

// StateConfig locates cursor files.
type StateConfig struct {
	Dir string `toml:"dir"`
}

// HistoryConfig controls the alert history database.
type HistoryConfig struct {
	Enabled   bool     `toml:"enabled"`
	Path      string   `toml:"path"`
	Retention Duration `toml:"retention"`
}

// MetricsConfig controls Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML string parsing (e.g. "15s", "2160h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Truncation policies for watch.on_truncate.
const (
	TruncateRescan = "rescan"
	TruncateSkip   = "skip"
)

// Notification transports for notify.transport.
const (
	TransportSMTP = "smtp"
	TransportNtfy = "ntfy"
)

// STARTTLS policies for smtp.starttls. Auto sends loopback relays in plain
// text and upgrades any other relay when it offers STARTTLS.
const (
	StartTLSAuto   = "auto"
	StartTLSAlways = "always"
	StartTLSNever  = "never"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			LogDir:       "/usr/local/mysql-proxy/log",
			ThresholdMS:  2000,
			LatencyField: 5,
			OnTruncate:   TruncateRescan,
			MaxLineBytes: 1024 * 1024,
		},
		Notify: NotifyConfig{
			Transport:    TransportSMTP,
			From:         "dbproxy-alarm@localhost",
			Subject:      "slow query alarm -- DB Proxy Alarmer",
			AdminSubject: "DB Proxy Alarmer",
			Summary:      true,
			Timeout:      Duration{15 * time.Second},
		},
		SMTP: SMTPConfig{
			Addr:     "localhost:25",
			StartTLS: StartTLSAuto,
		},
		Ntfy: NtfyConfig{
			Server:   "https://ntfy.sh",
			Priority: "high",
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: Duration{90 * 24 * time.Hour},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "proxywatch", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail at scan time.
func (c *Config) Validate() error {
	var errs []error

	if c.Watch.ThresholdMS <= 0 {
		errs = append(errs, fmt.Errorf("watch.threshold_ms must be positive, got %v", c.Watch.ThresholdMS))
	}
	if c.Watch.LatencyField < 0 {
		errs = append(errs, fmt.Errorf("watch.latency_field must not be negative, got %d", c.Watch.LatencyField))
	}
	switch c.Watch.OnTruncate {
	case TruncateRescan, TruncateSkip:
	default:
		errs = append(errs, fmt.Errorf("watch.on_truncate must be %q or %q, got %q", TruncateRescan, TruncateSkip, c.Watch.OnTruncate))
	}
	switch strings.ToLower(c.Notify.Transport) {
	case TransportSMTP, TransportNtfy:
	default:
		errs = append(errs, fmt.Errorf("notify.transport must be %q or %q, got %q", TransportSMTP, TransportNtfy, c.Notify.Transport))
	}
	switch strings.ToLower(c.SMTP.StartTLS) {
	case "", StartTLSAuto, StartTLSAlways, StartTLSNever:
	default:
		errs = append(errs, fmt.Errorf("smtp.starttls must be %q, %q or %q, got %q", StartTLSAuto, StartTLSAlways, StartTLSNever, c.SMTP.StartTLS))
	}

	seen := make(map[string]bool)
	for _, name := range c.Watch.Instances {
		if err := checkInstance(name, seen); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range c.Watch.Targets {
		if err := checkInstance(t.Instance, seen); err != nil {
			errs = append(errs, err)
		}
		if t.ThresholdMS < 0 {
			errs = append(errs, fmt.Errorf("watch.target %q: threshold_ms must not be negative", t.Instance))
		}
	}

	return errors.Join(errs...)
}

func checkInstance(name string, seen map[string]bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("instance name must not be empty")
	}
	if seen[name] {
		return fmt.Errorf("duplicate instance %q", name)
	}
	seen[name] = true
	return nil
}

// StateDir returns the directory holding cursor files, defaulting to the
// XDG data directory.
func (c *Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "proxywatch")
}

// HistoryPath returns the history database path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.StateDir(), "history.db")
}
