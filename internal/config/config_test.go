package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Watch.ThresholdMS != 2000 {
		t.Errorf("default threshold = %v, want 2000", cfg.Watch.ThresholdMS)
	}
	if cfg.Watch.LatencyField != 5 {
		t.Errorf("default latency field = %d, want 5", cfg.Watch.LatencyField)
	}
	if cfg.Watch.OnTruncate != TruncateRescan {
		t.Errorf("default on_truncate = %q, want %q", cfg.Watch.OnTruncate, TruncateRescan)
	}
	if cfg.Notify.Transport != TransportSMTP {
		t.Errorf("default transport = %q, want %q", cfg.Notify.Transport, TransportSMTP)
	}
	if cfg.Notify.Timeout.Duration != 15*time.Second {
		t.Errorf("default notify timeout = %v, want 15s", cfg.Notify.Timeout.Duration)
	}
	if cfg.SMTP.Addr != "localhost:25" {
		t.Errorf("default smtp addr = %q", cfg.SMTP.Addr)
	}
	if cfg.SMTP.StartTLS != StartTLSAuto {
		t.Errorf("default smtp starttls = %q, want %q", cfg.SMTP.StartTLS, StartTLSAuto)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("loading nonexistent config should return defaults, got error: %v", err)
	}
	if cfg.Watch.ThresholdMS != 2000 {
		t.Errorf("threshold = %v, want default 2000", cfg.Watch.ThresholdMS)
	}
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[watch]
log_dir = "/var/log/proxy"
instances = ["sql_s3", "sql_s4"]
threshold_ms = 1500
on_truncate = "skip"

[[watch.target]]
instance = "sql_hot"
path = "/data/hot.log"
threshold_ms = 300

[notify]
transport = "ntfy"
from = "alarm@example.com"
recipients = ["dba@example.com", "ops@example.com"]
admin_recipients = ["root@example.com"]
timeout = "5s"

[state]
dir = "/var/lib/proxywatch"

[history]
retention = "720h"

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Watch.LogDir != "/var/log/proxy" {
		t.Errorf("watch.log_dir = %q", cfg.Watch.LogDir)
	}
	if len(cfg.Watch.Instances) != 2 {
		t.Errorf("instances count = %d, want 2", len(cfg.Watch.Instances))
	}
	if cfg.Watch.ThresholdMS != 1500 {
		t.Errorf("threshold_ms = %v, want 1500", cfg.Watch.ThresholdMS)
	}
	if cfg.Watch.OnTruncate != TruncateSkip {
		t.Errorf("on_truncate = %q, want %q", cfg.Watch.OnTruncate, TruncateSkip)
	}
	if len(cfg.Watch.Targets) != 1 || cfg.Watch.Targets[0].ThresholdMS != 300 {
		t.Errorf("targets = %+v", cfg.Watch.Targets)
	}
	if cfg.Notify.Transport != TransportNtfy {
		t.Errorf("notify.transport = %q", cfg.Notify.Transport)
	}
	if len(cfg.Notify.Recipients) != 2 {
		t.Errorf("recipients count = %d, want 2", len(cfg.Notify.Recipients))
	}
	if cfg.Notify.Timeout.Duration != 5*time.Second {
		t.Errorf("notify.timeout = %v, want 5s", cfg.Notify.Timeout.Duration)
	}
	if cfg.History.Retention.Duration != 720*time.Hour {
		t.Errorf("history.retention = %v, want 720h", cfg.History.Retention.Duration)
	}
	// Unset fields keep their defaults.
	if cfg.Watch.LatencyField != 5 {
		t.Errorf("latency_field = %d, want default 5", cfg.Watch.LatencyField)
	}
	if cfg.StateDir() != "/var/lib/proxywatch" {
		t.Errorf("StateDir() = %q", cfg.StateDir())
	}
	if cfg.HistoryPath() != "/var/lib/proxywatch/history.db" {
		t.Errorf("HistoryPath() = %q", cfg.HistoryPath())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("not valid [[[ toml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Watch.ThresholdMS = 0 },
			wantErr: "threshold_ms",
		},
		{
			name:    "duplicate instance",
			mutate:  func(c *Config) { c.Watch.Instances = []string{"sql_s3", "sql_s3"} },
			wantErr: `duplicate instance "sql_s3"`,
		},
		{
			name: "duplicate across target table",
			mutate: func(c *Config) {
				c.Watch.Instances = []string{"sql_s3"}
				c.Watch.Targets = []TargetOverride{{Instance: "sql_s3"}}
			},
			wantErr: "duplicate instance",
		},
		{
			name:    "empty instance",
			mutate:  func(c *Config) { c.Watch.Instances = []string{" "} },
			wantErr: "must not be empty",
		},
		{
			name:    "unknown truncate policy",
			mutate:  func(c *Config) { c.Watch.OnTruncate = "ignore" },
			wantErr: "on_truncate",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Notify.Transport = "pigeon" },
			wantErr: "notify.transport",
		},
		{
			name:    "unknown starttls policy",
			mutate:  func(c *Config) { c.SMTP.StartTLS = "sometimes" },
			wantErr: "smtp.starttls",
		},
		{
			name:   "never starttls",
			mutate: func(c *Config) { c.SMTP.StartTLS = StartTLSNever },
		},
		{
			name:   "names differing only in punctuation",
			mutate: func(c *Config) { c.Watch.Instances = []string{"sql.s3", "sql s3", "sql_s3"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTargets(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"sql_a.log", "sql_b.log", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := Default()
	cfg.Watch.LogDir = dir
	cfg.Watch.Instances = []string{"sql_a"}
	cfg.Watch.Targets = []TargetOverride{
		{Instance: "hot", Path: "/data/hot.log", ThresholdMS: 100},
		{Instance: "plain"},
	}
	cfg.Watch.Discover = "sql_*.log"

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets() error: %v", err)
	}

	want := []WatchTarget{
		{Instance: "sql_a", LogPath: filepath.Join(dir, "sql_a.log"), ThresholdMillis: 2000},
		{Instance: "hot", LogPath: "/data/hot.log", ThresholdMillis: 100},
		{Instance: "plain", LogPath: filepath.Join(dir, "plain.log"), ThresholdMillis: 2000},
		{Instance: "sql_b", LogPath: filepath.Join(dir, "sql_b.log"), ThresholdMillis: 2000},
	}
	if len(targets) != len(want) {
		t.Fatalf("got %d targets, want %d: %+v", len(targets), len(want), targets)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Errorf("targets[%d] = %+v, want %+v", i, targets[i], want[i])
		}
	}
}

func TestTargetsDiscoverySameBaseName(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"a/sql_s3.log", "b/sql_s3.log"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := Default()
	cfg.Watch.LogDir = dir
	cfg.Watch.Discover = "**/*.log"

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets() error: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1: %+v", len(targets), targets)
	}
	if want := filepath.Join(dir, "a", "sql_s3.log"); targets[0].LogPath != want {
		t.Errorf("LogPath = %q, want %q", targets[0].LogPath, want)
	}
	out := logs.String()
	if !strings.Contains(out, "shares an instance name") || !strings.Contains(out, filepath.Join("b", "sql_s3.log")) {
		t.Errorf("expected a warning naming the skipped file, got %q", out)
	}
}
