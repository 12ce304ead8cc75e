package config

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// WatchTarget is one proxy instance to scan.
type WatchTarget struct {
	Instance        string
	LogPath         string
	ThresholdMillis float64
}

// Targets expands the watch section into the list of instances to scan.
// Order: explicit instances, then [[watch.target]] entries, then discovered
// files not already named. Discovery failures are returned as errors; callers
// may still use the partial list.
func (c *Config) Targets() ([]WatchTarget, error) {
	var targets []WatchTarget
	seen := make(map[string]bool)

	for _, name := range c.Watch.Instances {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		targets = append(targets, WatchTarget{
			Instance:        name,
			LogPath:         c.instanceLogPath(name),
			ThresholdMillis: c.Watch.ThresholdMS,
		})
	}

	for _, t := range c.Watch.Targets {
		name := strings.TrimSpace(t.Instance)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		target := WatchTarget{
			Instance:        name,
			LogPath:         t.Path,
			ThresholdMillis: t.ThresholdMS,
		}
		if target.LogPath == "" {
			target.LogPath = c.instanceLogPath(name)
		}
		if target.ThresholdMillis == 0 {
			target.ThresholdMillis = c.Watch.ThresholdMS
		}
		targets = append(targets, target)
	}

	if c.Watch.Discover == "" {
		return targets, nil
	}

	matches, err := doublestar.Glob(os.DirFS(c.Watch.LogDir), c.Watch.Discover, doublestar.WithFilesOnly())
	if err != nil {
		return targets, fmt.Errorf("discovering instances with %q: %w", c.Watch.Discover, err)
	}
	sort.Strings(matches)

	discovered := make(map[string]string)
	for _, m := range matches {
		name := strings.TrimSuffix(path.Base(m), path.Ext(m))
		if name == "" {
			continue
		}
		logPath := filepath.Join(c.Watch.LogDir, filepath.FromSlash(m))
		if first, ok := discovered[name]; ok {
			slog.Warn("discovered log shares an instance name, skipping",
				"instance", name, "path", logPath, "kept", first)
			continue
		}
		discovered[name] = logPath
		if seen[name] {
			continue
		}
		seen[name] = true
		targets = append(targets, WatchTarget{
			Instance:        name,
			LogPath:         logPath,
			ThresholdMillis: c.Watch.ThresholdMS,
		})
	}

	return targets, nil
}

func (c *Config) instanceLogPath(instance string) string {
	return filepath.Join(c.Watch.LogDir, instance+".log")
}
