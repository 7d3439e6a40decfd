// Package config loads run settings from defaults, an optional YAML
// config file, and PATHVANTAGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults for probe invocation parameters.
const (
	DefaultCount          = 10
	DefaultInterval       = time.Second
	DefaultDuration       = 10 * time.Second
	DefaultStreams        = 1
	DefaultConnectTimeout = 5 * time.Second
)

// Load builds the configuration source: defaults, then the config
// file when one is given, then environment overrides.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("probe.count", DefaultCount)
	v.SetDefault("probe.interval", DefaultInterval)
	v.SetDefault("probe.transport", "icmp")
	v.SetDefault("probe.port", 0)
	v.SetDefault("throughput.enabled", true)
	v.SetDefault("throughput.duration", DefaultDuration)
	v.SetDefault("throughput.streams", DefaultStreams)
	v.SetDefault("throughput.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("elevation.mode", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("history.path", "")
	v.SetDefault("watch.interval", time.Duration(0))
	v.SetDefault("watch.listen", "127.0.0.1:9811")

	v.SetEnvPrefix("PATHVANTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return v, nil
}

// ParsePorts expands the port specification grammar: a single
// integer, an inclusive `start-end` range, or a comma-separated list
// of either, in the order given. Out-of-range and inverted ranges are
// rejected before any probing begins. The empty string means "tool
// default" and expands to nothing.
func ParsePorts(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var ports []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty entry in port list %q", spec)
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parsePort(lo)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("inverted port range %q", part)
			}
			for p := start; p <= end; p++ {
				ports = append(ports, p)
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", p)
	}
	return p, nil
}

// TargetEntry is one line of a target list file.
type TargetEntry struct {
	Target string `yaml:"target"`
	Note   string `yaml:"note,omitempty"`
}

// targetFile is the YAML shape of a target list: either a bare list
// of strings or a list of {target, note} entries under `targets`.
type targetFile struct {
	Targets []yaml.Node `yaml:"targets"`
}

// LoadTargets reads a YAML target list file.
func LoadTargets(path string) ([]TargetEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read target list %q: %w", path, err)
	}

	var f targetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse target list %q: %w", path, err)
	}

	entries := make([]TargetEntry, 0, len(f.Targets))
	for i, node := range f.Targets {
		switch node.Kind {
		case yaml.ScalarNode:
			entries = append(entries, TargetEntry{Target: node.Value})
		case yaml.MappingNode:
			var e TargetEntry
			if err := node.Decode(&e); err != nil {
				return nil, fmt.Errorf("target list %q entry %d: %w", path, i+1, err)
			}
			entries = append(entries, e)
		default:
			return nil, fmt.Errorf("target list %q entry %d: unsupported shape", path, i+1)
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("target list %q contains no targets", path)
	}
	return entries, nil
}
