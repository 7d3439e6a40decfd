package version

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Minimum supported external tool versions. Older releases lack the
// JSON report (tracer) or --forceflush (throughput tool).
const (
	MinTracerVersion     = "v0.87.0"
	MinThroughputVersion = "v3.1.0"
)

// Tool describes one discovered external probe tool.
type Tool struct {
	Name    string
	Path    string // empty when not found
	Version string // canonical semver, empty when undetectable
}

// Found reports whether the tool is on PATH.
func (t Tool) Found() bool { return t.Path != "" }

// Supported reports whether the discovered version meets the given
// minimum. An undetectable version is assumed supported; the probe
// output parser degrades gracefully anyway.
func (t Tool) Supported(min string) bool {
	if t.Version == "" {
		return true
	}
	return semver.Compare(t.Version, min) >= 0
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

// Discover locates name on PATH and asks it for its version.
func Discover(ctx context.Context, name string) Tool {
	t := Tool{Name: name}

	path, err := exec.LookPath(name)
	if err != nil {
		return t
	}
	t.Path = path

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil && len(out) == 0 {
		return t
	}
	t.Version = extractVersion(string(out))
	return t
}

// extractVersion pulls the first dotted version number out of tool
// banner output and canonicalises it for semver comparison.
func extractVersion(out string) string {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return ""
	}
	v := "v" + m[1]
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}
