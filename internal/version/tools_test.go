package version

import "testing"

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"mtr banner", "mtr 0.95\n", "v0.95.0"},
		{"iperf banner", "iperf 3.16 (cJSON 1.7.15)\nLinux host 6.1.0\n", "v3.16.0"},
		{"three part", "tool v1.2.3", "v1.2.3"},
		{"no version", "no digits here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractVersion(tt.out); got != tt.want {
				t.Errorf("extractVersion(%q) = %q, want %q", tt.out, got, tt.want)
			}
		})
	}
}

func TestToolSupported(t *testing.T) {
	tests := []struct {
		name    string
		version string
		min     string
		want    bool
	}{
		{"newer", "v3.16.0", MinThroughputVersion, true},
		{"equal", MinThroughputVersion, MinThroughputVersion, true},
		{"older", "v2.0.5", MinThroughputVersion, false},
		{"undetectable assumed fine", "", MinThroughputVersion, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := Tool{Name: "x", Path: "/usr/bin/x", Version: tt.version}
			if got := tool.Supported(tt.min); got != tt.want {
				t.Errorf("Supported(%q vs %q) = %v, want %v", tt.version, tt.min, got, tt.want)
			}
		})
	}
}

func TestFound(t *testing.T) {
	if (Tool{}).Found() {
		t.Error("empty path must not count as found")
	}
	if !(Tool{Path: "/usr/bin/mtr"}).Found() {
		t.Error("tool with a path is found")
	}
}
