package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{name: "empty means tool default", spec: "", want: nil},
		{name: "single port", spec: "5201", want: []int{5201}},
		{name: "range", spec: "5201-5203", want: []int{5201, 5202, 5203}},
		{name: "list", spec: "5201,9000", want: []int{5201, 9000}},
		{name: "list with range", spec: "5201,6000-6002,7000", want: []int{5201, 6000, 6001, 6002, 7000}},
		{name: "whitespace tolerated", spec: " 5201 , 5202 ", want: []int{5201, 5202}},
		{name: "order preserved", spec: "9000,5201", want: []int{9000, 5201}},
		{name: "inverted range", spec: "5203-5201", wantErr: true},
		{name: "zero port", spec: "0", wantErr: true},
		{name: "too large", spec: "65536", wantErr: true},
		{name: "garbage", spec: "port", wantErr: true},
		{name: "trailing comma", spec: "5201,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePorts(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadTargets(t *testing.T) {
	dir := t.TempDir()

	t.Run("scalar and mapping entries", func(t *testing.T) {
		path := filepath.Join(dir, "targets.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - 1.1.1.1
  - target: 8.8.8.8
    note: google dns
`), 0o644))

		entries, err := LoadTargets(path)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, TargetEntry{Target: "1.1.1.1"}, entries[0])
		assert.Equal(t, TargetEntry{Target: "8.8.8.8", Note: "google dns"}, entries[1])
	})

	t.Run("empty list rejected", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("targets: []\n"), 0o644))
		_, err := LoadTargets(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTargets(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadDefaults(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultCount, v.GetInt("probe.count"))
	assert.Equal(t, "icmp", v.GetString("probe.transport"))
	assert.True(t, v.GetBool("throughput.enabled"))
	assert.Equal(t, DefaultDuration, v.GetDuration("throughput.duration"))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
probe:
  count: 25
throughput:
  streams: 4
`), 0o644))

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, v.GetInt("probe.count"))
	assert.Equal(t, 4, v.GetInt("throughput.streams"))
	// Untouched keys keep their defaults.
	assert.Equal(t, "icmp", v.GetString("probe.transport"))
}
