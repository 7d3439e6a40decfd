package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiStreamOutput = `Connecting to host 192.0.2.10, port 5201
[  5] local 10.0.0.2 port 51000 connected to 192.0.2.10 port 5201
[  5]   0.00-1.00   sec   112 MBytes   941 Mbits/sec    0    3.02 MBytes
[  7]   0.00-1.00   sec   112 MBytes   940 Mbits/sec    0    3.00 MBytes
[SUM]   0.00-1.00   sec   224 MBytes  1.88 Gbits/sec    0
- - - - - - - - - - - - - - - - - - - - - - - - -
[ ID] Interval           Transfer     Bitrate         Retr
[  5]   0.00-10.00  sec  1.10 GBytes   941 Mbits/sec    0             sender
[  5]   0.00-10.00  sec  1.09 GBytes   939 Mbits/sec                  receiver
[  7]   0.00-10.00  sec  1.10 GBytes   940 Mbits/sec    0             sender
[  7]   0.00-10.00  sec  1.09 GBytes   938 Mbits/sec                  receiver
[SUM]   0.00-10.00  sec  2.20 GBytes  1.88 Gbits/sec    0             sender
[SUM]   0.00-10.00  sec  2.18 GBytes  1.87 Gbits/sec                  receiver
iperf Done.
`

const singleStreamOutput = `[ ID] Interval           Transfer     Bitrate         Retr
[  5]   0.00-10.00  sec  1.10 GBytes   941 Mbits/sec    0             sender
[  5]   0.00-10.00  sec  1.09 GBytes   939 Mbits/sec                  receiver
iperf Done.
`

func TestThroughputAggregatePreferred(t *testing.T) {
	mbps, reason := Throughput([]byte(multiStreamOutput), RoleSender)
	require.Empty(t, reason)

	v, ok := mbps.Value()
	require.True(t, ok)
	// 1.88 Gbits/sec -> 1880 Mbit/s; the [SUM] summary wins over the
	// per-stream lines.
	assert.InDelta(t, 1880.0, v, 1e-9)
}

func TestThroughputSingleStreamFallback(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want float64
	}{
		{"sender", RoleSender, 941},
		{"receiver", RoleReceiver, 939},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mbps, reason := Throughput([]byte(singleStreamOutput), tt.role)
			require.Empty(t, reason)
			v, ok := mbps.Value()
			require.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestThroughputConnectionFailure(t *testing.T) {
	raw := []byte("iperf3: error - unable to connect to server: Connection refused\n")

	mbps, reason := Throughput(raw, RoleSender)
	assert.False(t, mbps.OK())
	assert.Equal(t, "unable to connect", reason)
}

func TestThroughputNoMatchingLine(t *testing.T) {
	mbps, reason := Throughput([]byte("iperf Done.\n"), RoleReceiver)
	assert.False(t, mbps.OK())
	assert.Contains(t, reason, "receiver")
}

func TestBitrateUnits(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"[  5]  0.00-10.00 sec  1.0 MBytes  512 Kbits/sec  sender", 0.512},
		{"[  5]  0.00-10.00 sec  10 GBytes  9.41 Gbits/sec  sender", 9410},
		{"[  5]  0.00-10.00 sec  1 KBytes  800 bits/sec  sender", 0.0008},
	}
	for _, tt := range tests {
		s, ok := bitrateFrom(tt.line)
		if !ok {
			t.Fatalf("bitrateFrom(%q) not ok", tt.line)
		}
		v, _ := s.Value()
		if diff := v - tt.want; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("bitrateFrom(%q) = %v, want %v", tt.line, v, tt.want)
		}
	}
}
