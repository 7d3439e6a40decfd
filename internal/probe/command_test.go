package probe

import (
	"strings"
	"testing"
	"time"
)

func TestLatencySpecArgv(t *testing.T) {
	tests := []struct {
		name string
		spec LatencySpec
		want string
	}{
		{
			name: "icmp json",
			spec: LatencySpec{Target: "1.1.1.1", Count: 10, Interval: time.Second, Transport: TransportICMP, JSON: true},
			want: "mtr --no-dns -c 10 -i 1 --json 1.1.1.1",
		},
		{
			name: "tcp with port and source binding",
			spec: LatencySpec{Target: "1.1.1.1", Count: 5, Interval: 500 * time.Millisecond, Transport: TransportTCP, Port: 443, Source: "10.0.0.2", JSON: true},
			want: "mtr --no-dns -c 5 -i 0.5 --tcp -P 443 -a 10.0.0.2 --json 1.1.1.1",
		},
		{
			name: "udp text report",
			spec: LatencySpec{Target: "1.1.1.1", Count: 10, Interval: time.Second, Transport: TransportUDP},
			want: "mtr --no-dns -c 10 -i 1 --udp --report --report-wide 1.1.1.1",
		},
		{
			name: "elevated prefix",
			spec: LatencySpec{Target: "1.1.1.1", Count: 10, Interval: time.Second, Transport: TransportICMP, JSON: true, Elevated: true},
			want: "sudo -n mtr --no-dns -c 10 -i 1 --json 1.1.1.1",
		},
		{
			name: "icmp ignores port",
			spec: LatencySpec{Target: "1.1.1.1", Count: 10, Interval: time.Second, Transport: TransportICMP, Port: 443, JSON: true},
			want: "mtr --no-dns -c 10 -i 1 --json 1.1.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(tt.spec.Argv("mtr"), " ")
			if got != tt.want {
				t.Errorf("argv = %q\nwant   %q", got, tt.want)
			}
		})
	}
}

func TestLatencySpecDuration(t *testing.T) {
	s := LatencySpec{Count: 10, Interval: time.Second}
	if got := s.Duration(); got != 20*time.Second {
		t.Errorf("duration = %v, want 20s (count*interval + slack)", got)
	}
	// Zero interval falls back to one second.
	s = LatencySpec{Count: 5}
	if got := s.Duration(); got != 15*time.Second {
		t.Errorf("duration = %v, want 15s", got)
	}
}

func TestThroughputSpecArgv(t *testing.T) {
	tests := []struct {
		name string
		spec ThroughputSpec
		want string
	}{
		{
			name: "upload default port",
			spec: ThroughputSpec{Host: "192.0.2.10", Duration: 10 * time.Second, Streams: 1, ConnectTimeout: 5 * time.Second},
			want: "iperf3 -c 192.0.2.10 --forceflush -t 10 --connect-timeout 5000",
		},
		{
			name: "download with everything set",
			spec: ThroughputSpec{Host: "192.0.2.10", Port: 5202, Duration: 10 * time.Second, Streams: 4, Reverse: true, Bind: "10.0.0.2", ConnectTimeout: 5 * time.Second},
			want: "iperf3 -c 192.0.2.10 --forceflush -p 5202 -t 10 -P 4 --reverse -B 10.0.0.2 --connect-timeout 5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(tt.spec.Argv("iperf3"), " ")
			if got != tt.want {
				t.Errorf("argv = %q\nwant   %q", got, tt.want)
			}
		})
	}
}
