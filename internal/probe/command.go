package probe

import (
	"fmt"
	"strconv"
	"time"
)

// Transport selects the packet type used by the path tracer.
type Transport string

const (
	TransportICMP Transport = "icmp"
	TransportUDP  Transport = "udp"
	TransportTCP  Transport = "tcp"
)

// LatencySpec describes one path-tracer invocation. The same spec is
// reused verbatim for a privileged retry; only the Elevated flag
// changes.
type LatencySpec struct {
	Target    string
	Count     int
	Interval  time.Duration
	Transport Transport
	Port      int // destination port for UDP/TCP transport
	Source    string
	JSON      bool
	Elevated  bool
}

// Argv builds the tracer command line. Numeric output is forced
// (--no-dns) so hop addresses compare exactly against the probed
// target.
func (s LatencySpec) Argv(tool string) []string {
	argv := make([]string, 0, 16)
	if s.Elevated {
		argv = append(argv, "sudo", "-n")
	}
	argv = append(argv, tool, "--no-dns", "-c", strconv.Itoa(s.Count))
	if s.Interval > 0 {
		argv = append(argv, "-i", formatSeconds(s.Interval))
	}
	switch s.Transport {
	case TransportUDP:
		argv = append(argv, "--udp")
	case TransportTCP:
		argv = append(argv, "--tcp")
	}
	if s.Transport != TransportICMP && s.Port > 0 {
		argv = append(argv, "-P", strconv.Itoa(s.Port))
	}
	if s.Source != "" {
		argv = append(argv, "-a", s.Source)
	}
	if s.JSON {
		argv = append(argv, "--json")
	} else {
		argv = append(argv, "--report", "--report-wide")
	}
	return append(argv, s.Target)
}

// Duration bounds how long the tracer can run: count*interval plus
// slack for the final probes to time out. The companion load probe's
// wait is capped by this.
func (s LatencySpec) Duration() time.Duration {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return time.Duration(s.Count)*interval + 10*time.Second
}

// ThroughputSpec describes one throughput-tool client invocation
// against a single candidate port.
type ThroughputSpec struct {
	Host           string
	Port           int // 0 = tool default
	Duration       time.Duration
	Streams        int
	Reverse        bool // measure download (server sends)
	Bind           string
	ConnectTimeout time.Duration
}

// Argv builds the throughput client command line.
func (s ThroughputSpec) Argv(tool string) []string {
	argv := []string{tool, "-c", s.Host, "--forceflush"}
	if s.Port > 0 {
		argv = append(argv, "-p", strconv.Itoa(s.Port))
	}
	if s.Duration > 0 {
		argv = append(argv, "-t", formatSeconds(s.Duration))
	}
	if s.Streams > 1 {
		argv = append(argv, "-P", strconv.Itoa(s.Streams))
	}
	if s.Reverse {
		argv = append(argv, "--reverse")
	}
	if s.Bind != "" {
		argv = append(argv, "-B", s.Bind)
	}
	if s.ConnectTimeout > 0 {
		argv = append(argv, "--connect-timeout",
			strconv.FormatInt(s.ConnectTimeout.Milliseconds(), 10))
	}
	return argv
}

func formatSeconds(d time.Duration) string {
	secs := d.Seconds()
	if secs == float64(int64(secs)) {
		return strconv.FormatInt(int64(secs), 10)
	}
	return fmt.Sprintf("%.1f", secs)
}
