package parse

import (
	"strconv"
	"strings"

	"github.com/HerbHall/pathvantage/internal/metric"
)

// Role selects which side of the transfer a throughput figure must
// come from: the sender line when measuring upload, the receiver line
// when measuring download.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Throughput extracts the average bitrate in Mbit/s for the given
// role from raw throughput tool output. Preference order: the last
// [SUM] aggregate line for the role, then the last single-stream line
// for the role (a one-stream run prints no aggregate). A classified
// connection failure, or the absence of any role-matching line,
// yields an unavailable sample with a reason.
func Throughput(raw []byte, role Role) (metric.Sample, string) {
	text := string(raw)

	if class, reason := Classify(text); class != FailureNone {
		switch class {
		case FailureConnection, FailureUnreachable, FailureTimeout, FailureDNS:
			return metric.None(), reason
		}
	}

	var lastSum, lastStream metric.Sample
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, string(role)) {
			continue
		}
		mbps, ok := bitrateFrom(line)
		if !ok {
			continue
		}
		if strings.Contains(line, "[SUM]") {
			lastSum = mbps
		} else if strings.HasPrefix(strings.TrimSpace(line), "[") {
			lastStream = mbps
		}
	}

	switch {
	case lastSum.OK():
		return lastSum, ""
	case lastStream.OK():
		return lastStream, ""
	}
	if _, reason := Classify(text); reason != "" {
		return metric.None(), reason
	}
	return metric.None(), "no " + string(role) + " summary in probe output"
}

// bitrateFrom pulls the `<value> <unit>bits/sec` pair out of an
// interval line and converts it to Mbit/s.
func bitrateFrom(line string) (metric.Sample, bool) {
	fields := strings.Fields(line)
	for i := 1; i < len(fields); i++ {
		unit := fields[i]
		var scale float64
		switch unit {
		case "bits/sec":
			scale = 1e-6
		case "Kbits/sec":
			scale = 1e-3
		case "Mbits/sec":
			scale = 1
		case "Gbits/sec":
			scale = 1e3
		case "Tbits/sec":
			scale = 1e6
		default:
			continue
		}
		v, err := strconv.ParseFloat(fields[i-1], 64)
		if err != nil {
			return metric.None(), false
		}
		s := metric.Some(v * scale)
		return s, s.Positive()
	}
	return metric.None(), false
}
