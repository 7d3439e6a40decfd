package parse

import "strings"

// FailureClass buckets probe failures by how the caller should react:
// permission failures drive privilege escalation, connection failures
// drive port fallback, the rest are reported as-is.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailurePermission
	FailureDNS
	FailureUnreachable
	FailureConnection
	FailureTimeout
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailurePermission:
		return "permission"
	case FailureDNS:
		return "dns"
	case FailureUnreachable:
		return "unreachable"
	case FailureConnection:
		return "connection"
	case FailureTimeout:
		return "timeout"
	}
	return "unknown"
}

// failureSignatures maps known tool output substrings to a class and
// a short reason suitable for the per-target result block. Order
// matters: the first match wins, and permission failures are checked
// before the generic connection ones because some tools print both.
var failureSignatures = []struct {
	substr string
	class  FailureClass
	reason string
}{
	{"permission denied", FailurePermission, "permission denied (raw socket access required)"},
	{"operation not permitted", FailurePermission, "operation not permitted (raw socket access required)"},
	{"unable to allocate raw socket", FailurePermission, "raw socket allocation refused"},
	{"mtr-packet: invalid", FailurePermission, "mtr-packet helper rejected the probe"},

	{"failure to resolve", FailureDNS, "name resolution failed"},
	{"name or service not known", FailureDNS, "name resolution failed"},
	{"temporary failure in name resolution", FailureDNS, "temporary name resolution failure"},
	{"could not resolve hostname", FailureDNS, "name resolution failed"},

	{"network is unreachable", FailureUnreachable, "network unreachable"},
	{"no route to host", FailureUnreachable, "no route to host"},
	{"host is unreachable", FailureUnreachable, "host unreachable"},
	{"destination host unreachable", FailureUnreachable, "destination host unreachable"},
	{"host is down", FailureUnreachable, "host is down"},

	{"unable to connect", FailureConnection, "unable to connect"},
	{"connection refused", FailureConnection, "connection refused"},
	{"connection reset", FailureConnection, "connection reset by peer"},
	{"broken pipe", FailureConnection, "connection closed by peer"},
	{"the server is busy", FailureConnection, "server busy running another test"},

	{"connection timed out", FailureTimeout, "connection timed out"},
	{"timed out", FailureTimeout, "timed out"},
	{"interrupt - ", FailureTimeout, "probe interrupted"},
}

// Classify scans raw probe output for known failure signatures and
// returns the class plus a short reason. The scan is independent of
// the numeric parse so failures stay explainable even when no metric
// could be extracted.
func Classify(raw string) (FailureClass, string) {
	lower := strings.ToLower(raw)
	for _, sig := range failureSignatures {
		if strings.Contains(lower, sig.substr) {
			return sig.class, sig.reason
		}
	}
	return FailureNone, ""
}
