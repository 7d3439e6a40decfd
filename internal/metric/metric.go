// Package metric defines the typed measurement model shared by the
// probe normalizers, the run orchestrator, and the scorecard.
package metric

import (
	"encoding/json"
	"fmt"
	"math"
)

// Unavailable is the fixed marker rendered for any metric that could
// not be determined. It is used identically in terminal output, the
// run log, and JSON, so a missing value is never mistaken for data.
const Unavailable = "n/a"

// Sample is an optional float64. The zero value is "unavailable".
// Arithmetic on an unavailable Sample is impossible by construction;
// callers must go through Value or the package-level helpers.
type Sample struct {
	value float64
	ok    bool
}

// Some returns an available Sample. NaN and infinities are rejected
// and collapse to the unavailable state.
func Some(v float64) Sample {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Sample{}
	}
	return Sample{value: v, ok: true}
}

// None returns an unavailable Sample.
func None() Sample { return Sample{} }

// Value returns the underlying value and whether it is available.
func (s Sample) Value() (float64, bool) { return s.value, s.ok }

// OK reports whether the sample carries a value.
func (s Sample) OK() bool { return s.ok }

// Positive reports whether the sample is available and strictly > 0.
func (s Sample) Positive() bool { return s.ok && s.value > 0 }

// String renders the value with the given precision, or the
// unavailable marker.
func (s Sample) Format(decimals int) string {
	if !s.ok {
		return Unavailable
	}
	return fmt.Sprintf("%.*f", decimals, s.value)
}

func (s Sample) String() string { return s.Format(3) }

// MarshalJSON encodes an unavailable sample as null, never as a
// numeric placeholder.
func (s Sample) MarshalJSON() ([]byte, error) {
	if !s.ok {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Sample{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Some(v)
	return nil
}

// Sub returns a-b when both operands are available, otherwise an
// unavailable Sample. Used for load-minus-baseline deltas.
func Sub(a, b Sample) Sample {
	if !a.ok || !b.ok {
		return Sample{}
	}
	return Some(a.value - b.value)
}

// Direction identifies which way a throughput test moved data.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// LatencyMetrics is one normalised path-latency report.
type LatencyMetrics struct {
	Best   Sample `json:"best_ms"`
	Avg    Sample `json:"avg_ms"`
	Worst  Sample `json:"worst_ms"`
	Jitter Sample `json:"jitter_ms"`
	Loss   Sample `json:"loss_pct"` // 0-100

	Hops int `json:"hops"`
	Sent int `json:"sent"`

	// DestinationReached is true only when the report's matched hop
	// address equals the probed target exactly. When false, the RTT
	// numbers describe the last responding hop, not the target.
	DestinationReached bool `json:"destination_reached"`

	// Reason carries a short classified failure description. It is
	// populated independently of the numeric parse so a failed probe
	// is explainable even when every Sample is unavailable.
	Reason string `json:"reason,omitempty"`
}

// Valid reports whether the RTT figures may be trusted: the
// destination was reached, probes were actually sent, loss is below
// 100%, and best/avg/worst are all strictly positive.
func (m *LatencyMetrics) Valid() bool {
	if !m.DestinationReached || m.Sent <= 0 {
		return false
	}
	if loss, ok := m.Loss.Value(); ok && loss >= 100 {
		return false
	}
	return m.Best.Positive() && m.Avg.Positive() && m.Worst.Positive()
}

// Collapse enforces the validity invariant: any violation clears
// best/avg/worst/jitter. Loss and hop count survive because they
// explain why the probe failed.
func (m *LatencyMetrics) Collapse() {
	if m.Valid() {
		return
	}
	m.Best = None()
	m.Avg = None()
	m.Worst = None()
	m.Jitter = None()
}

// ThroughputResult is one normalised bandwidth measurement.
type ThroughputResult struct {
	Direction Direction `json:"direction"`
	Mbps      Sample    `json:"mbps"`

	// PortUsed is the server port the successful attempt connected
	// to. Zero means the tool default was used.
	PortUsed    int    `json:"port_used,omitempty"`
	FailedPorts []int  `json:"failed_ports,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// RunResult is everything measured for one (target, interface) pair.
// It lives only long enough to be rendered and folded into the
// scorecard.
type RunResult struct {
	RunID       string `json:"run_id"`
	TargetInput string `json:"target"`
	TargetAddr  string `json:"target_addr"`
	Iface       string `json:"iface,omitempty"`

	Baseline LatencyMetrics `json:"baseline"`

	Upload   ThroughputResult `json:"upload"`
	Download ThroughputResult `json:"download"`

	LoadDuringUpload   LatencyMetrics `json:"load_during_upload"`
	LoadDuringDownload LatencyMetrics `json:"load_during_download"`

	UploadDeltaLatency   Sample `json:"upload_delta_latency_ms"`
	UploadDeltaJitter    Sample `json:"upload_delta_jitter_ms"`
	DownloadDeltaLatency Sample `json:"download_delta_latency_ms"`
	DownloadDeltaJitter  Sample `json:"download_delta_jitter_ms"`

	Warnings []string `json:"warnings,omitempty"`
	Notices  []string `json:"notices,omitempty"`
}

// ComputeDeltas fills the load-minus-baseline latency and jitter
// deltas. A delta is unavailable unless both operands are available.
func (r *RunResult) ComputeDeltas() {
	r.UploadDeltaLatency = Sub(r.LoadDuringUpload.Avg, r.Baseline.Avg)
	r.UploadDeltaJitter = Sub(r.LoadDuringUpload.Jitter, r.Baseline.Jitter)
	r.DownloadDeltaLatency = Sub(r.LoadDuringDownload.Avg, r.Baseline.Avg)
	r.DownloadDeltaJitter = Sub(r.LoadDuringDownload.Jitter, r.Baseline.Jitter)
}
