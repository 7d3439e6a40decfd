// Package report renders per-run result blocks and the final
// scorecard, and keeps the append-only diagnostic run log.
package report

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/scorecard"
)

// Reporter writes human-readable results. It implements engine.Sink.
type Reporter struct {
	out    io.Writer
	logger *zap.Logger
}

func New(out io.Writer, logger *zap.Logger) *Reporter {
	return &Reporter{out: out, logger: logger}
}

// RunCompleted renders one (target, interface) result block. Every
// pair gets a block, even on total failure; unavailable metrics
// render as the fixed marker.
func (r *Reporter) RunCompleted(res *metric.RunResult) {
	fmt.Fprintf(r.out, "\n=== %s via %s ===\n", res.TargetInput, res.Iface)

	for _, w := range res.Warnings {
		fmt.Fprintf(r.out, "  warning: %s\n", w)
	}

	r.latencyBlock("baseline", &res.Baseline)

	r.throughputBlock(&res.Upload)
	r.loadBlock(&res.LoadDuringUpload, res.UploadDeltaLatency, res.UploadDeltaJitter)

	r.throughputBlock(&res.Download)
	r.loadBlock(&res.LoadDuringDownload, res.DownloadDeltaLatency, res.DownloadDeltaJitter)

	for _, n := range res.Notices {
		fmt.Fprintf(r.out, "  note: %s\n", n)
	}
}

// TargetSkipped still emits a block so no target ever silently
// disappears from the output.
func (r *Reporter) TargetSkipped(input string, err error) {
	fmt.Fprintf(r.out, "\n=== %s ===\n  error: %v\n", input, err)
}

func (r *Reporter) latencyBlock(label string, m *metric.LatencyMetrics) {
	fmt.Fprintf(r.out, "  %s: best/avg/worst %s/%s/%s ms, jitter %s ms, loss %s%%, hops %s, sent %d\n",
		label,
		m.Best.Format(3), m.Avg.Format(3), m.Worst.Format(3),
		m.Jitter.Format(3), m.Loss.Format(1),
		hopsLabel(m.Hops), m.Sent,
	)
	if !m.DestinationReached && m.Hops > 0 {
		fmt.Fprintf(r.out, "    caveat: destination not reached; values describe the last responding hop\n")
	}
	if m.Reason != "" && !m.Valid() {
		fmt.Fprintf(r.out, "    reason: %s\n", m.Reason)
	}
}

func (r *Reporter) throughputBlock(t *metric.ThroughputResult) {
	line := fmt.Sprintf("  %s: %s Mbit/s", t.Direction, t.Mbps.Format(2))
	if t.Mbps.OK() && t.PortUsed > 0 {
		line += fmt.Sprintf(" (port %d)", t.PortUsed)
	}
	fmt.Fprintln(r.out, line)
	if !t.Mbps.OK() && t.Reason != "" {
		fmt.Fprintf(r.out, "    reason: %s\n", t.Reason)
	}
}

func (r *Reporter) loadBlock(m *metric.LatencyMetrics, deltaLat, deltaJit metric.Sample) {
	if m.Sent == 0 && m.Reason == "" {
		return
	}
	fmt.Fprintf(r.out, "    under load: avg %s ms (%s), jitter %s ms (%s)\n",
		m.Avg.Format(3), deltaLabel(deltaLat),
		m.Jitter.Format(3), deltaLabel(deltaJit),
	)
	if !m.Valid() && m.Reason != "" {
		fmt.Fprintf(r.out, "      reason: %s\n", m.Reason)
	}
}

// RenderScorecard writes the cross-target summary. The board itself
// decides whether it is worth showing (more than one target tested).
func (r *Reporter) RenderScorecard(b *scorecard.Board) {
	if !b.Renderable() {
		return
	}

	fmt.Fprintf(r.out, "\n=== best of ===\n")
	for _, k := range []scorecard.Kind{
		scorecard.MinLatency, scorecard.MinHops,
		scorecard.MaxUpload, scorecard.MaxDownload,
	} {
		e, ok := b.Entry(k)
		if !ok {
			fmt.Fprintf(r.out, "  %s: %s\n", k, metric.Unavailable)
			continue
		}
		fmt.Fprintf(r.out, "  %s: %s %s (%s)\n", k, e.Key, unitFor(k), tieLabel(e.Ties))
	}
}

func unitFor(k scorecard.Kind) string {
	switch k {
	case scorecard.MinLatency:
		return "ms"
	case scorecard.MinHops:
		return "hops"
	case scorecard.MaxUpload, scorecard.MaxDownload:
		return "Mbit/s"
	}
	return ""
}

func tieLabel(ties []scorecard.Contender) string {
	parts := make([]string, len(ties))
	for i, c := range ties {
		parts[i] = fmt.Sprintf("%s via %s", c.Target, c.Iface)
	}
	return strings.Join(parts, ", ")
}

func hopsLabel(hops int) string {
	if hops <= 0 {
		return metric.Unavailable
	}
	return fmt.Sprintf("%d", hops)
}

func deltaLabel(s metric.Sample) string {
	v, ok := s.Value()
	if !ok {
		return "delta " + metric.Unavailable
	}
	return fmt.Sprintf("%+.3f vs baseline", v)
}
