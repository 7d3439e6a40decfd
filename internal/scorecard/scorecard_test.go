package scorecard

import (
	"testing"

	"github.com/HerbHall/pathvantage/internal/metric"
)

func run(targetAddr, iface string) *metric.RunResult {
	return &metric.RunResult{TargetAddr: targetAddr, Iface: iface}
}

func validBaseline(avg float64, hops int) metric.LatencyMetrics {
	return metric.LatencyMetrics{
		Best: metric.Some(avg - 1), Avg: metric.Some(avg), Worst: metric.Some(avg + 1),
		Jitter: metric.Some(0.5), Loss: metric.Some(0),
		Hops: hops, Sent: 10, DestinationReached: true,
	}
}

func TestRoundedTieKeepsFirstSeenBest(t *testing.T) {
	b := New()

	r1 := run("192.0.2.1", "eth0")
	r1.Upload = metric.ThroughputResult{Direction: metric.Upload, Mbps: metric.Some(940.004)}
	b.Fold(r1)

	r2 := run("192.0.2.2", "wlan0")
	r2.Upload = metric.ThroughputResult{Direction: metric.Upload, Mbps: metric.Some(940.009)}
	b.Fold(r2)

	e, ok := b.Entry(MaxUpload)
	if !ok {
		t.Fatal("expected an upload entry")
	}
	// 940.009 is a strictly better raw value, but both round to
	// 940.00, so it joins the tie set and the first-seen raw best is
	// preserved.
	if e.Best != 940.004 {
		t.Errorf("best = %v, want first-seen 940.004", e.Best)
	}
	if len(e.Ties) != 2 {
		t.Fatalf("ties = %v, want both runs", e.Ties)
	}
}

func TestRoundKeyTruncatesToDisplayPrecision(t *testing.T) {
	tests := []struct {
		v        float64
		decimals int
		want     string
	}{
		{940.004, 2, "940.00"},
		{940.009, 2, "940.00"},
		{940.010, 2, "940.01"},
		{12.3456, 3, "12.345"},
		{8, 0, "8"},
	}
	for _, tt := range tests {
		if got := roundKey(tt.v, tt.decimals); got != tt.want {
			t.Errorf("roundKey(%v, %d) = %q, want %q", tt.v, tt.decimals, got, tt.want)
		}
	}
}

func TestRepeatedFoldsKeepTieSetDeduplicated(t *testing.T) {
	b := New()

	r1 := run("192.0.2.1", "eth0")
	r1.Upload = metric.ThroughputResult{Direction: metric.Upload, Mbps: metric.Some(940.004)}
	r2 := run("192.0.2.2", "eth0")
	r2.Upload = metric.ThroughputResult{Direction: metric.Upload, Mbps: metric.Some(940.009)}

	// Watch mode folds the same pairs into the same board every cycle.
	for cycle := 0; cycle < 3; cycle++ {
		b.Fold(r1)
		b.Fold(r2)
	}

	e, ok := b.Entry(MaxUpload)
	if !ok {
		t.Fatal("expected an upload entry")
	}
	if len(e.Ties) != 2 {
		t.Fatalf("ties = %v, want each pair exactly once", e.Ties)
	}
	if e.Best != 940.004 {
		t.Errorf("best = %v, want first-seen 940.004", e.Best)
	}
}

func TestStrictlyBetterReplaces(t *testing.T) {
	b := New()

	r1 := run("192.0.2.1", "eth0")
	r1.Baseline = validBaseline(20.0, 8)
	b.Fold(r1)

	r2 := run("192.0.2.2", "eth0")
	r2.Baseline = validBaseline(5.0, 12)
	b.Fold(r2)

	e, _ := b.Entry(MinLatency)
	if e.Best != 5.0 {
		t.Errorf("latency best = %v, want 5.0", e.Best)
	}
	if len(e.Ties) != 1 || e.Ties[0].Target != "192.0.2.2" {
		t.Errorf("tie set = %v, want only the better run", e.Ties)
	}

	// Hops went the other way.
	h, _ := b.Entry(MinHops)
	if h.Best != 8 {
		t.Errorf("hops best = %v, want 8", h.Best)
	}
}

func TestWorseCandidateIgnored(t *testing.T) {
	b := New()

	r1 := run("192.0.2.1", "eth0")
	r1.Download = metric.ThroughputResult{Direction: metric.Download, Mbps: metric.Some(900)}
	b.Fold(r1)

	r2 := run("192.0.2.2", "eth0")
	r2.Download = metric.ThroughputResult{Direction: metric.Download, Mbps: metric.Some(100)}
	b.Fold(r2)

	e, _ := b.Entry(MaxDownload)
	if e.Best != 900 || len(e.Ties) != 1 {
		t.Errorf("entry = %+v, want untouched 900 best", e)
	}
}

func TestUnreachedHopsNeverScored(t *testing.T) {
	b := New()

	r := run("192.0.2.1", "eth0")
	r.Baseline = validBaseline(10.0, 5)
	// Valid-looking hop count and loss, but the destination was not
	// reached; the record collapses and min-hops must stay empty.
	r.Baseline.DestinationReached = false
	r.Baseline.Collapse()
	b.Fold(r)

	if _, ok := b.Entry(MinHops); ok {
		t.Error("min-hops must not be updated from an unreached path")
	}
	if _, ok := b.Entry(MinLatency); ok {
		t.Error("latency must not be scored after the collapse either")
	}
}

func TestUnavailableCandidatesSkipped(t *testing.T) {
	b := New()
	r := run("192.0.2.1", "eth0")
	// Nothing measured at all.
	b.Fold(r)

	for _, k := range []Kind{MinLatency, MinHops, MaxUpload, MaxDownload} {
		if _, ok := b.Entry(k); ok {
			t.Errorf("%v must have no entry", k)
		}
	}
}

func TestRenderable(t *testing.T) {
	b := New()
	b.Fold(run("192.0.2.1", "eth0"))
	b.Fold(run("192.0.2.1", "wlan0"))
	if b.Renderable() {
		t.Error("one target over two interfaces is not renderable")
	}
	b.Fold(run("192.0.2.2", "eth0"))
	if !b.Renderable() {
		t.Error("two targets must render the scorecard")
	}
}
