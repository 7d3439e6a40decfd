// Package scorecard folds per-run results into the cross-target
// "best of" summary: lowest latency, fewest hops, highest upload and
// download, with tie tracking at display precision.
package scorecard

import (
	"fmt"
	"math"

	"github.com/HerbHall/pathvantage/internal/metric"
)

// Kind names one tracked metric.
type Kind int

const (
	MinLatency Kind = iota
	MinHops
	MaxUpload
	MaxDownload
)

func (k Kind) String() string {
	switch k {
	case MinLatency:
		return "lowest latency"
	case MinHops:
		return "fewest hops"
	case MaxUpload:
		return "best upload"
	case MaxDownload:
		return "best download"
	}
	return "unknown"
}

// Contender identifies one (interface, target) pair in a tie set.
type Contender struct {
	Iface  string
	Target string
}

// Entry holds the current best for one metric. Best is the raw value
// of the first run that established the current rounded key; a later
// run whose rounded display value equals the key joins the tie set
// without disturbing Best.
type Entry struct {
	Best float64
	Key  string // rounded display form of Best
	Ties []Contender
}

// Board is the aggregator. It is written only by the orchestrating
// goroutine, immediately after each run.
type Board struct {
	entries map[Kind]*Entry
	targets map[string]struct{}
}

func New() *Board {
	return &Board{
		entries: make(map[Kind]*Entry),
		targets: make(map[string]struct{}),
	}
}

// Fold updates the board from one run result. Unavailable or invalid
// candidates are skipped per metric; a run never disappears entirely
// from the report, only from the categories it has no valid value
// for.
func (b *Board) Fold(r *metric.RunResult) {
	b.targets[r.TargetAddr] = struct{}{}
	c := Contender{Iface: r.Iface, Target: r.TargetAddr}

	if v, ok := r.Baseline.Avg.Value(); ok && v > 0 {
		b.consider(MinLatency, v, roundKey(v, 3), true, c)
	}

	// Hop count is trusted only when the destination was actually
	// reached and the latency record as a whole is valid.
	if r.Baseline.DestinationReached && r.Baseline.Valid() && r.Baseline.Hops > 0 {
		v := float64(r.Baseline.Hops)
		b.consider(MinHops, v, roundKey(v, 0), true, c)
	}

	if v, ok := r.Upload.Mbps.Value(); ok && v > 0 {
		b.consider(MaxUpload, v, roundKey(v, 2), false, c)
	}
	if v, ok := r.Download.Mbps.Value(); ok && v > 0 {
		b.consider(MaxDownload, v, roundKey(v, 2), false, c)
	}
}

func (b *Board) consider(k Kind, raw float64, rounded string, lowerBetter bool, c Contender) {
	e, ok := b.entries[k]
	if !ok {
		b.entries[k] = &Entry{Best: raw, Key: rounded, Ties: []Contender{c}}
		return
	}

	// Rounded equality is checked before the strict comparison so a
	// marginally better raw value still lands in the tie set with the
	// first-seen best value intact. The set semantics matter in watch
	// mode, where the same pair is folded every cycle.
	if rounded == e.Key {
		for _, t := range e.Ties {
			if t == c {
				return
			}
		}
		e.Ties = append(e.Ties, c)
		return
	}

	better := raw < e.Best
	if !lowerBetter {
		better = raw > e.Best
	}
	if better {
		e.Best = raw
		e.Key = rounded
		e.Ties = []Contender{c}
	}
}

// Entry returns a copy of the current best for the kind, or false
// when no valid candidate has been seen.
func (b *Board) Entry(k Kind) (Entry, bool) {
	e, ok := b.entries[k]
	if !ok {
		return Entry{}, false
	}
	cp := Entry{Best: e.Best, Key: e.Key, Ties: append([]Contender(nil), e.Ties...)}
	return cp, true
}

// Renderable reports whether the board should appear in the output:
// only when more than one target was tested.
func (b *Board) Renderable() bool { return len(b.targets) > 1 }

// roundKey truncates to the display precision. Truncation, not
// half-up rounding: 940.004 and 940.009 both display as 940.00 and
// must share one key.
func roundKey(v float64, decimals int) string {
	scale := math.Pow(10, float64(decimals))
	return fmt.Sprintf("%.*f", decimals, math.Trunc(v*scale)/scale)
}
