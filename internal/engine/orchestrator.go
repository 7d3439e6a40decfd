package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/target"
)

// Input is one unresolved target from the command line or a target
// list file.
type Input struct {
	Value string
	Note  string
}

// RunAll iterates every target x interface pair sequentially,
// folding each result into the scorecard as soon as it is produced.
// A target that fails to resolve is skipped in a batch and fatal for
// a single-target invocation. An interrupt discards the in-flight
// pair rather than scoring it partially.
func (e *Engine) RunAll(ctx context.Context, inputs []Input, ifaces []target.Iface) error {
	if len(ifaces) == 0 {
		ifaces = []target.Iface{{}}
	}

	for _, in := range inputs {
		t, err := target.Resolve(ctx, in.Value, in.Note)
		if err != nil {
			if len(inputs) == 1 {
				return fmt.Errorf("invalid target: %w", err)
			}
			e.logger.Warn("skipping unresolvable target",
				zap.String("target", in.Value), zap.Error(err))
			e.sink.TargetSkipped(in.Value, err)
			continue
		}

		for _, iface := range ifaces {
			r := e.runPair(ctx, t, iface)
			if ctx.Err() != nil {
				// Interrupted mid-pair: the partial result is
				// discarded, never folded.
				return ctx.Err()
			}
			e.board.Fold(r)
			e.sink.RunCompleted(r)
		}
	}
	return nil
}

// runPair measures one (target, interface) pair: baseline latency
// first, then upload, then download, each throughput direction via
// port fallback with its companion load probe.
func (e *Engine) runPair(ctx context.Context, t target.Target, iface target.Iface) *metric.RunResult {
	r := &metric.RunResult{
		RunID:       uuid.NewString(),
		TargetInput: t.Label(),
		TargetAddr:  t.Addr,
		Iface:       iface.Display(),
	}

	source := e.resolveSource(t, iface, r)

	e.logger.Info("measuring pair",
		zap.String("target", t.Addr),
		zap.String("iface", iface.Display()),
	)

	r.Baseline = e.lat.Probe(ctx, e.latencySpec(t, source))

	if e.cfg.Throughput && ctx.Err() == nil {
		up := e.runDirection(ctx, t, source, metric.Upload)
		r.Upload = up.throughput
		r.LoadDuringUpload = up.load

		down := e.runDirection(ctx, t, source, metric.Download)
		r.Download = down.throughput
		r.LoadDuringDownload = down.load

		e.portNotices(r)
	} else if !e.cfg.Throughput {
		r.Upload = metric.ThroughputResult{Direction: metric.Upload, Reason: "throughput testing disabled"}
		r.Download = metric.ThroughputResult{Direction: metric.Download, Reason: "throughput testing disabled"}
	}

	r.ComputeDeltas()
	return r
}

// resolveSource degrades an unusable interface binding to an unbound
// run with a warning; a missing source address is never fatal.
func (e *Engine) resolveSource(t target.Target, iface target.Iface, r *metric.RunResult) string {
	source, err := iface.SourceAddr(t.IPv6)
	switch {
	case err != nil:
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("interface %s unusable (%v); running unbound", iface.Display(), err))
		return ""
	case source == "" && iface.Device != "":
		family := "IPv4"
		if t.IPv6 {
			family = "IPv6"
		}
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("interface %s has no %s address; running unbound", iface.Display(), family))
		return ""
	}
	return source
}

// portNotices records which port won a direction. Only emitted when
// more than one candidate existed, matching what is worth telling the
// user.
func (e *Engine) portNotices(r *metric.RunResult) {
	if len(e.cfg.Ports) <= 1 {
		return
	}
	for _, tr := range []*metric.ThroughputResult{&r.Upload, &r.Download} {
		if tr.Mbps.OK() && tr.PortUsed > 0 {
			n := fmt.Sprintf("%s succeeded on port %d", tr.Direction, tr.PortUsed)
			if len(tr.FailedPorts) > 0 {
				n += fmt.Sprintf(" after failed attempts on %v", tr.FailedPorts)
			}
			r.Notices = append(r.Notices, n)
		}
	}
}
