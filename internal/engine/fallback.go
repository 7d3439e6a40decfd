package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/parse"
	"github.com/HerbHall/pathvantage/internal/probe"
	"github.com/HerbHall/pathvantage/internal/target"
)

// ErrPortExhausted marks a direction whose every candidate port
// failed.
var ErrPortExhausted = errors.New("all candidate ports failed")

// directionResult pairs a throughput outcome with the load-latency
// metrics captured while it ran.
type directionResult struct {
	throughput metric.ThroughputResult
	load       metric.LatencyMetrics
}

// runDirection drives one transfer direction across the candidate
// port list, strictly in order, stopping at the first success. Each
// attempt gets its own companion load-latency probe; on a failed
// attempt the companion is cancelled and its output discarded.
func (e *Engine) runDirection(ctx context.Context, t target.Target, source string, dir metric.Direction) directionResult {
	res := directionResult{
		throughput: metric.ThroughputResult{Direction: dir},
		load:       metric.LatencyMetrics{Reason: "no throughput attempt succeeded"},
	}

	ports := e.cfg.Ports
	if len(ports) == 0 {
		ports = []int{0} // tool default
	}

	role := parse.RoleSender
	if dir == metric.Download {
		role = parse.RoleReceiver
	}

	var reasons []string
	for _, port := range ports {
		if ctx.Err() != nil {
			res.throughput.Reason = "interrupted"
			return res
		}

		load := e.load.Start(ctx, e.latencySpec(t, source))

		mbps, reason := e.attemptThroughput(ctx, t, source, port, dir, role)
		if mbps.OK() {
			res.throughput.Mbps = mbps
			res.throughput.PortUsed = port
			if load != nil {
				res.load = load.Finish(e.loadWait())
			} else {
				res.load = metric.LatencyMetrics{Reason: "load probe unavailable"}
			}
			e.logger.Debug("throughput attempt succeeded",
				zap.String("direction", string(dir)),
				zap.Int("port", port),
			)
			return res
		}

		if load != nil {
			load.Cancel()
		}
		res.throughput.FailedPorts = append(res.throughput.FailedPorts, port)
		reasons = append(reasons, fmt.Sprintf("port %s: %s", portLabel(port), reason))
		e.logger.Debug("throughput attempt failed",
			zap.String("direction", string(dir)),
			zap.Int("port", port),
			zap.String("reason", reason),
		)
	}

	res.throughput.Reason = strings.Join(reasons, "; ")
	if res.throughput.Reason == "" {
		res.throughput.Reason = ErrPortExhausted.Error()
	}
	return res
}

// attemptThroughput runs the throughput tool once against one
// candidate port. Success requires a zero exit, a finite positive
// throughput for the role, and no classified failure in the output.
func (e *Engine) attemptThroughput(ctx context.Context, t target.Target, source string, port int, dir metric.Direction, role parse.Role) (metric.Sample, string) {
	spec := probe.ThroughputSpec{
		Host:           t.Addr,
		Port:           port,
		Duration:       e.cfg.Duration,
		Streams:        e.cfg.Streams,
		Reverse:        dir == metric.Download,
		Bind:           source,
		ConnectTimeout: e.cfg.ConnectTimeout,
	}

	out, code, err := e.bw.Run(ctx, spec)
	if err != nil {
		return metric.None(), "probe failed to start: " + err.Error()
	}

	mbps, reason := parse.Throughput(out, role)
	if class, classReason := parse.Classify(string(out)); class != parse.FailureNone {
		return metric.None(), classReason
	}
	if code != 0 {
		if reason == "" {
			reason = fmt.Sprintf("exit status %d", code)
		}
		return metric.None(), reason
	}
	if !mbps.Positive() {
		if reason == "" {
			reason = "no usable throughput figure in output"
		}
		return metric.None(), reason
	}
	return mbps, ""
}

// loadWait bounds the companion probe wait by its own configured
// runtime so it can never hang the direction.
func (e *Engine) loadWait() time.Duration {
	spec := probe.LatencySpec{Count: e.cfg.Count, Interval: e.cfg.Interval}
	return spec.Duration()
}

func portLabel(port int) string {
	if port == 0 {
		return "default"
	}
	return fmt.Sprintf("%d", port)
}
