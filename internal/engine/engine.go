// Package engine sequences the measurement run: baseline latency,
// then upload and download throughput with a companion load-latency
// probe, with privilege-escalation and port-fallback retries. One
// goroutine drives everything; concurrency exists only between a
// throughput probe and its companion load probe.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/elevate"
	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/parse"
	"github.com/HerbHall/pathvantage/internal/probe"
	"github.com/HerbHall/pathvantage/internal/scorecard"
	"github.com/HerbHall/pathvantage/internal/target"
)

// Config carries the probe parameters for one program run.
type Config struct {
	Count    int           // latency probes per report
	Interval time.Duration // latency probe spacing

	Transport     probe.Transport
	TransportPort int // destination port for UDP/TCP transport

	Throughput     bool
	Ports          []int // candidate server ports; empty = tool default
	Duration       time.Duration
	Streams        int
	ConnectTimeout time.Duration
}

// LatencyProber runs one blocking path-latency probe. Implemented by
// the external tracer and by the builtin fallback.
type LatencyProber interface {
	Probe(ctx context.Context, spec probe.LatencySpec) metric.LatencyMetrics
}

// LoadProber runs the concurrent load-latency probe that accompanies
// a throughput test. Start is best-effort: a nil handle means the
// companion probe could not start, which never aborts the throughput
// attempt.
type LoadProber interface {
	Start(ctx context.Context, spec probe.LatencySpec) LoadHandle
}

// LoadHandle is one in-flight load probe.
type LoadHandle interface {
	// Finish waits for the probe, bounded by maxWait, and returns its
	// normalised metrics.
	Finish(maxWait time.Duration) metric.LatencyMetrics
	// Cancel terminates the probe early and discards its output.
	Cancel()
}

// ThroughputRunner executes one throughput tool invocation. The seam
// exists so the fallback controller can be tested without spawning
// processes.
type ThroughputRunner interface {
	Run(ctx context.Context, spec probe.ThroughputSpec) (output []byte, exitCode int, err error)
}

// SupervisedThroughput is the production ThroughputRunner: it runs
// the external tool under the supervisor and logs every attempt.
type SupervisedThroughput struct {
	Tool   string
	Sup    *probe.Supervisor
	RunLog RunLog
}

func (s *SupervisedThroughput) Run(ctx context.Context, spec probe.ThroughputSpec) ([]byte, int, error) {
	argv := spec.Argv(s.Tool)
	out, code, err := s.Sup.Run(ctx, argv)
	s.RunLog.Attempt(argv, out)
	return out, code, err
}

// Sink receives per-run output as it is produced.
type Sink interface {
	RunCompleted(r *metric.RunResult)
	TargetSkipped(input string, err error)
}

// RunLog is the append-only diagnostic log of every probe attempt.
type RunLog interface {
	Attempt(argv []string, output []byte)
}

// Engine owns the orchestration state for one program run.
type Engine struct {
	cfg    Config
	bw     ThroughputRunner
	lat    LatencyProber
	load   LoadProber
	board  *scorecard.Board
	sink   Sink
	logger *zap.Logger
}

func New(cfg Config, bw ThroughputRunner, lat LatencyProber, load LoadProber,
	sink Sink, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		bw:     bw,
		lat:    lat,
		load:   load,
		board:  scorecard.New(),
		sink:   sink,
		logger: logger,
	}
}

// Board exposes the scorecard for final rendering.
func (e *Engine) Board() *scorecard.Board { return e.board }

// ExternalTracer is the LatencyProber backed by the external path
// tracer, with the one-shot privilege escalation retry folded in.
type ExternalTracer struct {
	Tool   string
	Sup    *probe.Supervisor
	Esc    *elevate.Controller
	RunLog RunLog
	Logger *zap.Logger
}

func (t *ExternalTracer) Probe(ctx context.Context, spec probe.LatencySpec) metric.LatencyMetrics {
	spec.JSON = true
	spec.Elevated = t.Esc.Active()

	out, _, err := t.Sup.Run(ctx, spec.Argv(t.Tool))
	t.RunLog.Attempt(spec.Argv(t.Tool), out)
	if err != nil {
		return metric.LatencyMetrics{Reason: "probe failed to start: " + err.Error()}
	}

	m := parse.Latency(out, spec.Target)

	// A permission-class failure gets exactly one elevated retry per
	// program run; the controller refuses repeats.
	if class, _ := parse.Classify(string(out)); class == parse.FailurePermission {
		if t.Esc.HandleFailure(ctx, class) {
			spec.Elevated = true
			out, _, err = t.Sup.Run(ctx, spec.Argv(t.Tool))
			t.RunLog.Attempt(spec.Argv(t.Tool), out)
			if err == nil {
				m = parse.Latency(out, spec.Target)
			}
		}
	}
	return m
}

// ExternalLoadProber starts the external tracer as a background
// companion to a throughput test.
type ExternalLoadProber struct {
	Tool   string
	Sup    *probe.Supervisor
	Esc    *elevate.Controller
	RunLog RunLog
	Logger *zap.Logger
}

func (p *ExternalLoadProber) Start(ctx context.Context, spec probe.LatencySpec) LoadHandle {
	spec.JSON = true
	spec.Elevated = p.Esc.Active()

	argv := spec.Argv(p.Tool)
	h, err := p.Sup.Start(ctx, argv)
	if err != nil {
		p.Logger.Debug("load probe failed to start", zap.Error(err))
		return nil
	}
	return &externalLoadHandle{h: h, argv: argv, target: spec.Target, runlog: p.RunLog}
}

type externalLoadHandle struct {
	h      *probe.Handle
	argv   []string
	target string
	runlog RunLog
}

func (l *externalLoadHandle) Finish(maxWait time.Duration) metric.LatencyMetrics {
	out, _, err := l.h.WaitTimeout(maxWait)
	l.runlog.Attempt(l.argv, out)
	if err != nil {
		return metric.LatencyMetrics{Reason: "load probe failed: " + err.Error()}
	}
	return parse.Latency(out, l.target)
}

func (l *externalLoadHandle) Cancel() {
	l.h.Terminate()
	out, _, _ := l.h.Wait()
	l.runlog.Attempt(l.argv, out)
}

// latencySpec builds the tracer spec for the given target and source
// binding from the engine config.
func (e *Engine) latencySpec(t target.Target, source string) probe.LatencySpec {
	return probe.LatencySpec{
		Target:    t.Addr,
		Count:     e.cfg.Count,
		Interval:  e.cfg.Interval,
		Transport: e.cfg.Transport,
		Port:      e.cfg.TransportPort,
		Source:    source,
	}
}
