package trace

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/engine"
	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/probe"
)

// LoadPinger is the builtin LoadProber: a pro-bing pinger that runs
// alongside a throughput test when the external tracer is absent.
type LoadPinger struct {
	Logger *zap.Logger
}

// Start launches the pinger in the background. A construction failure
// returns nil; the companion probe is best-effort by contract.
func (p *LoadPinger) Start(ctx context.Context, spec probe.LatencySpec) engine.LoadHandle {
	pinger, err := probing.NewPinger(spec.Target)
	if err != nil {
		p.Logger.Debug("load pinger unavailable", zap.Error(err))
		return nil
	}

	pinger.Count = spec.Count
	pinger.Interval = spec.Interval
	pinger.Timeout = spec.Duration()
	pinger.SetPrivileged(runtime.GOOS == "windows")

	h := &pingHandle{
		pinger:   pinger,
		done:     make(chan error, 1),
		finished: make(chan struct{}),
	}
	go func() {
		h.done <- pinger.Run()
	}()

	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-h.finished:
		}
	}()

	return h
}

type pingHandle struct {
	pinger   *probing.Pinger
	done     chan error
	finished chan struct{}
}

func (h *pingHandle) Finish(maxWait time.Duration) metric.LatencyMetrics {
	var runErr error
	select {
	case runErr = <-h.done:
	case <-time.After(maxWait):
		h.pinger.Stop()
		runErr = <-h.done
	}
	defer h.close()

	stats := h.pinger.Statistics()
	var m metric.LatencyMetrics
	m.Sent = stats.PacketsSent

	if runErr != nil {
		m.Reason = "load probe failed: " + runErr.Error()
		m.Loss = metric.Some(100)
		m.Collapse()
		return m
	}

	m.Loss = metric.Some(stats.PacketLoss)
	m.DestinationReached = stats.PacketsRecv > 0
	if stats.PacketsRecv > 0 {
		m.Best = metric.Some(float64(stats.MinRtt) / float64(time.Millisecond))
		m.Avg = metric.Some(float64(stats.AvgRtt) / float64(time.Millisecond))
		m.Worst = metric.Some(float64(stats.MaxRtt) / float64(time.Millisecond))
		m.Jitter = metric.Some(float64(stats.StdDevRtt) / float64(time.Millisecond))
	} else {
		m.Reason = "all load probes lost"
	}
	m.Collapse()
	return m
}

func (h *pingHandle) Cancel() {
	h.pinger.Stop()
	<-h.done
	h.close()
}

func (h *pingHandle) close() {
	select {
	case <-h.finished:
	default:
		close(h.finished)
	}
}
