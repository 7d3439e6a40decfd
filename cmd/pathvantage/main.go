// Command pathvantage compares end-to-end link quality across targets
// and egress interfaces: hop-by-hop latency, upload/download
// throughput, and latency under load, summarised in a cross-target
// scorecard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/config"
	"github.com/HerbHall/pathvantage/internal/elevate"
	"github.com/HerbHall/pathvantage/internal/engine"
	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/probe"
	"github.com/HerbHall/pathvantage/internal/report"
	"github.com/HerbHall/pathvantage/internal/server"
	"github.com/HerbHall/pathvantage/internal/store"
	"github.com/HerbHall/pathvantage/internal/target"
	"github.com/HerbHall/pathvantage/internal/trace"
	"github.com/HerbHall/pathvantage/internal/version"
)

const (
	tracerTool     = "mtr"
	throughputTool = "iperf3"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to configuration file")
		targetsFile = flag.String("targets", "", "YAML target list file")
		ifaceList   = flag.String("iface", "", "comma-separated egress interfaces to compare")
		portSpec    = flag.String("ports", "", "throughput server ports: int, start-end range, or comma list")
		count       = flag.Int("count", config.DefaultCount, "latency probes per report")
		interval    = flag.Duration("interval", config.DefaultInterval, "latency probe interval")
		transport   = flag.String("transport", "icmp", "latency probe transport: icmp, udp, or tcp")
		tPort       = flag.Int("transport-port", 0, "destination port for udp/tcp latency probes")
		noSpeed     = flag.Bool("no-throughput", false, "skip throughput testing")
		duration    = flag.Duration("duration", config.DefaultDuration, "throughput test duration")
		streams     = flag.Int("streams", config.DefaultStreams, "parallel throughput streams")
		connTO      = flag.Duration("connect-timeout", config.DefaultConnectTimeout, "throughput connect timeout")
		elevateMode = flag.String("elevate", "auto", "privilege escalation: auto, always, or never")
		logFile     = flag.String("log", "", "append-only run log file")
		historyPath = flag.String("history", "", "SQLite run history database")
		watchEvery  = flag.Duration("watch", 0, "repeat the run at this interval and serve status/metrics")
		listenAddr  = flag.String("listen", "", "watch-mode listen address")
		verbose     = flag.Bool("verbose", false, "debug logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfgSource, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := options{
		count:          *count,
		interval:       *interval,
		transport:      *transport,
		transportPort:  *tPort,
		throughput:     !*noSpeed,
		duration:       *duration,
		streams:        *streams,
		connectTimeout: *connTO,
		elevate:        *elevateMode,
		logFile:        *logFile,
		historyPath:    *historyPath,
		watchEvery:     *watchEvery,
		listenAddr:     *listenAddr,
	}
	opts.mergeConfig(cfgSource, set)

	inputs, err := collectTargets(flag.Args(), *targetsFile)
	if err != nil {
		logger.Fatal("invalid target list", zap.Error(err))
	}

	ports, err := config.ParsePorts(*portSpec)
	if err != nil {
		logger.Fatal("invalid port specification", zap.Error(err))
	}

	tp, err := parseTransport(opts.transport)
	if err != nil {
		logger.Fatal("invalid transport", zap.Error(err))
	}

	mode, err := parseElevation(opts.elevate)
	if err != nil {
		logger.Fatal("invalid elevation mode", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := probe.NewSupervisor(logger)
	defer sup.Shutdown()

	esc := elevate.New(mode, logger)
	esc.Startup(ctx)
	defer esc.Stop()

	var runlog *report.RunLog
	if opts.logFile != "" {
		runlog, err = report.OpenRunLog(opts.logFile)
		if err != nil {
			logger.Fatal("cannot open run log", zap.Error(err))
		}
		defer runlog.Close()
	}

	// Tool discovery. Missing tools degrade: the builtin tracer and
	// pinger stand in for mtr, a missing iperf3 disables throughput.
	tracer := version.Discover(ctx, tracerTool)
	bw := version.Discover(ctx, throughputTool)
	if tracer.Found() && !tracer.Supported(version.MinTracerVersion) {
		logger.Warn("path tracer older than supported minimum",
			zap.String("found", tracer.Version),
			zap.String("minimum", version.MinTracerVersion))
	}
	if bw.Found() && !bw.Supported(version.MinThroughputVersion) {
		logger.Warn("throughput tool older than supported minimum",
			zap.String("found", bw.Version),
			zap.String("minimum", version.MinThroughputVersion))
	}

	var lat engine.LatencyProber
	var load engine.LoadProber
	if tracer.Found() {
		lat = &engine.ExternalTracer{Tool: tracer.Path, Sup: sup, Esc: esc, RunLog: runlog, Logger: logger}
		load = &engine.ExternalLoadProber{Tool: tracer.Path, Sup: sup, Esc: esc, RunLog: runlog, Logger: logger}
	} else {
		logger.Warn("path tracer not found; using builtin ICMP tracer", zap.String("tool", tracerTool))
		lat = &trace.Tracer{Logger: logger}
		load = &trace.LoadPinger{Logger: logger}
	}

	throughput := opts.throughput
	if throughput && !bw.Found() {
		logger.Warn("throughput tool not found; skipping throughput tests", zap.String("tool", throughputTool))
		throughput = false
	}

	cfg := engine.Config{
		Count:          opts.count,
		Interval:       opts.interval,
		Transport:      tp,
		TransportPort:  opts.transportPort,
		Throughput:     throughput,
		Ports:          ports,
		Duration:       opts.duration,
		Streams:        opts.streams,
		ConnectTimeout: opts.connectTimeout,
	}

	reporter := report.New(os.Stdout, logger)
	sink := &multiSink{reporter: reporter}

	if opts.historyPath != "" {
		hist, err := store.Open(opts.historyPath)
		if err != nil {
			logger.Fatal("cannot open history database", zap.Error(err))
		}
		defer hist.Close()
		sink.history = hist
		sink.logger = logger
	}

	bwRunner := &engine.SupervisedThroughput{Tool: bw.Path, Sup: sup, RunLog: runlog}
	eng := engine.New(cfg, bwRunner, lat, load, sink, logger)
	ifaces := parseIfaces(*ifaceList)

	if opts.watchEvery > 0 {
		runWatch(ctx, eng, sink, inputs, ifaces, opts.watchEvery, opts.listenAddr, logger)
	} else if err := eng.RunAll(ctx, inputs, ifaces); err != nil {
		if ctx.Err() != nil {
			logger.Warn("interrupted; partial results for the in-flight target were discarded")
		} else {
			logger.Fatal("run failed", zap.Error(err))
		}
	}

	reporter.RenderScorecard(eng.Board())
}

// runWatch repeats the measurement run until interrupted, exposing
// status and Prometheus metrics in the meantime.
func runWatch(ctx context.Context, eng *engine.Engine, sink *multiSink,
	inputs []engine.Input, ifaces []target.Iface,
	every time.Duration, addr string, logger *zap.Logger) {
	srv := server.New(addr, logger)
	sink.observer = srv

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("watch endpoint failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("watch endpoint shutdown error", zap.Error(err))
		}
	}()

	for {
		if err := eng.RunAll(ctx, inputs, ifaces); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("watch cycle failed", zap.Error(err))
		}
		srv.CycleCompleted()

		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
		}
	}
}

// options are the effective run parameters after merging the command
// line with the config file.
type options struct {
	count          int
	interval       time.Duration
	transport      string
	transportPort  int
	throughput     bool
	duration       time.Duration
	streams        int
	connectTimeout time.Duration
	elevate        string
	logFile        string
	historyPath    string
	watchEvery     time.Duration
	listenAddr     string
}

// mergeConfig fills in config-file and environment values for every
// flag the user did not set explicitly; set holds the flag names that
// appeared on the command line, which always win.
func (o *options) mergeConfig(v *viper.Viper, set map[string]bool) {
	if !set["count"] {
		o.count = v.GetInt("probe.count")
	}
	if !set["interval"] {
		o.interval = v.GetDuration("probe.interval")
	}
	if !set["transport"] {
		o.transport = v.GetString("probe.transport")
	}
	if !set["transport-port"] {
		o.transportPort = v.GetInt("probe.port")
	}
	if !set["no-throughput"] {
		o.throughput = v.GetBool("throughput.enabled")
	}
	if !set["duration"] {
		o.duration = v.GetDuration("throughput.duration")
	}
	if !set["streams"] {
		o.streams = v.GetInt("throughput.streams")
	}
	if !set["connect-timeout"] {
		o.connectTimeout = v.GetDuration("throughput.connect_timeout")
	}
	if !set["elevate"] {
		o.elevate = v.GetString("elevation.mode")
	}
	if !set["watch"] {
		o.watchEvery = v.GetDuration("watch.interval")
	}
	if o.logFile == "" {
		o.logFile = v.GetString("log.file")
	}
	if o.historyPath == "" {
		o.historyPath = v.GetString("history.path")
	}
	if o.listenAddr == "" {
		o.listenAddr = v.GetString("watch.listen")
	}
}

// multiSink fans per-run results out to the reporter and the optional
// history store and watch server.
type multiSink struct {
	reporter *report.Reporter
	history  *store.HistoryStore
	observer *server.Server
	logger   *zap.Logger
}

func (s *multiSink) RunCompleted(r *metric.RunResult) {
	s.reporter.RunCompleted(r)
	if s.history != nil {
		if err := s.history.Record(context.Background(), r); err != nil {
			s.logger.Warn("history write failed", zap.Error(err))
		}
	}
	if s.observer != nil {
		s.observer.Observe(r)
	}
}

func (s *multiSink) TargetSkipped(input string, err error) {
	s.reporter.TargetSkipped(input, err)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func collectTargets(args []string, file string) ([]engine.Input, error) {
	var inputs []engine.Input
	for _, a := range args {
		inputs = append(inputs, engine.Input{Value: a})
	}
	if file != "" {
		entries, err := config.LoadTargets(file)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			inputs = append(inputs, engine.Input{Value: e.Target, Note: e.Note})
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no targets given; pass them as arguments or via -targets")
	}
	return inputs, nil
}

func parseIfaces(list string) []target.Iface {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	var ifaces []target.Iface
	for _, d := range strings.Split(list, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			ifaces = append(ifaces, target.Iface{Device: d})
		}
	}
	return ifaces
}

func parseTransport(s string) (probe.Transport, error) {
	switch strings.ToLower(s) {
	case "icmp":
		return probe.TransportICMP, nil
	case "udp":
		return probe.TransportUDP, nil
	case "tcp":
		return probe.TransportTCP, nil
	}
	return "", fmt.Errorf("unknown transport %q (want icmp, udp, or tcp)", s)
}

func parseElevation(s string) (elevate.Mode, error) {
	switch strings.ToLower(s) {
	case "auto":
		return elevate.ModeAuto, nil
	case "always":
		return elevate.ModeAlways, nil
	case "never":
		return elevate.ModeNever, nil
	}
	return 0, fmt.Errorf("unknown elevation mode %q (want auto, always, or never)", s)
}
