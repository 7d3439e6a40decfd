// Package probe spawns and supervises the external measurement tools.
// Every process runs in its own group so a probe's own children (the
// tracer forks a packet helper) die with it, and every live process
// is registered so an interrupt at any point can tear down the whole
// set before the program exits. Probe output is spooled through a
// tracked temporary file so a force-killed probe's partial output is
// still readable for the run log; the spool files of the current run
// are removed on every exit path.
package probe

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// termGrace is how long a process group gets between the graceful
// signal and the forced kill.
const termGrace = 2 * time.Second

// Handle tracks one supervised process from start to confirmed exit.
type Handle struct {
	cmd       *exec.Cmd
	spool     *os.File
	spoolPath string
	done      chan struct{}

	collectOnce sync.Once
	output      []byte
	waitErr     error

	sup *Supervisor
	id  uint64
}

// Supervisor owns the registry of live probe processes and the
// temporary files of the current run. Both are released on every
// control path via Shutdown.
type Supervisor struct {
	logger *zap.Logger

	mu     sync.Mutex
	procs  map[uint64]*Handle
	temps  map[string]struct{}
	nextID uint64
}

func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		logger: logger,
		procs:  make(map[uint64]*Handle),
		temps:  make(map[string]struct{}),
	}
}

// Start launches argv as a background process in its own group and
// registers it. The returned handle must be waited on or terminated.
func (s *Supervisor) Start(ctx context.Context, argv []string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	setProcessGroup(cmd)

	spool, err := os.CreateTemp("", "pathvantage-probe-*.out")
	if err != nil {
		return nil, err
	}
	s.TrackTemp(spool.Name())

	h := &Handle{cmd: cmd, spool: spool, spoolPath: spool.Name(), done: make(chan struct{}), sup: s}
	cmd.Stdout = spool
	cmd.Stderr = spool

	if err := cmd.Start(); err != nil {
		spool.Close()
		s.removeTemp(spool.Name())
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	h.id = s.nextID
	s.procs[h.id] = h
	s.mu.Unlock()

	s.logger.Debug("probe started",
		zap.Strings("argv", argv),
		zap.Int("pid", cmd.Process.Pid),
	)

	go func() {
		h.waitErr = cmd.Wait()
		s.unregister(h)
		close(h.done)
	}()

	// Cancellation watcher: a context cancel at any suspension point
	// tears the process group down before the caller's Wait returns.
	go func() {
		select {
		case <-ctx.Done():
			h.Terminate()
		case <-h.done:
		}
	}()

	return h, nil
}

// Run launches argv in the foreground: it blocks until the process
// exits or the context is cancelled. The combined output and exit
// code are returned even on non-zero exit; err is reserved for
// spawn-level failures (tool missing, fork failure) and cancellation.
func (s *Supervisor) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	h, err := s.Start(ctx, argv)
	if err != nil {
		return nil, -1, err
	}
	out, code, werr := h.Wait()
	if ctx.Err() != nil {
		return out, code, ctx.Err()
	}
	return out, code, werr
}

// Wait blocks until the process has exited and returns its combined
// output and exit code. A non-zero exit is not an error. The spool
// file is released on the first Wait.
func (h *Handle) Wait() ([]byte, int, error) {
	<-h.done
	return h.collect(), h.exitCode(), h.spawnError()
}

// WaitTimeout waits up to d for the process to exit on its own, then
// terminates it. Used for the companion load probe, which is bounded
// by its own count*interval and must not hang the run.
func (h *Handle) WaitTimeout(d time.Duration) ([]byte, int, error) {
	select {
	case <-h.done:
	case <-time.After(d):
		h.Terminate()
		<-h.done
	}
	return h.collect(), h.exitCode(), h.spawnError()
}

// collect reads and removes the spool file exactly once; late callers
// get the cached bytes. Unconsumed spools are swept by Shutdown.
func (h *Handle) collect() []byte {
	h.collectOnce.Do(func() {
		h.spool.Close()
		b, err := os.ReadFile(h.spoolPath)
		if err != nil {
			h.sup.logger.Debug("spool read failed",
				zap.String("path", h.spoolPath), zap.Error(err))
		}
		h.output = b
		h.sup.removeTemp(h.spoolPath)
	})
	return h.output
}

// Terminate stops the process group in two phases: graceful signal,
// grace period, forced kill. Safe to call multiple times and after
// exit; a finished process is already unregistered and never
// re-signalled.
func (h *Handle) Terminate() {
	select {
	case <-h.done:
		return
	default:
	}

	pid := h.cmd.Process.Pid
	signalGroup(pid, false)

	select {
	case <-h.done:
		return
	case <-time.After(termGrace):
	}

	signalGroup(pid, true)
	h.sup.logger.Debug("probe force-killed", zap.Int("pid", pid))
}

func (h *Handle) exitCode() int {
	var exit *exec.ExitError
	if errors.As(h.waitErr, &exit) {
		return exit.ExitCode()
	}
	if h.waitErr != nil {
		return -1
	}
	return 0
}

func (h *Handle) spawnError() error {
	var exit *exec.ExitError
	if h.waitErr == nil || errors.As(h.waitErr, &exit) {
		return nil
	}
	return h.waitErr
}

func (s *Supervisor) unregister(h *Handle) {
	s.mu.Lock()
	delete(s.procs, h.id)
	s.mu.Unlock()
}

// TrackTemp registers a temporary file for removal at shutdown. Start
// registers its output spool here; the run's other scratch artifacts
// can use it too.
func (s *Supervisor) TrackTemp(path string) {
	s.mu.Lock()
	s.temps[path] = struct{}{}
	s.mu.Unlock()
}

// removeTemp deletes one tracked file and drops its registration.
func (s *Supervisor) removeTemp(path string) {
	s.mu.Lock()
	delete(s.temps, path)
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("temp file cleanup failed", zap.String("path", path), zap.Error(err))
	}
}

// Shutdown terminates every registered process and removes every
// tracked temporary file. Called on normal exit, on error, and from
// the interrupt handler.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	live := make([]*Handle, 0, len(s.procs))
	for _, h := range s.procs {
		live = append(live, h)
	}
	temps := make([]string, 0, len(s.temps))
	for p := range s.temps {
		temps = append(temps, p)
	}
	s.mu.Unlock()

	for _, h := range live {
		h.Terminate()
	}
	for _, p := range temps {
		s.removeTemp(p)
	}
}
