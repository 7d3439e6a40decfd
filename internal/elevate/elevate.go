// Package elevate manages the one-shot privilege escalation used when
// a probe fails with a permission-class error. Escalation is offered
// at most once per program run; once granted, a keepalive refreshes
// the cached credential until Stop.
package elevate

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/pathvantage/internal/parse"
)

// Mode selects how the controller reacts to permission failures.
type Mode int

const (
	// ModeAuto escalates once, on the first classified permission
	// failure.
	ModeAuto Mode = iota
	// ModeAlways escalates up front and never waits for a failure.
	ModeAlways
	// ModeNever disables escalation; permission failures are reported
	// as classified errors.
	ModeNever
)

// state is the controller's escalation progress.
type state int

const (
	stateUnprivileged state = iota
	stateRequested
	stateEscalatedOnce
)

// refreshEvery is how often the credential cache is revalidated.
// Shorter than the usual sudo timestamp timeout.
const refreshEvery = 50 * time.Second

// Authenticator abstracts the privilege prompt so tests never touch
// sudo. Validate prompts interactively; Refresh revalidates the
// cached credential without prompting.
type Authenticator interface {
	Validate(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// sudoAuth validates against sudo with the terminal attached. When no
// interactive terminal is available sudo itself fails, which the
// controller records as a denial.
type sudoAuth struct{}

func (sudoAuth) Validate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sudo", "-v")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (sudoAuth) Refresh(ctx context.Context) error {
	return exec.CommandContext(ctx, "sudo", "-n", "-v").Run()
}

// Controller is the escalation state machine.
type Controller struct {
	mode   Mode
	auth   Authenticator
	logger *zap.Logger

	mu      sync.Mutex
	state   state
	granted bool

	stopKeepalive context.CancelFunc
	keepaliveDone chan struct{}
}

func New(mode Mode, logger *zap.Logger) *Controller {
	return &Controller{mode: mode, auth: sudoAuth{}, logger: logger}
}

// NewWithAuth is the test constructor.
func NewWithAuth(mode Mode, auth Authenticator, logger *zap.Logger) *Controller {
	return &Controller{mode: mode, auth: auth, logger: logger}
}

// Startup performs the up-front escalation for ModeAlways. For the
// other modes it is a no-op.
func (c *Controller) Startup(ctx context.Context) {
	if c.mode != ModeAlways {
		return
	}
	c.request(ctx)
}

// Active reports whether probe invocations should carry the elevated
// prefix.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.granted
}

// HandleFailure is called with the classified failure of a probe
// attempt. It returns true when the caller should retry the same
// invocation elevated. Only a permission-class failure can trigger
// the prompt, and only the first one ever does.
func (c *Controller) HandleFailure(ctx context.Context, class parse.FailureClass) bool {
	if class != parse.FailurePermission || c.mode == ModeNever {
		return false
	}

	c.mu.Lock()
	switch c.state {
	case stateUnprivileged:
		c.state = stateRequested
		c.mu.Unlock()
		return c.request(ctx)
	default:
		granted := c.granted
		c.mu.Unlock()
		// Granted earlier: retry elevated without re-prompting.
		// Denied earlier: stay denied for the rest of the run.
		return granted
	}
}

func (c *Controller) request(ctx context.Context) bool {
	err := c.auth.Validate(ctx)

	c.mu.Lock()
	c.state = stateEscalatedOnce
	c.granted = err == nil
	granted := c.granted
	c.mu.Unlock()

	if !granted {
		c.logger.Warn("privilege escalation unavailable", zap.Error(err))
		return false
	}

	c.logger.Info("privilege escalation granted; keeping credential fresh")
	c.startKeepalive()
	return true
}

// startKeepalive refreshes the credential cache for the remainder of
// the run, paced by a limiter so overlapping calls can never pile up.
func (c *Controller) startKeepalive() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.stopKeepalive = cancel
	c.keepaliveDone = done
	c.mu.Unlock()

	limiter := rate.NewLimiter(rate.Every(refreshEvery), 1)
	go func() {
		defer close(done)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := c.auth.Refresh(ctx); err != nil {
				c.logger.Debug("credential refresh failed", zap.Error(err))
			}
		}
	}()
}

// Stop ends the keepalive. Safe to call when escalation never
// happened.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.stopKeepalive
	done := c.keepaliveDone
	c.stopKeepalive = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
