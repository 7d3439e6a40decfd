//go:build !windows

package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/pathvantage/internal/testutil"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())
	defer sup.Shutdown()

	out, code, err := sup.Run(context.Background(), []string{"sh", "-c", "echo probe output; exit 3"})
	if err != nil {
		t.Fatalf("unexpected spawn error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if !strings.Contains(string(out), "probe output") {
		t.Errorf("output = %q, want captured stdout", out)
	}
}

func TestRunMissingTool(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())
	defer sup.Shutdown()

	_, _, err := sup.Run(context.Background(), []string{"definitely-not-a-real-tool-xyz"})
	if err == nil {
		t.Fatal("missing tool must surface a spawn error")
	}
}

func TestCancellationTerminatesProcess(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	h, err := sup.Start(ctx, []string{"sleep", "60"})
	if err != nil {
		t.Fatal(err)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled process did not terminate")
	}
}

func TestWaitTimeoutKillsSlowProcess(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())
	defer sup.Shutdown()

	h, err := sup.Start(context.Background(), []string{"sleep", "60"})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	h.WaitTimeout(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Fatalf("bounded wait took %v", elapsed)
	}
}

func TestSpoolFileReleasedAfterWait(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())
	defer sup.Shutdown()

	h, err := sup.Start(context.Background(), []string{"sh", "-c", "echo spooled"})
	if err != nil {
		t.Fatal(err)
	}
	spool := h.spoolPath

	out, code, err := h.Wait()
	if err != nil || code != 0 {
		t.Fatalf("wait = (%d, %v)", code, err)
	}
	if !strings.Contains(string(out), "spooled") {
		t.Errorf("output = %q, want spooled stdout", out)
	}

	if _, err := os.Stat(spool); !os.IsNotExist(err) {
		t.Errorf("spool file %s still present after wait: %v", spool, err)
	}
	sup.mu.Lock()
	tracked := len(sup.temps)
	sup.mu.Unlock()
	if tracked != 0 {
		t.Errorf("%d temp files still tracked after wait", tracked)
	}
}

func TestShutdownRemovesTempFiles(t *testing.T) {
	sup := NewSupervisor(testutil.Logger())

	path := filepath.Join(t.TempDir(), "scratch.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	sup.TrackTemp(path)

	sup.Shutdown()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file still present after shutdown: %v", err)
	}
}
