package report

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// RunLog is the append-only diagnostic log: one entry per probe
// attempt with the exact invocation and raw output, including failed
// port-fallback attempts. A nil *RunLog is a valid no-op sink.
type RunLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenRunLog appends to the file at path, creating it when missing.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %q: %w", path, err)
	}
	return &RunLog{f: f}, nil
}

// Attempt records one probe invocation and its raw output.
func (l *RunLog) Attempt(argv []string, output []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.f, "--- %s\n$ %s\n", time.Now().Format(time.RFC3339), strings.Join(argv, " "))
	l.f.Write(output)
	if len(output) == 0 || output[len(output)-1] != '\n' {
		fmt.Fprintln(l.f)
	}
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
