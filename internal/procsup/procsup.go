// Package procsup is the single place every child process the core spawns
// (transcoder, recorder) goes through: start, watch its stderr for
// diagnostics, and stop it gracefully before killing it (SPEC_FULL §9
// design note). Grounded on the teacher's internal/platform exec-wrapping
// style and on the pack's internal/infra/ffmpeg.Executor/handle and
// internal/procgroup (ManuGH-xg2g), which supplies this package's
// spawn/watch/stop shape directly.
package procsup

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camdeck/core/internal/corerr"
)

// GraceWindow is the delay between a graceful stop signal and a forced
// kill (SPEC_FULL §4.F: graceful stop, then kill after a 2 s grace).
const GraceWindow = 2 * time.Second

const ringBufferSize = 200

// Spawn starts binary with args and begins watching its output. The
// returned Handle is live immediately; callers must eventually call
// Wait() or Stop() to avoid leaking the monitor goroutine.
func Spawn(ctx context.Context, binary string, args []string, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// The child's lifetime is governed by Stop, not by ctx: callers pass
	// request-scoped contexts that end as soon as the start call returns.
	cmd := exec.Command(binary, args...)
	setProcAttr(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, corerr.New(corerr.Internal, "procsup.Spawn", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, corerr.New(corerr.ProcessFailed, "procsup.Spawn", err)
	}

	h := &Handle{
		cmd:    cmd,
		log:    log,
		exited: make(chan struct{}),
		ring:   newRingBuffer(ringBufferSize),
	}
	go h.watch(stderr)

	return h, nil
}

// Handle is a running (or finished) child process.
type Handle struct {
	cmd    *exec.Cmd
	log    *zap.Logger
	exited chan struct{} // closed once, after waitErr is set
	waitErr error
	ring   *ringBuffer
	mu     sync.Mutex
}

// Wait blocks until the process exits and returns its terminal error, if
// any. Safe to call any number of times, including concurrently.
func (h *Handle) Wait() error {
	<-h.exited
	return h.waitErr
}

// Stop signals the process to exit gracefully, waiting up to GraceWindow
// before forcing termination. It always waits for the process to actually
// exit before returning.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.cmd.Process == nil {
		h.mu.Unlock()
		return nil
	}
	if err := signalGraceful(h.cmd); err != nil {
		h.log.Debug("graceful stop signal failed, proceeding to forced kill", zap.Error(err))
	}
	h.mu.Unlock()

	select {
	case <-h.exited:
		return h.waitErr
	case <-time.After(GraceWindow):
	}

	h.log.Warn("process did not exit within grace window, killing")
	h.mu.Lock()
	if err := killForced(h.cmd); err != nil {
		h.log.Debug("forced kill failed", zap.Error(err))
	}
	h.mu.Unlock()

	<-h.exited
	return h.waitErr
}

// PID returns the child's process ID, or 0 if it never started.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Diagnostics returns the last lines of stderr the process produced.
func (h *Handle) Diagnostics() []string {
	return h.ring.all()
}

func (h *Handle) watch(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		h.ring.add(line)
		if strings.Contains(line, "error") || strings.Contains(line, "Error") {
			h.log.Debug("child stderr", zap.String("line", line))
		}
	}
	h.waitErr = h.cmd.Wait()
	close(h.exited)
}

type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{lines: make([]string, size)}
}

func (r *ringBuffer) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *ringBuffer) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.pos)
		copy(out, r.lines[:r.pos])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.pos:]...)
	out = append(out, r.lines[:r.pos]...)
	return out
}
