package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xvanov/clipforge-sub000/internal/logging"
)

const (
	maxStderrBytes   = 8 * 1024 // tail of stderr kept for diagnostics
	defaultKillGrace = 3 * time.Second
)

// Runner executes encoder invocations.
type Runner struct {
	// StallTimeout kills the encoder when its output position has not
	// advanced for this long. Zero disables the watchdog.
	StallTimeout time.Duration
	// KillGrace is how long the process group gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
	Logger    *slog.Logger
}

func NewRunner(stallTimeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		StallTimeout: stallTimeout,
		KillGrace:    defaultKillGrace,
		Logger:       logging.WithComponent(logging.OrDiscard(logger), "encoder"),
	}
}

// Run starts inv and blocks until the process has exited and its output
// streams are drained. Parsed progress is sent on progress (which may be nil);
// sends stop once ctx is done.
//
// When ctx is cancelled the process group is terminated and reaped before Run
// returns ctx.Err(). A nonzero exit, a failed start or a stall yields an
// *ExternalToolError.
func (r *Runner) Run(ctx context.Context, inv Invocation, progress chan<- Progress) (Result, error) {
	logger := logging.OrDiscard(r.Logger)
	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd := exec.Command(inv.Program, inv.Argv()...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, &ExternalToolError{Program: inv.Program, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, &ExternalToolError{Program: inv.Program, ExitCode: -1, Err: err}
	}

	logger.Info("starting encoder",
		"program", inv.Program,
		"video_encoder", inv.VideoEncoder,
		"output", logging.SanitizePath(inv.OutputPath),
		"total_s", inv.TotalDuration.Seconds(),
	)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)},
			&ExternalToolError{Program: inv.Program, ExitCode: -1, Err: err}
	}

	finished := make(chan struct{})
	defer close(finished)

	var tail bytes.Buffer
	tailWriter := &limitedWriter{w: &tail, limit: maxStderrBytes}
	heartbeat := make(chan struct{}, 1)

	// one parser is shared by stdout (-progress) and stderr (stats lines)
	var mu sync.Mutex
	parser := NewProgressParser(inv.TotalDuration, inv.OutputFPS)
	var last Progress

	feed := func(line string) {
		mu.Lock()
		rec, ok := parser.Feed(line)
		advanced := ok && (rec.Elapsed > last.Elapsed || rec.CurrentFrame > last.CurrentFrame)
		if ok {
			last = rec
		}
		mu.Unlock()
		if !ok {
			return
		}
		if advanced {
			select {
			case heartbeat <- struct{}{}:
			default:
			}
		}
		if progress != nil {
			select {
			case progress <- rec:
			case <-ctx.Done():
			}
		}
	}

	var readers errgroup.Group
	readers.Go(func() error {
		return scanLines(stdout, nil, feed)
	})
	readers.Go(func() error {
		return scanLines(stderr, tailWriter, feed)
	})

	waitCh := make(chan error, 1)
	go func() {
		if err := readers.Wait(); err != nil {
			logger.Debug("encoder stream read error", "error", err)
		}
		waitCh <- cmd.Wait()
	}()

	stalled := make(chan struct{})
	if r.StallTimeout > 0 {
		go watchStall(r.StallTimeout, heartbeat, stalled, finished)
	}

	var waitErr, cause error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		cause = ctx.Err()
		logger.Info("cancelling encoder", "pid", cmd.Process.Pid)
		waitErr = terminate(cmd, waitCh, grace)
	case <-stalled:
		cause = fmt.Errorf("%w for %s", ErrStalled, r.StallTimeout)
		logger.Warn("encoder stalled, killing", "pid", cmd.Process.Pid, "stall_timeout", r.StallTimeout)
		waitErr = terminate(cmd, waitCh, grace)
	}

	res := Result{
		ExitCode:   exitCode(waitErr),
		StderrTail: tailWriter.String(),
		Duration:   time.Since(start),
	}

	switch {
	case cause != nil && errors.Is(cause, ErrStalled):
		return res, &ExternalToolError{Program: inv.Program, ExitCode: res.ExitCode, Stderr: res.StderrTail, Err: cause}
	case cause != nil:
		return res, cause
	case res.ExitCode != 0:
		logger.Warn("encoder failed",
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
		)
		return res, &ExternalToolError{Program: inv.Program, ExitCode: res.ExitCode, Stderr: res.StderrTail}
	}

	logger.Info("encoder finished", "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// terminate sends SIGTERM to the process group, escalates to SIGKILL after
// grace, and always drains waitCh so the process is reaped.
func terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	_ = interruptGroup(cmd)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		_ = killGroup(cmd)
		return <-waitCh
	}
}

func watchStall(timeout time.Duration, heartbeat <-chan struct{}, stalled chan<- struct{}, finished <-chan struct{}) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-heartbeat:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			close(stalled)
			return
		case <-finished:
			return
		}
	}
}

// scanLines splits on both \n and \r; ffmpeg rewrites its stats line with
// carriage returns.
func scanLines(r io.Reader, tee io.Writer, fn func(string)) error {
	if tee != nil {
		r = io.TeeReader(r, tee)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanCRLF)
	for sc.Scan() {
		fn(sc.Text())
	}
	return sc.Err()
}

func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it. It is safe for
// concurrent use.
type limitedWriter struct {
	mu    sync.Mutex
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		keep := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(keep)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.String()
}
